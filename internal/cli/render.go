package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/fuseg/pkg/pipeline"
)

// renderOpts holds the command-line flags of the render command.
type renderOpts struct {
	formats     []string
	output      string
	detailed    bool
	showScalars bool
}

// renderCommand creates the render command for drawing a segmentation.
func (c *CLI) renderCommand() *cobra.Command {
	var flags segmentFlags
	var opts renderOpts

	cmd := &cobra.Command{
		Use:   "render <graph.json>",
		Short: "Draw the segmentation of a graph",
		Long: `Render segments a graph and draws the result. Each kernel becomes a
cluster of its expressions; values crossing kernels are drawn between them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			popts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			for _, f := range opts.formats {
				if err := pipeline.ValidateFormat(f); err != nil {
					return err
				}
			}
			if opts.output != "" && len(opts.formats) > 1 {
				return fmt.Errorf("--output needs a single format, got %s", strings.Join(opts.formats, ","))
			}

			runner, err := c.newRunner(ctx, &flags)
			if err != nil {
				return err
			}
			defer runner.Close()

			res, err := runner.SegmentFile(ctx, args[0], popts)
			if err != nil {
				return err
			}
			artifacts, err := pipeline.Render(res.Segmented, pipeline.RenderOptions{
				Formats:     opts.formats,
				Detailed:    opts.detailed,
				ShowScalars: opts.showScalars,
			})
			if err != nil {
				return err
			}

			printSuccess("Rendered %s", args[0])
			printStats(res.Stats.Groups, res.Stats.Edges, res.CacheHit)
			for _, format := range opts.formats {
				path := opts.output
				if path == "" {
					path = renderPath(args[0], format)
				}
				if err := os.WriteFile(path, artifacts[format], 0o644); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				printFile(path)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringSliceVarP(&opts.formats, "format", "f", []string{pipeline.FormatSVG}, "output formats: dot, svg, json")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (single format only)")
	cmd.Flags().BoolVar(&opts.detailed, "detailed", false, "label expressions with operator attributes")
	cmd.Flags().BoolVar(&opts.showScalars, "show-scalars", false, "draw scalar values")
	return cmd
}

// renderPath derives the output path for format: model.json becomes
// model.svg, model.dot or model.summary.json.
func renderPath(graphPath, format string) string {
	base := strings.TrimSuffix(graphPath, ".json")
	if format == pipeline.FormatJSON {
		return base + ".summary.json"
	}
	return base + "." + format
}
