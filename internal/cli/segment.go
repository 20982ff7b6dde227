package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matzehuels/fuseg/pkg/pipeline"
	"github.com/matzehuels/fuseg/pkg/segment"
)

// segmentsFile is the document written next to each segmented graph.
type segmentsFile struct {
	RunID     string          `json:"run_id"`
	GraphHash string          `json:"graph_hash"`
	CacheHit  bool            `json:"cache_hit"`
	Stats     pipeline.Stats  `json:"stats"`
	Summary   segment.Summary `json:"summary"`
}

// segmentCommand creates the segment command for partitioning graphs.
func (c *CLI) segmentCommand() *cobra.Command {
	var flags segmentFlags
	var outDir string

	cmd := &cobra.Command{
		Use:   "segment <graph.json>...",
		Short: "Partition fusion graphs into schedulable kernels",
		Long: `Segment reads fusion graphs and partitions each one into groups that a
single kernel can execute. The summary of each graph is written next to it as
<graph>.segments.json, or into --out when given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)

			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			runner, err := c.newRunner(ctx, &flags)
			if err != nil {
				return err
			}
			defer runner.Close()

			prog := newProgress(logger)
			spinner := newSpinnerWithContext(ctx, fmt.Sprintf("Segmenting %d graph(s)...", len(args)))
			spinner.Start()
			results, err := runner.SegmentAll(ctx, args, opts)
			if err != nil {
				spinner.StopWithError("Segmentation failed")
				return err
			}
			spinner.Stop()

			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}
			}
			for i, res := range results {
				out := segmentsPath(args[i])
				if outDir != "" {
					out = filepath.Join(outDir, filepath.Base(out))
				}
				if err := writeSegments(out, res); err != nil {
					return err
				}
				printSuccess("%s", args[i])
				printStats(res.Stats.Groups, res.Stats.Edges, res.CacheHit)
				printFile(out)
				if res.Persisted == nil && !flags.noCache {
					printWarning("not cached: the segmentation keeps a rewritten reduction")
				}
			}
			hits := 0
			for _, res := range results {
				if res.CacheHit {
					hits++
				}
			}
			prog.done(fmt.Sprintf("Segmented %d graph(s)", len(results)), "cached", hits)

			printNewline()
			printNextStep("Render a segmentation", "fuseg render "+args[0])
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory for segmentation summaries")
	return cmd
}

// writeSegments writes the summary of res as indented JSON.
func writeSegments(path string, res *pipeline.Result) error {
	doc := segmentsFile{
		RunID:     res.RunID,
		GraphHash: res.GraphHash,
		CacheHit:  res.CacheHit,
		Stats:     res.Stats,
		Summary:   res.Segmented.Summarize(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
