package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/matzehuels/fuseg/pkg/errors"
	"github.com/matzehuels/fuseg/pkg/segment"
)

// inspectCommand creates the inspect command for browsing a segmentation.
func (c *CLI) inspectCommand() *cobra.Command {
	var flags segmentFlags

	cmd := &cobra.Command{
		Use:   "inspect <graph.json | graph.segments.json>",
		Short: "Browse the segments of a graph interactively",
		Long: `Inspect shows the groups of a segmentation in a terminal UI. Given a graph it
segments it first; given a summary written by "fuseg segment" it shows that.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			var summary segment.Summary
			if strings.HasSuffix(path, segmentsSuffix) {
				s, err := readSegments(path)
				if err != nil {
					return err
				}
				summary = s
			} else {
				opts, err := flags.options(cmd)
				if err != nil {
					return err
				}
				runner, err := c.newRunner(ctx, &flags)
				if err != nil {
					return err
				}
				defer runner.Close()

				res, err := runner.SegmentFile(ctx, path, opts)
				if err != nil {
					return err
				}
				summary = res.Segmented.Summarize()
			}

			title := fmt.Sprintf("Segments of %s", filepath.Base(path))
			p := tea.NewProgram(NewSegmentListModel(title, summary), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("inspect: %w", err)
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

// readSegments loads the summary from a file written by the segment command.
func readSegments(path string) (segment.Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return segment.Summary{}, errors.New(errors.ErrCodeNotFound, "segments file not found: %s", path)
		}
		return segment.Summary{}, errors.Wrap(errors.ErrCodeInvalidPath, err, "read %s", path)
	}
	var doc segmentsFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return segment.Summary{}, errors.Wrap(errors.ErrCodeInvalidFormat, err, "parse %s", path)
	}
	return doc.Summary, nil
}
