package pipeline

import (
	"encoding/json"

	"github.com/matzehuels/fuseg/pkg/errors"
	"github.com/matzehuels/fuseg/pkg/render/nodelink"
	"github.com/matzehuels/fuseg/pkg/segment"
)

// RenderOptions configures rendering of a segmentation.
type RenderOptions struct {
	Formats     []string `json:"formats,omitempty"`
	Detailed    bool     `json:"detailed,omitempty"`
	ShowScalars bool     `json:"show_scalars,omitempty"`
}

// Render generates output artifacts in the requested formats, keyed by
// format. With no formats, DOT is rendered.
func Render(sf *segment.SegmentedFusion, opts RenderOptions) (map[string][]byte, error) {
	if sf == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "nil segmentation")
	}
	formats := opts.Formats
	if len(formats) == 0 {
		formats = []string{FormatDOT}
	}

	var dot string
	artifacts := make(map[string][]byte, len(formats))
	for _, format := range formats {
		if err := ValidateFormat(format); err != nil {
			return nil, err
		}
		if (format == FormatDOT || format == FormatSVG) && dot == "" {
			dot = nodelink.ToDOT(sf, nodelink.Options{Detailed: opts.Detailed, ShowScalars: opts.ShowScalars})
		}

		var data []byte
		var err error
		switch format {
		case FormatDOT:
			data = []byte(dot)
		case FormatSVG:
			data, err = nodelink.RenderSVG(dot)
		case FormatJSON:
			data, err = json.MarshalIndent(sf.Summarize(), "", "  ")
		}
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "render %s", format)
		}
		artifacts[format] = data
	}
	return artifacts, nil
}
