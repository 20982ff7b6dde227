package nodelink

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/fuseg/pkg/ir"
	"github.com/matzehuels/fuseg/pkg/segment"
)

// Options configures node-link diagram rendering.
type Options struct {
	// Detailed includes value types and shapes in node labels and the
	// heuristic and level in cluster labels. When false, only operator names
	// and group IDs are shown.
	Detailed bool

	// ShowScalars draws scalar-only expressions. They are hidden by default
	// since they are recomputed in every segment that reads them.
	ShowScalars bool
}

// ToDOT converts a segmentation to Graphviz DOT format. Each segment
// becomes a cluster holding its expressions; fusion inputs are drawn as
// ellipses outside every cluster. The resulting DOT string can be rendered
// using [RenderSVG].
//
// Values crossing a segment boundary are drawn with bold edges, and values
// cast to reduced precision at the boundary with dashed edges.
func ToDOT(sf *segment.SegmentedFusion, opts Options) string {
	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  compound=true;\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=14, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  ranksep=0.4;\n")
	buf.WriteString("  nodesep=0.3;\n")
	buf.WriteString("\n")

	f := sf.Fusion()
	owner := make(map[*ir.Expr]int)
	for _, g := range sf.Groups() {
		fmt.Fprintf(&buf, "  subgraph cluster_%d {\n", g.ID())
		fmt.Fprintf(&buf, "    label=%q;\n", fmtGroupLabel(g, opts.Detailed))
		buf.WriteString("    style=\"rounded,filled\";\n")
		fmt.Fprintf(&buf, "    fillcolor=%q;\n", fillColor(g.ID()))
		for _, e := range g.Exprs() {
			if e.IsScalarOnly() && !opts.ShowScalars {
				continue
			}
			if _, seen := owner[e]; seen {
				continue
			}
			owner[e] = g.ID()
			fmt.Fprintf(&buf, "    %s [%s];\n", exprNode(e), strings.Join(fmtAttrs(e, opts.Detailed), ", "))
		}
		buf.WriteString("  }\n")
	}

	buf.WriteString("\n")
	for _, in := range f.Inputs() {
		if in.IsScalar() && !opts.ShowScalars {
			continue
		}
		fmt.Fprintf(&buf, "  %s [label=%q, shape=ellipse, style=filled, fillcolor=lightgrey];\n", valNode(in), fmtValLabel(in, opts.Detailed))
	}

	buf.WriteString("\n")
	for _, g := range sf.Groups() {
		for _, e := range g.Exprs() {
			if id, drawn := owner[e]; !drawn || id != g.ID() {
				continue
			}
			for _, in := range e.Inputs() {
				src, ok := source(in, owner)
				if !ok {
					continue
				}
				var attrs []string
				if def := in.Definition(); def != nil && owner[def] != g.ID() {
					attrs = append(attrs, "penwidth=2")
				}
				if sf.IsHalf(in) {
					attrs = append(attrs, "style=dashed", fmt.Sprintf("label=%q", sf.HalfType().String()))
				}
				if len(attrs) > 0 {
					fmt.Fprintf(&buf, "  %s -> %s [%s];\n", src, exprNode(e), strings.Join(attrs, ", "))
				} else {
					fmt.Fprintf(&buf, "  %s -> %s;\n", src, exprNode(e))
				}
			}
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

// source returns the node an input value is drawn from.
func source(v *ir.Val, owner map[*ir.Expr]int) (string, bool) {
	if def := v.Definition(); def != nil {
		if _, ok := owner[def]; ok {
			return exprNode(def), true
		}
	}
	if v.IsFusionInput() {
		if v.IsScalar() {
			return "", false
		}
		return valNode(v), true
	}
	return "", false
}

func exprNode(e *ir.Expr) string { return "e" + strconv.Itoa(e.ID()) }
func valNode(v *ir.Val) string   { return "v" + strconv.Itoa(v.ID()) }

var palette = []string{"#e8f1fa", "#eaf6e9", "#fdf1e3", "#f3eafa", "#fbe9ec", "#e9f7f6"}

func fillColor(id int) string {
	if id < 0 {
		return palette[0]
	}
	return palette[id%len(palette)]
}

func fmtGroupLabel(g *segment.Group, detailed bool) string {
	if !detailed {
		return fmt.Sprintf("segment %d", g.ID())
	}
	return fmt.Sprintf("segment %d\n%s, level %d", g.ID(), g.Heuristic(), g.Level())
}

func fmtValLabel(v *ir.Val, detailed bool) string {
	if !detailed {
		return v.Name()
	}
	return fmt.Sprintf("%s\n%s%v", v.Name(), v.DType(), v.Shape())
}

func fmtAttrs(e *ir.Expr, detailed bool) []string {
	label := e.Op()
	if detailed {
		parts := []string{e.Op()}
		for _, o := range e.Outputs() {
			parts = append(parts, fmt.Sprintf("%s: %s%v", o.Name(), o.DType(), o.Shape()))
		}
		label = strings.Join(parts, "\n")
	}
	attrs := []string{fmt.Sprintf("label=%q", label)}
	switch {
	case e.IsScalarOnly():
		attrs = append(attrs, "style=\"rounded,filled,dashed\"", "fillcolor=lightgrey")
	case e.IsReductionLike():
		attrs = append(attrs, "shape=invtrapezium")
	}
	for _, o := range e.Outputs() {
		if o.IsFusionOutput() {
			attrs = append(attrs, "peripheries=2")
			break
		}
	}
	return attrs
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(dot string) ([]byte, error) {
	ctx := context.Background()
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return normalizeViewBox(buf.Bytes()), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	newSvg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)

	return svgTagRe.ReplaceAll(svg, []byte(newSvg))
}
