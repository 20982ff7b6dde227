// Package nodelink renders segmentations as node-link diagrams.
//
// # Overview
//
// This package produces directed graph visualizations using Graphviz. Every
// expression of the fusion is a node, every value read is an edge, and the
// expressions of one segment are enclosed in a shaded cluster:
//
//	Segmentation → ToDOT() → DOT → RenderSVG() → SVG
//
// The DOT format serves as the intermediate representation, so the output of
// [ToDOT] can also be rendered with any external Graphviz installation.
//
// # Styling
//
//   - Reductions are drawn as inverted trapezia.
//   - Expressions producing fusion outputs have a double outline.
//   - Edges crossing a segment boundary are bold.
//   - Edges carrying values stored in reduced precision are dashed and
//     labelled with the storage type.
//
// # Usage
//
//	sf, _ := segment.Segment(ctx, fusion, sched.NewReference(), nil, segment.Options{})
//	dot := nodelink.ToDOT(sf, nodelink.Options{Detailed: true})
//	svg, _ := nodelink.RenderSVG(dot)
package nodelink
