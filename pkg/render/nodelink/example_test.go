package nodelink_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/matzehuels/fuseg/pkg/ir"
	"github.com/matzehuels/fuseg/pkg/render/nodelink"
	"github.com/matzehuels/fuseg/pkg/sched"
	"github.com/matzehuels/fuseg/pkg/segment"
)

func ExampleToDOT() {
	f := ir.New()
	x := f.NewTensor("x", ir.Float, 4, 4)
	f.AddInput(x)
	f.AddOutput(f.Unary("relu", f.Unary("neg", x)))

	sf, err := segment.Segment(context.Background(), f, sched.NewReference(), nil, segment.Options{})
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	dot := nodelink.ToDOT(sf, nodelink.Options{})
	fmt.Println("clusters:", strings.Count(dot, "subgraph cluster_"))
	// Output:
	// clusters: 1
}

func ExampleRenderSVG() {
	f := ir.New()
	x := f.NewTensor("x", ir.Float, 4, 4)
	f.AddInput(x)
	f.AddOutput(f.Sum(x, 1))

	sf, _ := segment.Segment(context.Background(), f, sched.NewReference(), nil, segment.Options{})

	// Render to SVG (uses the embedded Graphviz)
	svg, err := nodelink.RenderSVG(nodelink.ToDOT(sf, nodelink.Options{Detailed: true}))
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	fmt.Printf("Generated SVG (%d bytes)\n", len(svg))
	// Output varies based on Graphviz version
}
