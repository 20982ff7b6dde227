package segment_test

import (
	"context"
	"fmt"

	"github.com/matzehuels/fuseg/pkg/ir"
	"github.com/matzehuels/fuseg/pkg/sched"
	"github.com/matzehuels/fuseg/pkg/segment"
)

func ExampleSegment() {
	// Row and column sums of the same tensor cannot share a kernel.
	f := ir.New()
	x := f.NewTensor("x", ir.Float, 64, 128)
	f.AddInput(x)
	e := f.Unary("exp", x)
	f.AddOutput(f.Sum(e, 1))
	f.AddOutput(f.Sum(e, 0))

	sf, err := segment.Segment(context.Background(), f, sched.NewReference(), nil, segment.Options{})
	if err != nil {
		fmt.Println(err)
		return
	}
	for _, g := range sf.Groups() {
		fmt.Printf("group %d: %d exprs, %s\n", g.ID(), len(g.Exprs()), g.Heuristic())
	}
	for _, e := range sf.Edges() {
		fmt.Printf("edge %d -> %d carries %s\n", e.From().ID(), e.To().ID(), e.Val())
	}
	// Output:
	// group 0: 2 exprs, reduction
	// group 1: 1 exprs, reduction
	// edge 0 -> 1 carries T1#1
}

func ExampleSegmentedFusion_MakeFusion() {
	f := ir.New()
	x := f.NewTensor("x", ir.Float, 64, 128)
	f.AddInput(x)
	e := f.Unary("exp", x)
	f.AddOutput(f.Sum(e, 1))
	f.AddOutput(f.Sum(e, 0))

	sf, err := segment.Segment(context.Background(), f, sched.NewReference(), nil,
		segment.Options{ReduceBoundaryPrecision: true})
	if err != nil {
		fmt.Println(err)
		return
	}
	kernel, err := sf.MakeFusion(sf.Groups()[1])
	if err != nil {
		fmt.Println(err)
		return
	}
	for _, in := range kernel.Inputs() {
		fmt.Println("input:", in.Name(), in.DType())
	}
	fmt.Println("exprs:", len(kernel.Exprs()))
	// Output:
	// input: T1_float16 float16
	// exprs: 2
}
