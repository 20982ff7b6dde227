package segment

import (
	stderrors "errors"
	"slices"
	"testing"

	"github.com/matzehuels/fuseg/pkg/ir"
	"github.com/matzehuels/fuseg/pkg/sched"
)

func TestWithBoundary_NarrowsAndRestores(t *testing.T) {
	f, softmax, colSum := softmaxAndColumnSum()
	inputs, outputs := f.Inputs(), f.Outputs()
	fd := prepare(t, f, sched.NewReference(), Options{})
	g := fd.owner[colSum.Definition()]

	err := fd.sf.withBoundary([]*Group{g}, func(view *ir.Fusion) error {
		if got := len(view.Inputs()); got != 2 {
			t.Errorf("view inputs = %d, want 2", got)
		}
		if !slices.Equal(view.Outputs(), []*ir.Val{colSum}) {
			t.Errorf("view outputs = %v, want [%v]", view.Outputs(), colSum)
		}
		if got := len(view.Exprs()); got != 1 {
			t.Errorf("view exprs = %d, want 1", got)
		}
		if view.IsOutput(softmax) {
			t.Error("view still exposes an output of another group")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(f.Inputs(), inputs) || !slices.Equal(f.Outputs(), outputs) {
		t.Errorf("boundary not restored: inputs %v, outputs %v", f.Inputs(), f.Outputs())
	}
}

func TestWithBoundary_RestoresOnError(t *testing.T) {
	f, _, colSum := softmaxAndColumnSum()
	inputs, outputs := f.Inputs(), f.Outputs()
	fd := prepare(t, f, sched.NewReference(), Options{})
	boom := stderrors.New("boom")

	err := fd.sf.withBoundary([]*Group{fd.owner[colSum.Definition()]}, func(*ir.Fusion) error {
		return boom
	})
	if err != boom {
		t.Errorf("withBoundary() = %v, want %v", err, boom)
	}
	if !slices.Equal(f.Inputs(), inputs) || !slices.Equal(f.Outputs(), outputs) {
		t.Error("boundary not restored after error")
	}
}

func TestWithBoundary_RestoresOnPanic(t *testing.T) {
	f, _, colSum := softmaxAndColumnSum()
	inputs, outputs := f.Inputs(), f.Outputs()
	fd := prepare(t, f, sched.NewReference(), Options{})

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic was swallowed")
			}
		}()
		_ = fd.sf.withBoundary([]*Group{fd.owner[colSum.Definition()]}, func(*ir.Fusion) error {
			panic("oracle failure")
		})
	}()

	if !slices.Equal(f.Inputs(), inputs) || !slices.Equal(f.Outputs(), outputs) {
		t.Error("boundary not restored after panic")
	}
}

func TestWithBoundary_HalfCasts(t *testing.T) {
	f, a, _, cols := sharedProducer()
	sf := mustSegment(t, f, sched.NewReference(), Options{ReduceBoundaryPrecision: true})
	if !sf.IsHalf(a) {
		t.Fatalf("IsHalf(%v) = false", a)
	}
	exprs, vals := len(f.AllExprs()), len(f.Vals())
	consumer := groupOf(t, sf, cols.Definition())

	err := sf.withBoundary([]*Group{consumer}, func(view *ir.Fusion) error {
		ins := view.Inputs()
		if len(ins) != 1 || ins[0].DType() != ir.Half {
			t.Errorf("view inputs = %v, want one float16 value", ins)
		}
		if got := len(view.Exprs()); got != 2 {
			t.Errorf("view exprs = %d, want 2 (cast back and sum)", got)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := len(f.AllExprs()); got != exprs {
		t.Errorf("AllExprs() = %d after probe, want %d", got, exprs)
	}
	if got := len(f.Vals()); got != vals {
		t.Errorf("Vals() = %d after probe, want %d", got, vals)
	}
	if cols.Definition().Input(0) != a {
		t.Error("consumer still reads the cast value")
	}
}

func TestBoundary_DerivedScalarLeaves(t *testing.T) {
	f := ir.New()
	x := f.NewTensor("x", ir.Float, 8, 16)
	f.AddInput(x)
	e := f.Unary("exp", x)
	n := f.ScalarOp("numel", ir.Index, e)
	y := f.Binary("div", x, n)
	f.AddOutput(y)
	f.AddOutput(e)

	sf := newSegmentedFusion(f)
	gy := sf.newGroupFor(y.Definition())

	ins, outs := sf.boundary([]*Group{gy})
	if !slices.Equal(ins, []*ir.Val{x, e}) {
		t.Errorf("inputs = %v, want [x, exp output]", ins)
	}
	if !slices.Equal(outs, []*ir.Val{y}) {
		t.Errorf("outputs = %v, want [%v]", outs, y)
	}
}
