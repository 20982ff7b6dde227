package segment

import (
	"context"
	"testing"

	"github.com/matzehuels/fuseg/pkg/ir"
	"github.com/matzehuels/fuseg/pkg/sched"
)

// funcOracle adapts a function to sched.Oracle.
type funcOracle func(view *ir.Fusion) (sched.Heuristic, bool)

func (o funcOracle) Propose(view *ir.Fusion, _ *sched.RuntimeInfo) (sched.Heuristic, bool) {
	return o(view)
}

func (o funcOracle) CanSchedule(h sched.Heuristic, view *ir.Fusion, _ *sched.RuntimeInfo) bool {
	got, ok := o(view)
	return ok && got == h
}

func rejectAll(*ir.Fusion) (sched.Heuristic, bool) { return sched.None, false }

// prepare runs the partition steps that precede the merge passes.
func prepare(t *testing.T, f *ir.Fusion, oracle sched.Oracle, opts Options) *finder {
	t.Helper()
	fd := newFinder(context.Background(), f, oracle, sched.NewRuntimeInfo(), opts)
	if err := fd.buildInitialGroups(); err != nil {
		t.Fatalf("buildInitialGroups() error = %v", err)
	}
	if err := fd.removeScalarEdges(); err != nil {
		t.Fatalf("removeScalarEdges() error = %v", err)
	}
	deps, err := newDependencyAnalysis(fd.sf)
	if err != nil {
		t.Fatalf("newDependencyAnalysis() error = %v", err)
	}
	fd.deps = deps
	return fd
}

func mustSegment(t *testing.T, f *ir.Fusion, oracle sched.Oracle, opts Options) *SegmentedFusion {
	t.Helper()
	sf, err := Segment(context.Background(), f, oracle, sched.NewRuntimeInfo(), opts)
	if err != nil {
		t.Fatalf("Segment() error = %v", err)
	}
	return sf
}

// groupOf returns the finalized group holding e.
func groupOf(t *testing.T, sf *SegmentedFusion, e *ir.Expr) *Group {
	t.Helper()
	for _, g := range sf.Groups() {
		for _, x := range g.Exprs() {
			if x == e {
				return g
			}
		}
	}
	t.Fatalf("expression %s is in no group", e)
	return nil
}

// softmaxAndColumnSum builds a row softmax next to an unrelated column sum.
// The two reduction signatures cannot share a kernel.
func softmaxAndColumnSum() (f *ir.Fusion, softmax, colSum *ir.Val) {
	f = ir.New()
	x := f.NewTensor("x", ir.Float, 64, 128)
	w := f.NewTensor("w", ir.Float, 128)
	f.AddInput(x)
	f.AddInput(w)

	m := f.Max(x, 1)
	e := f.Unary("exp", f.Binary("sub", x, f.Broadcast(m, 1)))
	z := f.Sum(e, 1)
	softmax = f.Binary("div", e, f.Broadcast(z, 1))

	colSum = f.Binary("add", f.Sum(x, 0), w)

	f.AddOutput(softmax)
	f.AddOutput(colSum)
	return f, softmax, colSum
}

// sharedProducer builds exp(x) read by reductions over both axes.
func sharedProducer() (f *ir.Fusion, a, rows, cols *ir.Val) {
	f = ir.New()
	x := f.NewTensor("x", ir.Float, 8, 16)
	f.AddInput(x)
	x2 := f.Binary("mul", x, x)
	a = f.Unary("exp", x2)
	rows = f.Sum(a, 1)
	cols = f.Sum(a, 0)
	f.AddOutput(rows)
	f.AddOutput(cols)
	return f, a, rows, cols
}
