package segment

import (
	"context"
	stderrors "errors"
	"slices"
	"testing"
	"time"

	"github.com/matzehuels/fuseg/pkg/errors"
	"github.com/matzehuels/fuseg/pkg/ir"
	"github.com/matzehuels/fuseg/pkg/observability"
	"github.com/matzehuels/fuseg/pkg/sched"
)

func TestSegment_WholeFusionAccepted(t *testing.T) {
	f := ir.New()
	x := f.NewTensor("x", ir.Float, 16, 32)
	v := f.NewTensor("v", ir.Float, 16, 32)
	f.AddInput(x)
	f.AddInput(v)
	w := f.Binary("add", f.Unary("neg", x), f.Unary("exp", v))
	f.AddOutput(w)

	sf := mustSegment(t, f, sched.NewReference(), Options{})

	if got := len(sf.Groups()); got != 1 {
		t.Fatalf("groups = %d, want 1", got)
	}
	g := sf.Groups()[0]
	if got := len(g.Exprs()); got != 3 {
		t.Errorf("exprs = %d, want 3", got)
	}
	if g.ID() != 0 {
		t.Errorf("ID() = %d, want 0", g.ID())
	}
	if g.Heuristic() != sched.PointWise {
		t.Errorf("Heuristic() = %v, want %v", g.Heuristic(), sched.PointWise)
	}
	if len(sf.Edges()) != 0 {
		t.Errorf("edges = %d, want 0", len(sf.Edges()))
	}
	if !slices.Equal(g.Inputs(), []*ir.Val{x, v}) {
		t.Errorf("Inputs() = %v, want [x v]", g.Inputs())
	}
	if !slices.Equal(g.Outputs(), []*ir.Val{w}) {
		t.Errorf("Outputs() = %v, want [%v]", g.Outputs(), w)
	}
	st := sf.Stats()
	if !st.Trivial || st.Probes != 1 || st.FinalGroups != 1 || st.Exprs != 3 {
		t.Errorf("Stats() = %+v", st)
	}
}

// siblingReductions builds two row reductions under a common producer next to
// a column reduction of the input.
func siblingReductions() (f *ir.Fusion, e, a, n, b, c *ir.Val) {
	f = ir.New()
	x := f.NewTensor("x", ir.Float, 8, 16)
	f.AddInput(x)
	e = f.Unary("exp", x)
	a = f.Sum(e, 1)
	n = f.Unary("neg", e)
	b = f.Sum(n, 1)
	c = f.Sum(x, 0)
	f.AddOutput(a)
	f.AddOutput(b)
	f.AddOutput(c)
	return f, e, a, n, b, c
}

func TestSegment_SiblingReductions(t *testing.T) {
	f, e, a, n, b, c := siblingReductions()

	sf := mustSegment(t, f, sched.NewReference(), Options{})

	if got := len(sf.Groups()); got != 2 {
		t.Fatalf("groups = %d, want 2\n%s", got, sf)
	}
	rows := groupOf(t, sf, a.Definition())
	for _, v := range []*ir.Val{e, n, b} {
		if g := groupOf(t, sf, v.Definition()); g != rows {
			t.Errorf("%s is in group %d, want group %d", v.Definition(), g.ID(), rows.ID())
		}
	}
	cols := groupOf(t, sf, c.Definition())
	if cols == rows {
		t.Fatal("column reduction shares a group with the row reductions")
	}
	if rows.ID() != 0 || cols.ID() != 1 {
		t.Errorf("IDs = (%d, %d), want (0, 1)", rows.ID(), cols.ID())
	}
	for _, g := range sf.Groups() {
		if g.Heuristic() != sched.Reduction {
			t.Errorf("group %d Heuristic() = %v, want reduction", g.ID(), g.Heuristic())
		}
	}
	if sf.Stats().Trivial {
		t.Error("Stats().Trivial = true for a mixed-signature fusion")
	}
}

func TestSegment_SoftmaxAndColumnSum(t *testing.T) {
	f, softmax, colSum := softmaxAndColumnSum()

	sf := mustSegment(t, f, sched.NewReference(), Options{})

	if got := len(sf.Groups()); got != 2 {
		t.Fatalf("groups = %d, want 2\n%s", got, sf)
	}
	g0, g1 := sf.Groups()[0], sf.Groups()[1]
	if groupOf(t, sf, softmax.Definition()) != g0 {
		t.Error("softmax is not in group 0")
	}
	if groupOf(t, sf, colSum.Definition()) != g1 {
		t.Error("column sum is not in group 1")
	}
	if got := len(g0.Exprs()); got != 7 {
		t.Errorf("softmax group exprs = %d, want 7", got)
	}
	if g0.Heuristic() != sched.InnerPersistent {
		t.Errorf("softmax Heuristic() = %v, want inner_persistent", g0.Heuristic())
	}
	if g1.Heuristic() != sched.Reduction {
		t.Errorf("column sum Heuristic() = %v, want reduction", g1.Heuristic())
	}
	if st := sf.Stats(); st.Exprs != 9 || st.FinalGroups != 2 || st.MergesAccepted == 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestSegment_Invariants(t *testing.T) {
	builders := []struct {
		name  string
		build func() *ir.Fusion
		opts  Options
	}{
		{"softmax", func() *ir.Fusion { f, _, _ := softmaxAndColumnSum(); return f }, Options{}},
		{"siblings", func() *ir.Fusion { f, _, _, _, _, _ := siblingReductions(); return f }, Options{}},
		{"shared_producer", func() *ir.Fusion { f, _, _, _ := sharedProducer(); return f }, Options{}},
		{"no_final_merge", func() *ir.Fusion { f, _, _ := softmaxAndColumnSum(); return f }, Options{DisableFinalMerge: true}},
		{"no_passes", func() *ir.Fusion { f, _, _, _, _, _ := siblingReductions(); return f },
			Options{DisablePadCat: true, DisableCastChain: true, DisableCombineReductions: true, DisableFinalMerge: true}},
		{"half", func() *ir.Fusion { f, _, _, _ := sharedProducer(); return f }, Options{ReduceBoundaryPrecision: true}},
	}

	for _, tt := range builders {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.build()
			sf := mustSegment(t, f, sched.NewReference(), tt.opts)

			seen := make(map[*ir.Expr]int)
			for _, g := range sf.Groups() {
				if len(g.Exprs()) == 0 {
					t.Errorf("group %d is empty", g.ID())
				}
				if g.IsAuxiliary() {
					t.Errorf("group %d is auxiliary", g.ID())
				}
				for _, e := range g.Exprs() {
					if !e.IsScalarOnly() {
						seen[e]++
					}
				}
			}
			for _, e := range f.Exprs() {
				if !e.IsScalarOnly() && seen[e] != 1 {
					t.Errorf("%s is in %d groups, want 1", e, seen[e])
				}
			}
			for _, e := range sf.Edges() {
				if e.From() == e.To() {
					t.Errorf("self-loop %s", e)
				}
				if e.From().Level() >= e.To().Level() {
					t.Errorf("edge %s does not increase level", e)
				}
			}
			for i, g := range sf.Groups() {
				if g.ID() != i {
					t.Errorf("group at %d has ID %d", i, g.ID())
				}
				if g.Heuristic() == sched.None {
					t.Errorf("group %d has no heuristic", g.ID())
				}
			}
			if err := sf.Validate(); err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}

func TestSegment_ForwardedChainJoinsConsumer(t *testing.T) {
	f := ir.New()
	x := f.NewTensor("x", ir.Float, 8, 16)
	f.AddInput(x)
	tv := f.Unary("exp", f.Unary("neg", x))
	r0 := f.Sum(tv, 0)
	r1 := f.Sum(tv, 1)
	f.AddOutput(r0)
	f.AddOutput(r1)

	sf := mustSegment(t, f, sched.NewReference(), Options{})

	if got := sf.Stats().ForwardedChains; got != 1 {
		t.Errorf("ForwardedChains = %d, want 1", got)
	}
	if got := len(sf.Groups()); got != 2 {
		t.Fatalf("groups = %d, want 2\n%s", got, sf)
	}
	g0 := sf.Groups()[0]
	if got := len(g0.Exprs()); got != 3 {
		t.Errorf("group 0 exprs = %d, want 3", got)
	}
	if groupOf(t, sf, tv.Definition()) != groupOf(t, sf, r0.Definition()) {
		t.Error("forwarded chain was not merged into its first consumer")
	}
	if len(sf.Edges()) != 1 || sf.Edges()[0].Val() != tv {
		t.Errorf("edges = %v, want one edge carrying %v", sf.Edges(), tv)
	}
}

func TestSegment_ScalarsCopiedIntoReaders(t *testing.T) {
	f := ir.New()
	x := f.NewTensor("x", ir.Float, 8, 16)
	f.AddInput(x)
	n := f.ScalarOp("numel", ir.Index, x)
	y := f.Binary("div", x, n)
	f.AddOutput(y)

	sf := mustSegment(t, f, sched.NewReference(), Options{})

	g := sf.Groups()[0]
	if got := len(g.Exprs()); got != 2 {
		t.Fatalf("exprs = %d, want 2", got)
	}
	if g.Exprs()[0] != n.Definition() {
		t.Errorf("Exprs()[0] = %s, want the scalar computation first", g.Exprs()[0])
	}
	if sf.Stats().Exprs != 1 {
		t.Errorf("Stats().Exprs = %d, want 1", sf.Stats().Exprs)
	}
}

func TestSegment_Welford(t *testing.T) {
	layerNorm := func() (*ir.Fusion, *ir.Expr) {
		f := ir.New()
		x := f.NewTensor("x", ir.Float, 32, 64)
		f.AddInput(x)
		avg, varSum, _ := f.Welford(x, 1)
		centered := f.Binary("sub", x, f.Broadcast(avg, 1))
		f.AddOutput(f.Binary("div", centered, f.Broadcast(varSum, 1)))
		return f, avg.Definition()
	}

	t.Run("translated", func(t *testing.T) {
		f, w := layerNorm()
		sf := mustSegment(t, f, sched.NewReference(), Options{})

		if got := len(sf.Groups()); got != 1 {
			t.Fatalf("groups = %d, want 1", got)
		}
		if h := sf.Groups()[0].Heuristic(); h != sched.InnerPersistent {
			t.Errorf("Heuristic() = %v, want inner_persistent", h)
		}
		if st := sf.Stats(); st.WelfordTranslated != 1 || !st.Trivial {
			t.Errorf("Stats() = %+v", st)
		}
		if slices.Contains(f.Exprs(), w) {
			t.Error("Welford expression still reachable after translation")
		}
		if sf.Serialize().Valid {
			t.Error("Serialize().Valid = true after a kept rewrite")
		}
	})

	t.Run("variance unused", func(t *testing.T) {
		f := ir.New()
		x := f.NewTensor("x", ir.Float, 32, 64)
		f.AddInput(x)
		avg, _, _ := f.Welford(x, 1)
		f.AddOutput(avg)
		f.AddOutput(f.Sum(x, 0))

		sf := mustSegment(t, f, sched.NewReference(), Options{})

		if got := len(sf.Groups()); got != 2 {
			t.Fatalf("groups = %d, want 2\n%s", got, sf)
		}
		live := f.Exprs()
		for _, g := range sf.Groups() {
			for _, e := range g.Exprs() {
				if !slices.Contains(live, e) {
					t.Errorf("group %d holds unreachable %s", g.ID(), e)
				}
			}
		}
	})

	t.Run("disabled", func(t *testing.T) {
		f, w := layerNorm()
		sf := mustSegment(t, f, sched.NewReference(), Options{DisableWelford: true})

		if got := len(sf.Groups()); got != 2 {
			t.Fatalf("groups = %d, want 2\n%s", got, sf)
		}
		g := groupOf(t, sf, w)
		if g.ID() != 0 || g.Heuristic() != sched.Reduction {
			t.Errorf("Welford group = %d (%v), want 0 (reduction)", g.ID(), g.Heuristic())
		}
		if sf.Stats().WelfordTranslated != 0 {
			t.Errorf("WelfordTranslated = %d, want 0", sf.Stats().WelfordTranslated)
		}
		if !slices.Contains(f.Exprs(), w) {
			t.Error("Welford expression was rewritten")
		}
	})
}

func TestSegment_Errors(t *testing.T) {
	ctx := context.Background()
	ref := sched.NewReference()

	noOutputs := ir.New()
	noOutputs.AddInput(noOutputs.NewTensor("x", ir.Float, 4))

	tests := []struct {
		name   string
		f      *ir.Fusion
		oracle sched.Oracle
		want   errors.Code
	}{
		{"NilFusion", nil, ref, errors.ErrCodeInvalidInput},
		{"NilOracle", ir.New(), nil, errors.ErrCodeInvalidInput},
		{"NoOutputs", noOutputs, ref, errors.ErrCodeInvalidGraph},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Segment(ctx, tt.f, tt.oracle, nil, Options{})
			if !errors.Is(err, tt.want) {
				t.Errorf("Segment() error = %v, want %s", err, tt.want)
			}
		})
	}
}

func TestSegment_Unschedulable(t *testing.T) {
	f := ir.New()
	x := f.NewTensor("x", ir.Float, 16)
	f.AddInput(x)
	f.AddOutput(f.Binary("add", f.Unary("neg", x), x))

	_, err := Segment(context.Background(), f, funcOracle(rejectAll), nil, Options{})
	if !errors.Is(err, errors.ErrCodeUnschedulable) {
		t.Fatalf("Segment() error = %v, want UNSCHEDULABLE", err)
	}
	if !errors.IsFatal(err) {
		t.Error("IsFatal() = false for an unschedulable group")
	}
}

func TestSegment_Canceled(t *testing.T) {
	f, _, _ := softmaxAndColumnSum()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Segment(ctx, f, sched.NewReference(), nil, Options{})
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("Segment() error = %v, want context.Canceled", err)
	}
	if got := len(f.Outputs()); got != 2 {
		t.Errorf("outputs after cancel = %d, want 2", got)
	}
}

type recordingHooks struct {
	observability.NoopSegmentHooks
	starts, completes, accepted, rejected, passes int
}

func (h *recordingHooks) OnSegmentStart(context.Context, int)          { h.starts++ }
func (h *recordingHooks) OnMergeAccepted(context.Context, string, int) { h.accepted++ }
func (h *recordingHooks) OnMergeRejected(context.Context, string)      { h.rejected++ }
func (h *recordingHooks) OnPassComplete(context.Context, string, int, time.Duration) {
	h.passes++
}
func (h *recordingHooks) OnSegmentComplete(context.Context, int, time.Duration, error) {
	h.completes++
}

func TestSegment_Hooks(t *testing.T) {
	hooks := &recordingHooks{}
	observability.SetSegmentHooks(hooks)
	defer observability.Reset()

	f, _, _, _, _, _ := siblingReductions()
	sf := mustSegment(t, f, sched.NewReference(), Options{})

	if hooks.starts != 1 || hooks.completes != 1 {
		t.Errorf("start/complete = %d/%d, want 1/1", hooks.starts, hooks.completes)
	}
	if hooks.accepted != sf.Stats().MergesAccepted {
		t.Errorf("accepted = %d, want %d", hooks.accepted, sf.Stats().MergesAccepted)
	}
	if hooks.rejected != sf.Stats().MergesRejected {
		t.Errorf("rejected = %d, want %d", hooks.rejected, sf.Stats().MergesRejected)
	}
	if hooks.passes != 5 {
		t.Errorf("passes = %d, want 5", hooks.passes)
	}
}

func TestValidate_DetectsCorruption(t *testing.T) {
	t.Run("duplicated expression", func(t *testing.T) {
		f, _, _ := softmaxAndColumnSum()
		sf := mustSegment(t, f, sched.NewReference(), Options{})
		g0, g1 := sf.Groups()[0], sf.Groups()[1]
		g1.exprs = append(g1.exprs, g0.exprs[0])

		if err := sf.Validate(); !errors.Is(err, errors.ErrCodeInvariantViolation) {
			t.Errorf("Validate() = %v, want INVARIANT_VIOLATION", err)
		}
	})

	t.Run("half-linked edge", func(t *testing.T) {
		f, _, _, _ := sharedProducer()
		sf := mustSegment(t, f, sched.NewReference(), Options{})
		g0 := sf.Groups()[0]
		g0.consumers = nil

		if err := sf.Validate(); !errors.Is(err, errors.ErrCodeInvariantViolation) {
			t.Errorf("Validate() = %v, want INVARIANT_VIOLATION", err)
		}
	})

	t.Run("misnumbered group", func(t *testing.T) {
		f, _, _ := softmaxAndColumnSum()
		sf := mustSegment(t, f, sched.NewReference(), Options{})
		sf.Groups()[1].id = 5

		if err := sf.Validate(); !errors.Is(err, errors.ErrCodeInvariantViolation) {
			t.Errorf("Validate() = %v, want INVARIANT_VIOLATION", err)
		}
	})
}

func TestSummarize(t *testing.T) {
	f, _, _, _ := sharedProducer()
	sf := mustSegment(t, f, sched.NewReference(), Options{ReduceBoundaryPrecision: true})

	s := sf.Summarize()
	if len(s.Groups) != 2 || len(s.Edges) != 1 {
		t.Fatalf("Summarize() = %d groups, %d edges, want 2, 1", len(s.Groups), len(s.Edges))
	}
	if s.Edges[0].From != 0 || s.Edges[0].To != 1 {
		t.Errorf("edge = %+v, want 0 -> 1", s.Edges[0])
	}
	if len(s.Half) != 1 {
		t.Errorf("Half = %v, want one value", s.Half)
	}
	if s.Stats.FinalGroups != 2 {
		t.Errorf("Stats.FinalGroups = %d, want 2", s.Stats.FinalGroups)
	}
}

func TestSegment_SiblingReductionsOfInput(t *testing.T) {
	for _, opts := range []Options{{}, {DisableForwarding: true}} {
		f := ir.New()
		x := f.NewTensor("x", ir.Float, 8, 16)
		f.AddInput(x)
		a := f.Sum(x, 1)
		b := f.Sum(f.Unary("neg", x), 1)
		c := f.Sum(x, 0)
		f.AddOutput(a)
		f.AddOutput(b)
		f.AddOutput(c)

		sf := mustSegment(t, f, sched.NewReference(), opts)

		if got := len(sf.Groups()); got != 2 {
			t.Errorf("forwarding disabled=%v: groups = %d, want 2\n%s", opts.DisableForwarding, got, sf)
		}
		if groupOf(t, sf, a.Definition()) != groupOf(t, sf, b.Definition()) {
			t.Errorf("forwarding disabled=%v: row sums of x were not combined", opts.DisableForwarding)
		}
		if groupOf(t, sf, c.Definition()) == groupOf(t, sf, a.Definition()) {
			t.Errorf("forwarding disabled=%v: column sum joined the row sums", opts.DisableForwarding)
		}
	}
}
