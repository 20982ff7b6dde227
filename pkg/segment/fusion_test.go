package segment

import (
	"slices"
	"testing"

	"github.com/matzehuels/fuseg/pkg/errors"
	"github.com/matzehuels/fuseg/pkg/ir"
)

// diamond is a hand-built partition of
//
//	a = neg(x); b = exp(a); c = add(a, b); d = mul(b, c)
//
// with one group per expression and an auxiliary group for x.
type diamond struct {
	sf             *SegmentedFusion
	aux            *Group
	ga, gb, gc, gd *Group
}

func newDiamond() *diamond {
	f := ir.New()
	x := f.NewTensor("x", ir.Float, 4, 4)
	f.AddInput(x)
	a := f.Unary("neg", x)
	b := f.Unary("exp", a)
	c := f.Binary("add", a, b)
	d := f.Binary("mul", b, c)
	f.AddOutput(d)

	sf := newSegmentedFusion(f)
	dm := &diamond{sf: sf, aux: sf.newAuxGroup(x)}
	dm.ga = sf.newGroupFor(a.Definition())
	dm.gb = sf.newGroupFor(b.Definition())
	dm.gc = sf.newGroupFor(c.Definition())
	dm.gd = sf.newGroupFor(d.Definition())
	sf.connectGroups(dm.aux, dm.ga, x)
	sf.connectGroups(dm.ga, dm.gb, a)
	sf.connectGroups(dm.ga, dm.gc, a)
	sf.connectGroups(dm.gb, dm.gc, b)
	sf.connectGroups(dm.gb, dm.gd, b)
	sf.connectGroups(dm.gc, dm.gd, c)
	return dm
}

func TestMergeGroups_ReattachesEdges(t *testing.T) {
	dm := newDiamond()
	sf := dm.sf

	m, err := sf.mergeGroups(dm.ga, dm.gb)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(m.exprs); got != 2 {
		t.Errorf("merged exprs = %d, want 2", got)
	}
	if slices.Contains(sf.groups, dm.ga) || slices.Contains(sf.groups, dm.gb) {
		t.Error("merged groups still in the arena")
	}
	if got := len(sf.edges); got != 5 {
		t.Errorf("edges = %d, want 5", got)
	}
	if got := len(m.producers); got != 1 {
		t.Errorf("producers = %d, want 1", got)
	}
	if got := len(m.consumers); got != 3 {
		t.Errorf("consumers = %d, want 3 (a and b to add, b to mul)", got)
	}
	for _, e := range sf.edges {
		if e.from == e.to {
			t.Errorf("self-loop %s", e)
		}
	}
}

func TestMergeGroups_DeduplicatesSharedInput(t *testing.T) {
	dm := newDiamond()

	m, err := dm.sf.mergeGroups(dm.gb, dm.gc)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(m.producers); got != 1 {
		t.Errorf("producers = %d, want 1 (a read by both members)", got)
	}
	if got := len(m.consumers); got != 2 {
		t.Errorf("consumers = %d, want 2 (b and c to mul)", got)
	}
	if got := m.uid; got != 5 {
		t.Errorf("uid = %d, want 5", got)
	}
}

func TestMergeAllGroups_Errors(t *testing.T) {
	tests := []struct {
		name string
		set  func(dm *diamond) []*Group
		want errors.Code
	}{
		{"AuxiliaryMember", func(dm *diamond) []*Group { return []*Group{dm.aux, dm.ga} }, errors.ErrCodeProtectedGroup},
		{"SingleGroup", func(dm *diamond) []*Group { return []*Group{dm.ga} }, errors.ErrCodeInternal},
		{"Duplicate", func(dm *diamond) []*Group { return []*Group{dm.ga, dm.ga} }, errors.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dm := newDiamond()
			_, err := dm.sf.mergeAllGroups(tt.set(dm))
			if !errors.Is(err, tt.want) {
				t.Errorf("mergeAllGroups() error = %v, want %s", err, tt.want)
			}
			if len(dm.sf.groups) != 5 || len(dm.sf.edges) != 6 {
				t.Error("failed merge modified the arena")
			}
		})
	}
}

func TestRemoveEdge_Missing(t *testing.T) {
	dm := newDiamond()
	e := dm.ga.consumers[0]

	if err := dm.sf.removeEdge(e); err != nil {
		t.Fatal(err)
	}
	err := dm.sf.removeEdge(e)
	if !errors.Is(err, errors.ErrCodeEdgeNotFound) {
		t.Errorf("second removeEdge() = %v, want EDGE_NOT_FOUND", err)
	}
}

func TestResetLevels(t *testing.T) {
	dm := newDiamond()
	if err := dm.sf.resetLevels(); err != nil {
		t.Fatal(err)
	}
	want := map[*Group]int{dm.aux: 0, dm.ga: 1, dm.gb: 2, dm.gc: 3, dm.gd: 4}
	for g, lvl := range want {
		if g.level != lvl {
			t.Errorf("%s level = %d, want %d", g, g.level, lvl)
		}
	}
}

func TestCycleDetection(t *testing.T) {
	dm := newDiamond()
	dm.sf.connectGroups(dm.gd, dm.ga, dm.gd.exprs[0].Output(0))

	if err := dm.sf.resetLevels(); !errors.Is(err, errors.ErrCodeCycle) {
		t.Errorf("resetLevels() = %v, want CYCLE", err)
	}
	if _, err := newDependencyAnalysis(dm.sf); !errors.Is(err, errors.ErrCodeCycle) {
		t.Errorf("newDependencyAnalysis() = %v, want CYCLE", err)
	}
	if n := dm.sf.acyclicCount(); n != 1 {
		t.Errorf("acyclicCount() = %d, want 1", n)
	}
}

func TestDependencyAnalysis(t *testing.T) {
	dm := newDiamond()
	d, err := newDependencyAnalysis(dm.sf)
	if err != nil {
		t.Fatal(err)
	}

	if !d.isProducerOf(dm.ga, dm.gd) || d.isProducerOf(dm.gd, dm.ga) {
		t.Error("isProducerOf(a, d) should hold one way only")
	}
	if !d.isConsumerOf(dm.gc, dm.gb) {
		t.Error("isConsumerOf(c, b) = false")
	}
	if !d.isConsumerOfAny(dm.gd, []*Group{dm.gc}) || d.isConsumerOfAny(dm.gb, []*Group{dm.gc, dm.gd}) {
		t.Error("isConsumerOfAny mismatch")
	}
	if got := d.groupsBetween(dm.ga, dm.gd); !slices.Equal(got, []*Group{dm.gb, dm.gc}) {
		t.Errorf("groupsBetween(a, d) = %v, want [b c]", got)
	}
	if got := d.groupsBetween(dm.gb, dm.gc); len(got) != 0 {
		t.Errorf("groupsBetween(b, c) = %v, want none", got)
	}
	if got := d.commonProducersOf([]*Group{dm.gc, dm.gd}); !slices.Equal(got, []*Group{dm.aux, dm.ga, dm.gb}) {
		t.Errorf("commonProducersOf(c, d) = %v, want [x a b]", got)
	}

	m, err := dm.sf.mergeGroups(dm.gb, dm.gc)
	if err != nil {
		t.Fatal(err)
	}
	d.mergeGroups(dm.gb, dm.gc, m)

	if !d.isProducerOf(m, dm.gd) || !d.isProducerOf(dm.ga, m) {
		t.Error("merged group lost its dependencies")
	}
	if d.isProducerOf(dm.gb, dm.gd) {
		t.Error("retired group still indexed")
	}
	if err := d.checkCycles(); err != nil {
		t.Error(err)
	}
}

func TestDependencyAnalysis_AddGroup(t *testing.T) {
	dm := newDiamond()
	d, err := newDependencyAnalysis(dm.sf)
	if err != nil {
		t.Fatal(err)
	}

	g := dm.sf.newGroup()
	d.addGroup(g)
	d.addDependency(g, dm.gb)

	if !d.isProducerOf(g, dm.gb) || !d.isProducerOf(g, dm.gd) {
		t.Error("new dependency not propagated downstream")
	}
	if d.isProducerOf(g, dm.ga) {
		t.Error("new dependency leaked upstream")
	}
}

func TestGetMergeCandidates(t *testing.T) {
	dm := newDiamond()
	if err := dm.sf.resetLevels(); err != nil {
		t.Fatal(err)
	}

	round := newMergeRound()
	if got := dm.sf.getMergeCandidates(dm.gb, round); !slices.Equal(got, []*Group{dm.ga, dm.gc}) {
		t.Errorf("candidates(b) = %v, want [a c]", got)
	}
	if got := dm.sf.getMergeCandidates(dm.ga, round); !slices.Equal(got, []*Group{dm.gb}) {
		t.Errorf("candidates(a) = %v, want [b] (input groups are never candidates)", got)
	}

	round.propose(dm.gc, dm.gd, 0)
	if got := dm.sf.getMergeCandidates(dm.gb, round); got != nil {
		t.Errorf("candidates(b) next to a pending merge = %v, want none", got)
	}
}

func TestGetMergeCandidates_SkipsOutputEdges(t *testing.T) {
	f := ir.New()
	x := f.NewTensor("x", ir.Float, 4)
	f.AddInput(x)
	a := f.Unary("neg", x)
	b := f.Unary("exp", a)
	f.AddOutput(a)
	f.AddOutput(b)

	sf := newSegmentedFusion(f)
	ga := sf.newGroupFor(a.Definition())
	gb := sf.newGroupFor(b.Definition())
	sf.connectGroups(ga, gb, a)
	if err := sf.resetLevels(); err != nil {
		t.Fatal(err)
	}

	if got := sf.getMergeCandidates(ga, newMergeRound()); len(got) != 0 {
		t.Errorf("candidates = %v, want none across a fusion output", got)
	}
}
