package segment

import (
	"fmt"
	"slices"
	"strings"

	"github.com/matzehuels/fuseg/pkg/errors"
	"github.com/matzehuels/fuseg/pkg/ir"
)

// SegmentedFusion owns the groups and edges partitioning a complete fusion.
//
// The complete fusion must outlive the SegmentedFusion. After [Segment]
// returns, the groups and edges are immutable.
type SegmentedFusion struct {
	complete *ir.Fusion
	groups   []*Group
	edges    []*Edge
	nextUID  int

	// Values cast to halfType across segment boundaries.
	half     map[*ir.Val]bool
	halfType ir.DataType

	// Deterministic orderings captured at creation.
	valIndex  map[*ir.Val]int
	exprIndex map[*ir.Expr]int
	numVals   int
	numExprs  int

	stats Stats
}

func newSegmentedFusion(complete *ir.Fusion) *SegmentedFusion {
	sf := &SegmentedFusion{
		complete:  complete,
		half:      make(map[*ir.Val]bool),
		halfType:  ir.Half,
		valIndex:  make(map[*ir.Val]int),
		exprIndex: make(map[*ir.Expr]int),
	}
	for i, v := range complete.Vals() {
		sf.valIndex[v] = i
	}
	for i, e := range complete.Exprs() {
		sf.exprIndex[e] = i
	}
	sf.numVals = len(sf.valIndex)
	sf.numExprs = len(sf.exprIndex)
	return sf
}

// Fusion returns the complete fusion being segmented.
func (sf *SegmentedFusion) Fusion() *ir.Fusion { return sf.complete }

// Groups returns the groups, ordered by ID once finalized.
func (sf *SegmentedFusion) Groups() []*Group { return sf.groups }

// Edges returns every edge between groups.
func (sf *SegmentedFusion) Edges() []*Edge { return sf.edges }

// Stats returns counters collected while segmenting.
func (sf *SegmentedFusion) Stats() Stats { return sf.stats }

// IsHalf reports whether v is cast to reduced precision at segment boundaries.
func (sf *SegmentedFusion) IsHalf(v *ir.Val) bool { return sf.half[v] }

// HalfType returns the reduced precision type used for boundary casts.
func (sf *SegmentedFusion) HalfType() ir.DataType { return sf.halfType }

// HalfVals returns the values flagged for boundary precision reduction,
// ordered by ID.
func (sf *SegmentedFusion) HalfVals() []*ir.Val {
	var s valSet
	for v := range sf.half {
		s.add(v)
	}
	return s.sorted()
}

// =============================================================================
// Arena
// =============================================================================

func (sf *SegmentedFusion) newGroup() *Group {
	g := &Group{uid: sf.nextUID, id: -1}
	sf.nextUID++
	sf.groups = append(sf.groups, g)
	return g
}

func (sf *SegmentedFusion) newGroupFor(e *ir.Expr) *Group {
	g := sf.newGroup()
	g.exprs = []*ir.Expr{e}
	return g
}

func (sf *SegmentedFusion) newAuxGroup(v *ir.Val) *Group {
	g := sf.newGroup()
	g.aux = true
	g.auxInput = v
	return g
}

func (sf *SegmentedFusion) newEdge(from, to *Group, v *ir.Val) *Edge {
	e := &Edge{from: from, to: to, val: v}
	sf.edges = append(sf.edges, e)
	return e
}

// connectGroups adds one edge referenced by both endpoints.
func (sf *SegmentedFusion) connectGroups(producer, consumer *Group, v *ir.Val) *Edge {
	e := sf.newEdge(producer, consumer, v)
	producer.consumers = append(producer.consumers, e)
	consumer.producers = append(consumer.producers, e)
	return e
}

// connected reports whether an edge producer -> consumer carrying v exists.
func connected(producer, consumer *Group, v *ir.Val) bool {
	return slices.ContainsFunc(producer.consumers, func(e *Edge) bool {
		return e.to == consumer && e.val == v
	})
}

// removeEdge unlinks e from both endpoints and the arena.
func (sf *SegmentedFusion) removeEdge(e *Edge) error {
	pi := slices.Index(e.from.consumers, e)
	ci := slices.Index(e.to.producers, e)
	gi := slices.Index(sf.edges, e)
	if pi < 0 || ci < 0 || gi < 0 {
		return errors.New(errors.ErrCodeEdgeNotFound, "edge %s missing (producer list %v, consumer list %v, arena %v)",
			e, pi >= 0, ci >= 0, gi >= 0)
	}
	e.from.consumers = slices.Delete(e.from.consumers, pi, pi+1)
	e.to.producers = slices.Delete(e.to.producers, ci, ci+1)
	sf.edges = slices.Delete(sf.edges, gi, gi+1)
	return nil
}

// removeGroup disconnects g and drops it from the arena.
func (sf *SegmentedFusion) removeGroup(g *Group) error {
	for _, e := range slices.Concat(g.producers, g.consumers) {
		if err := sf.removeEdge(e); err != nil {
			return err
		}
	}
	sf.groups = slices.DeleteFunc(sf.groups, func(x *Group) bool { return x == g })
	return nil
}

// mergeGroups contracts a and b into a new group.
func (sf *SegmentedFusion) mergeGroups(a, b *Group) (*Group, error) {
	return sf.mergeAllGroups([]*Group{a, b})
}

// mergeAllGroups contracts set into a new group. Edges internal to the set
// disappear; the remaining edges are re-attached to the new group,
// de-duplicated by (producer, value) and (consumer, value).
func (sf *SegmentedFusion) mergeAllGroups(set []*Group) (*Group, error) {
	if len(set) < 2 {
		return nil, errors.New(errors.ErrCodeInternal, "merge of %d groups", len(set))
	}
	member := make(map[*Group]bool, len(set))
	for _, g := range set {
		if g.aux {
			return nil, errors.New(errors.ErrCodeProtectedGroup, "cannot merge input group %s", g)
		}
		if member[g] {
			return nil, errors.New(errors.ErrCodeInternal, "group %s listed twice in merge", g)
		}
		member[g] = true
	}

	type link struct {
		g *Group
		v *ir.Val
	}
	var (
		ins, outs   []link
		seenIn      = make(map[link]bool)
		seenOut     = make(map[link]bool)
		stale       []*Edge
		staleMarked = make(map[*Edge]bool)
	)
	mark := func(e *Edge) {
		if !staleMarked[e] {
			staleMarked[e] = true
			stale = append(stale, e)
		}
	}
	for _, g := range set {
		for _, e := range g.producers {
			mark(e)
			if l := (link{e.from, e.val}); !member[e.from] && !seenIn[l] {
				seenIn[l] = true
				ins = append(ins, l)
			}
		}
		for _, e := range g.consumers {
			mark(e)
			if l := (link{e.to, e.val}); !member[e.to] && !seenOut[l] {
				seenOut[l] = true
				outs = append(outs, l)
			}
		}
	}
	for _, e := range stale {
		if err := sf.removeEdge(e); err != nil {
			return nil, err
		}
	}

	merged := sf.newGroup()
	for _, g := range set {
		merged.exprs = append(merged.exprs, g.exprs...)
	}
	sf.groups = slices.DeleteFunc(sf.groups, func(g *Group) bool { return member[g] })
	for _, l := range ins {
		sf.connectGroups(l.g, merged, l.v)
	}
	for _, l := range outs {
		sf.connectGroups(merged, l.g, l.v)
	}
	return merged, nil
}

// String pretty-prints groups and edges for debugging.
func (sf *SegmentedFusion) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "segmented fusion: %d groups, %d edges\n", len(sf.groups), len(sf.edges))
	for _, g := range sf.groups {
		label := fmt.Sprintf("g%d", g.uid)
		if g.id >= 0 {
			label = fmt.Sprintf("group %d", g.id)
		}
		if g.aux {
			fmt.Fprintf(&b, "  %s: input %s\n", label, g.auxInput)
			continue
		}
		fmt.Fprintf(&b, "  %s: level %d, %s\n", label, g.level, g.heuristic)
		for _, e := range g.exprs {
			fmt.Fprintf(&b, "    %s\n", e)
		}
	}
	for _, e := range sf.edges {
		fmt.Fprintf(&b, "  %s\n", e)
	}
	return b.String()
}

// exprGroups returns the non-auxiliary groups.
func (sf *SegmentedFusion) exprGroups() []*Group {
	var out []*Group
	for _, g := range sf.groups {
		if !g.aux {
			out = append(out, g)
		}
	}
	return out
}
