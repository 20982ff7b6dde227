package segment

import (
	"fmt"
	"slices"

	"github.com/matzehuels/fuseg/pkg/ir"
	"github.com/matzehuels/fuseg/pkg/sched"
)

// Group is one cell of the partition: a set of expressions compiled together
// as a single kernel.
//
// Groups are owned by their [SegmentedFusion]. A group's UID is stable for its
// lifetime and never reused; merging two groups retires both UIDs and
// allocates a new one. The final ID is assigned in topological order when the
// segmentation is finalized.
type Group struct {
	uid       int
	id        int
	exprs     []*ir.Expr
	producers []*Edge
	consumers []*Edge
	inputs    []*ir.Val
	outputs   []*ir.Val
	heuristic sched.Heuristic
	level     int

	// aux marks a placeholder for a fusion input (or the end of a forwarded
	// chain). Auxiliary groups have no expressions and cannot be merged.
	aux      bool
	auxInput *ir.Val
}

// UID returns the allocation handle of the group.
func (g *Group) UID() int { return g.uid }

// ID returns the final group id, or -1 before finalization.
func (g *Group) ID() int { return g.id }

// Exprs returns the member expressions in topological order once finalized.
func (g *Group) Exprs() []*ir.Expr { return g.exprs }

// Inputs returns the values the group reads from outside, ordered by value ID.
func (g *Group) Inputs() []*ir.Val { return g.inputs }

// Outputs returns the values the group makes visible outside, ordered by
// value ID.
func (g *Group) Outputs() []*ir.Val { return g.outputs }

// Producers returns the edges entering the group.
func (g *Group) Producers() []*Edge { return g.producers }

// Consumers returns the edges leaving the group.
func (g *Group) Consumers() []*Edge { return g.consumers }

// Heuristic returns the scheduler type assigned to the group.
func (g *Group) Heuristic() sched.Heuristic { return g.heuristic }

// Level returns the longest-path distance from a source group.
func (g *Group) Level() int { return g.level }

// IsAuxiliary reports whether g is an input placeholder.
func (g *Group) IsAuxiliary() bool { return g.aux }

func (g *Group) String() string {
	if g.aux {
		return fmt.Sprintf("g%d(input %s)", g.uid, g.auxInput)
	}
	return fmt.Sprintf("g%d(%d exprs, level %d)", g.uid, len(g.exprs), g.level)
}

// producerGroups returns the distinct groups with an edge into g, in edge order.
func (g *Group) producerGroups() []*Group {
	var out []*Group
	for _, e := range g.producers {
		if !slices.Contains(out, e.from) {
			out = append(out, e.from)
		}
	}
	return out
}

// consumerGroups returns the distinct groups g has an edge into, in edge order.
func (g *Group) consumerGroups() []*Group {
	var out []*Group
	for _, e := range g.consumers {
		if !slices.Contains(out, e.to) {
			out = append(out, e.to)
		}
	}
	return out
}

// neighbors returns every distinct adjacent group.
func (g *Group) neighbors() []*Group {
	out := g.producerGroups()
	for _, c := range g.consumerGroups() {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

func (g *Group) hasExpr(pred func(*ir.Expr) bool) bool {
	return slices.ContainsFunc(g.exprs, pred)
}

// reductionSignatures returns the distinct signatures of the group's
// reduction-like expressions.
func (g *Group) reductionSignatures() []ir.ReductionSignature {
	var sigs []ir.ReductionSignature
	for _, e := range g.exprs {
		if sig, ok := e.ReductionSignature(); ok && !slices.Contains(sigs, sig) {
			sigs = append(sigs, sig)
		}
	}
	return sigs
}

// finalize derives the externally visible inputs and outputs of g.
//
// Inputs are the values read by member expressions but not produced by them
// (edge values, fusion inputs and free scalars) plus inputs aliased by the
// group's outputs. Outputs are edge values leaving the group and fusion
// outputs it produces.
func (g *Group) finalize(complete *ir.Fusion) {
	produced := make(map[*ir.Val]bool)
	for _, e := range g.exprs {
		for _, o := range e.Outputs() {
			produced[o] = true
		}
	}

	var ins, outs valSet
	for _, e := range g.producers {
		ins.add(e.val)
	}
	for _, e := range g.exprs {
		for _, in := range e.Inputs() {
			if !produced[in] {
				ins.add(in)
			}
		}
	}
	for _, e := range g.consumers {
		outs.add(e.val)
	}
	for _, e := range g.exprs {
		for _, o := range e.Outputs() {
			if complete.IsOutput(o) {
				outs.add(o)
				if in, ok := complete.AliasedInput(o); ok {
					ins.add(in)
				}
			}
		}
	}
	g.inputs = ins.sorted()
	g.outputs = outs.sorted()
}

// Edge connects a producer group to a consumer group through one value.
type Edge struct {
	from *Group
	to   *Group
	val  *ir.Val
}

// From returns the producing group.
func (e *Edge) From() *Group { return e.from }

// To returns the consuming group.
func (e *Edge) To() *Group { return e.to }

// Val returns the value carried across the boundary.
func (e *Edge) Val() *ir.Val { return e.val }

func (e *Edge) String() string {
	return fmt.Sprintf("%s -> %s [%s]", e.from, e.to, e.val)
}

// valSet is an insertion-deduplicated list of values.
type valSet struct {
	list []*ir.Val
	seen map[*ir.Val]bool
}

func (s *valSet) add(v *ir.Val) {
	if s.seen == nil {
		s.seen = make(map[*ir.Val]bool)
	}
	if s.seen[v] {
		return
	}
	s.seen[v] = true
	s.list = append(s.list, v)
}

func (s *valSet) has(v *ir.Val) bool { return s.seen[v] }

func (s *valSet) sorted() []*ir.Val {
	out := slices.Clone(s.list)
	slices.SortFunc(out, func(a, b *ir.Val) int { return a.ID() - b.ID() })
	return out
}
