package segment

import (
	"github.com/matzehuels/fuseg/pkg/ir"
)

// mergeCastChains merges a group holding an up-cast with the pointwise
// groups downstream of it up to a down-cast back to the original type. The
// intermediate full-precision tensors then stay inside one kernel.
func (fd *finder) mergeCastChains() error {
	for {
		merged := false
		for _, g := range fd.sf.exprGroups() {
			set := fd.castChainSet(g)
			if len(set) < 2 {
				continue
			}
			h, ok := fd.probe("cast_chain", set...)
			if !ok {
				continue
			}
			if _, err := fd.commit("cast_chain", set, h); err != nil {
				return err
			}
			merged = true
			break
		}
		if !merged {
			return nil
		}
	}
}

// castChainSet grows a set from root through pointwise consumer groups whose
// producers are all in the set, stopping at down-casts. The set is then
// trimmed to the groups on a path from root to a down-cast to the type the
// up-cast started from. The result is in topological order.
func (fd *finder) castChainSet(root *Group) []*Group {
	var up *ir.Expr
	for _, e := range root.exprs {
		if e.IsUpCast() {
			up = e
			break
		}
	}
	if up == nil {
		return nil
	}
	want := up.Input(0).DType()

	in := map[*Group]bool{root: true}
	order := []*Group{root}
	queue := []*Group{root}
	for len(queue) > 0 {
		x := queue[0]
		queue = queue[1:]
		if x != root && x.hasExpr((*ir.Expr).IsDownCast) {
			continue
		}
		for _, c := range x.consumerGroups() {
			if in[c] || !allPointwise(c) || !producersWithin(c, in) {
				continue
			}
			in[c] = true
			order = append(order, c)
			queue = append(queue, c)
		}
	}

	keep := make(map[*Group]bool)
	for i := len(order) - 1; i >= 0; i-- {
		g := order[i]
		if g != root && hasDownCastTo(g, want) {
			keep[g] = true
			continue
		}
		for _, c := range g.consumerGroups() {
			if keep[c] {
				keep[g] = true
				break
			}
		}
	}
	if !keep[root] {
		return nil
	}
	var out []*Group
	for _, g := range order {
		if keep[g] {
			out = append(out, g)
		}
	}
	return out
}

func allPointwise(g *Group) bool {
	if len(g.exprs) == 0 {
		return false
	}
	for _, e := range g.exprs {
		if !e.IsPointwise() {
			return false
		}
	}
	return true
}

func producersWithin(g *Group, in map[*Group]bool) bool {
	for _, p := range g.producerGroups() {
		if !p.aux && !in[p] {
			return false
		}
	}
	return true
}

func hasDownCastTo(g *Group, dt ir.DataType) bool {
	for _, e := range g.exprs {
		if e.IsDownCast() && e.Output(0).DType() == dt {
			return true
		}
	}
	return false
}
