package segment

import (
	"slices"

	"github.com/matzehuels/fuseg/pkg/sched"
)

// mergeRound holds the merges proposed during one round of the greedy loop.
// A fresh round is built every iteration, so no merge state outlives it.
type mergeRound struct {
	partner map[*Group]*Group
	pairs   []proposedMerge
}

type proposedMerge struct {
	a, b *Group
	h    sched.Heuristic
}

func newMergeRound() *mergeRound {
	return &mergeRound{partner: make(map[*Group]*Group)}
}

func (r *mergeRound) merged(g *Group) bool {
	_, ok := r.partner[g]
	return ok
}

func (r *mergeRound) propose(a, b *Group, h sched.Heuristic) {
	r.partner[a] = b
	r.partner[b] = a
	r.pairs = append(r.pairs, proposedMerge{a: a, b: b, h: h})
}

func within1(a, b int) bool {
	d := a - b
	return d >= -1 && d <= 1
}

// getMergeCandidates returns the neighbours g may merge with this round.
//
// A merge is only allowed between groups whose levels differ by at most one,
// and only when no neighbour already scheduled to merge this round sits
// within one level of either side. Edges carrying fusion outputs and
// neighbours without expressions are never candidates.
func (sf *SegmentedFusion) getMergeCandidates(g *Group, round *mergeRound) []*Group {
	if round.merged(g) || len(g.exprs) == 0 {
		return nil
	}

	all := g.neighbors()
	for _, n := range all {
		if !round.merged(n) {
			continue
		}
		if within1(n.level, g.level) || within1(round.partner[n].level, g.level) {
			return nil
		}
	}

	var eligible []*Group
	add := func(n *Group, e *Edge) {
		if len(n.exprs) == 0 || sf.complete.IsOutput(e.val) {
			return
		}
		if !slices.Contains(eligible, n) {
			eligible = append(eligible, n)
		}
	}
	for _, e := range g.producers {
		add(e.from, e)
	}
	for _, e := range g.consumers {
		add(e.to, e)
	}
	var out []*Group
	for _, n := range eligible {
		if round.merged(n) || !within1(n.level, g.level) {
			continue
		}
		ok := true
		for _, nn := range n.neighbors() {
			if nn == g || !round.merged(nn) {
				continue
			}
			p := round.partner[nn]
			if within1(nn.level, g.level) || within1(nn.level, n.level) ||
				within1(p.level, g.level) || within1(p.level, n.level) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, n)
		}
	}
	return out
}
