package segment

import (
	"cmp"
	"slices"

	"github.com/matzehuels/fuseg/pkg/errors"
	"github.com/matzehuels/fuseg/pkg/ir"
	"github.com/matzehuels/fuseg/pkg/sched"
)

// finalize turns the merge state into the result: forwarded chains are
// placed, placeholders dropped, scalar computations copied into their
// readers, groups ordered and numbered, and every group given a heuristic
// the oracle accepts.
func (fd *finder) finalize() error {
	sf := fd.sf
	if err := fd.resolveForwardedInputs(); err != nil {
		return err
	}
	for _, g := range slices.Clone(sf.groups) {
		if g.aux {
			if err := sf.removeGroup(g); err != nil {
				return err
			}
		}
	}
	fd.resolveScalars()
	if fd.opts.ReduceBoundaryPrecision {
		fd.annotateHalf()
	}
	if err := sf.resetLevels(); err != nil {
		return err
	}

	order := make(map[*ir.Expr]int)
	for i, e := range sf.complete.Exprs() {
		order[e] = i
	}
	position := func(e *ir.Expr) int {
		if i, ok := order[e]; ok {
			return i
		}
		return len(order) + e.ID()
	}
	first := make(map[*Group]int, len(sf.groups))
	for _, g := range sf.groups {
		slices.SortStableFunc(g.exprs, func(a, b *ir.Expr) int { return cmp.Compare(position(a), position(b)) })
		first[g] = len(order) + g.uid
		if len(g.exprs) > 0 {
			first[g] = position(g.exprs[0])
		}
	}
	slices.SortStableFunc(sf.groups, func(a, b *Group) int {
		if c := cmp.Compare(a.level, b.level); c != 0 {
			return c
		}
		return cmp.Compare(first[a], first[b])
	})
	for i, g := range sf.groups {
		g.id = i
	}
	slices.SortStableFunc(sf.edges, func(a, b *Edge) int {
		return cmp.Or(
			cmp.Compare(a.from.id, b.from.id),
			cmp.Compare(a.to.id, b.to.id),
			cmp.Compare(a.val.ID(), b.val.ID()),
		)
	})
	for _, g := range sf.groups {
		g.finalize(sf.complete)
	}

	if err := fd.deriveHeuristics(); err != nil {
		return err
	}
	sf.stats.FinalGroups = len(sf.groups)
	return sf.Validate()
}

// resolveForwardedInputs gives every forwarded chain a group of its own and
// merges it into one of its consumers when the oracle accepts. A consumer
// is only tried when it does not depend on another consumer of the chain.
func (fd *finder) resolveForwardedInputs() error {
	sf := fd.sf
	for _, ch := range fd.chains {
		a := ch.aux
		if a == nil || !slices.Contains(sf.groups, a) {
			continue
		}
		consumers := a.consumerGroups()

		cg := sf.newGroup()
		cg.exprs = ch.exprs
		for _, e := range ch.exprs {
			fd.owner[e] = cg
		}
		for _, e := range slices.Clone(a.consumers) {
			if err := sf.removeEdge(e); err != nil {
				return err
			}
			if !connected(cg, e.to, e.val) {
				sf.connectGroups(cg, e.to, e.val)
			}
		}
		if fd.deps == nil {
			continue
		}
		fd.deps.addGroup(cg)
		for _, c := range consumers {
			fd.deps.addDependency(cg, c)
		}

		for _, c := range consumers {
			others := slices.DeleteFunc(slices.Clone(consumers), func(x *Group) bool { return x == c })
			if fd.deps.isConsumerOfAny(c, others) {
				continue
			}
			if h, ok := fd.probe("forwarded", cg, c); ok {
				if _, err := fd.commit("forwarded", []*Group{cg, c}, h); err != nil {
					return err
				}
				break
			}
		}
	}
	return nil
}

// resolveScalars copies the scalar-only expressions each group reads into
// the group. A scalar computation may end up in several groups.
func (fd *finder) resolveScalars() {
	f := fd.sf.complete
	for _, g := range fd.sf.groups {
		have := make(map[*ir.Expr]bool, len(g.exprs))
		for _, e := range g.exprs {
			have[e] = true
		}
		var add []*ir.Expr
		for _, e := range g.exprs {
			for _, in := range e.Inputs() {
				if !isDerivedScalar(f, in) {
					continue
				}
				walkScalar(f, in, func(def *ir.Expr) {
					if !have[def] {
						have[def] = true
						add = append(add, def)
					}
				}, func(*ir.Val) {})
			}
		}
		g.exprs = append(g.exprs, add...)
	}
}

// annotateHalf flags float32 intermediates crossing segment boundaries for
// reduced precision.
func (fd *finder) annotateHalf() {
	f := fd.sf.complete
	for _, e := range fd.sf.edges {
		v := e.val
		if v.IsTensor() && v.DType() == ir.Float && !f.IsInput(v) && !f.IsOutput(v) {
			fd.sf.half[v] = true
		}
	}
	if len(fd.sf.half) > 0 {
		fd.log.Debug("reduced boundary precision", "values", len(fd.sf.half), "type", fd.sf.halfType)
	}
}

// deriveHeuristics confirms each group's heuristic with the oracle, asking
// for a new one when the current one no longer applies.
func (fd *finder) deriveHeuristics() error {
	// A trivial segmentation was just proposed on the same view.
	if fd.sf.stats.Trivial {
		return nil
	}
	oracle := fd.oracle
	for _, g := range fd.sf.groups {
		h, ok := g.heuristic, false
		_ = fd.sf.withBoundary([]*Group{g}, func(view *ir.Fusion) error {
			fd.sf.stats.Probes++
			if g.heuristic != sched.None && oracle.CanSchedule(g.heuristic, view, fd.info) {
				ok = true
				return nil
			}
			h, ok = oracle.Propose(view, fd.info)
			return nil
		})
		if !ok {
			return errors.New(errors.ErrCodeUnschedulable, "no scheduler accepts group %d (%d exprs)", g.id, len(g.exprs))
		}
		g.heuristic = h
	}
	return nil
}
