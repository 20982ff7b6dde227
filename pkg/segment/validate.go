package segment

import (
	"fmt"
	"slices"

	"go.uber.org/multierr"

	"github.com/matzehuels/fuseg/pkg/errors"
	"github.com/matzehuels/fuseg/pkg/ir"
)

// Validate checks the structural invariants of a finalized segmentation and
// reports every violation found as one INVARIANT_VIOLATION error:
//
//   - every non-scalar expression of the fusion is in exactly one group
//   - no group holds an expression foreign to the fusion
//   - every edge is listed by both endpoints and joins two known groups
//   - no edge is a self-loop and the group graph is acyclic
//   - group IDs are dense and follow the level order
func (sf *SegmentedFusion) Validate() error {
	var err error

	live := sf.complete.Exprs()
	liveSet := make(map[*ir.Expr]bool, len(live))
	for _, e := range live {
		liveSet[e] = true
	}
	count := make(map[*ir.Expr]int)
	for _, g := range sf.groups {
		for _, e := range g.exprs {
			if !liveSet[e] {
				err = multierr.Append(err, fmt.Errorf("group %d holds foreign expression %s", g.id, e))
				continue
			}
			if !e.IsScalarOnly() {
				count[e]++
			}
		}
	}
	for _, e := range live {
		if e.IsScalarOnly() {
			continue
		}
		switch n := count[e]; {
		case n == 0:
			err = multierr.Append(err, fmt.Errorf("expression %s is in no group", e))
		case n > 1:
			err = multierr.Append(err, fmt.Errorf("expression %s is in %d groups", e, n))
		}
	}

	member := make(map[*Group]bool, len(sf.groups))
	for i, g := range sf.groups {
		member[g] = true
		if g.id != i {
			err = multierr.Append(err, fmt.Errorf("group at position %d has id %d", i, g.id))
		}
		if i > 0 && sf.groups[i-1].level > g.level {
			err = multierr.Append(err, fmt.Errorf("group %d is ordered before a lower level", sf.groups[i-1].id))
		}
	}
	for _, e := range sf.edges {
		if !member[e.from] || !member[e.to] {
			err = multierr.Append(err, fmt.Errorf("edge %s joins an unknown group", e))
			continue
		}
		if e.from == e.to {
			err = multierr.Append(err, fmt.Errorf("edge %s is a self-loop", e))
		}
		if !slices.Contains(e.from.consumers, e) || !slices.Contains(e.to.producers, e) {
			err = multierr.Append(err, fmt.Errorf("edge %s is not listed by both endpoints", e))
		}
	}
	for _, g := range sf.groups {
		for _, e := range slices.Concat(g.producers, g.consumers) {
			if !slices.Contains(sf.edges, e) {
				err = multierr.Append(err, fmt.Errorf("group %d lists edge %s missing from the segmentation", g.id, e))
			}
		}
	}
	if n := sf.acyclicCount(); n != len(sf.groups) {
		err = multierr.Append(err, fmt.Errorf("group graph has a cycle: %d of %d groups sortable", n, len(sf.groups)))
	}

	if err != nil {
		return errors.Wrap(errors.ErrCodeInvariantViolation, err, "invalid segmentation")
	}
	return nil
}

// acyclicCount returns how many groups a topological sort reaches without
// touching the stored levels.
func (sf *SegmentedFusion) acyclicCount() int {
	pending := make(map[*Group]int, len(sf.groups))
	var queue []*Group
	for _, g := range sf.groups {
		pending[g] = len(g.producers)
		if len(g.producers) == 0 {
			queue = append(queue, g)
		}
	}
	n := 0
	for len(queue) > 0 {
		g := queue[0]
		queue = queue[1:]
		n++
		for _, e := range g.consumers {
			pending[e.to]--
			if pending[e.to] == 0 {
				queue = append(queue, e.to)
			}
		}
	}
	return n
}
