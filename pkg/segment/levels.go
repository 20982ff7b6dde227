package segment

import "github.com/matzehuels/fuseg/pkg/errors"

// resetLevels assigns every group its longest-path distance from a source
// using Kahn's algorithm. Groups left unvisited sit on a cycle.
func (sf *SegmentedFusion) resetLevels() error {
	pending := make(map[*Group]int, len(sf.groups))
	queue := make([]*Group, 0, len(sf.groups))
	for _, g := range sf.groups {
		g.level = 0
		pending[g] = len(g.producers)
		if len(g.producers) == 0 {
			queue = append(queue, g)
		}
	}

	visited := 0
	for len(queue) > 0 {
		g := queue[0]
		queue = queue[1:]
		visited++

		for _, e := range g.consumers {
			if lvl := g.level + 1; lvl > e.to.level {
				e.to.level = lvl
			}
			pending[e.to]--
			if pending[e.to] == 0 {
				queue = append(queue, e.to)
			}
		}
	}

	if visited != len(sf.groups) {
		return errors.New(errors.ErrCodeCycle, "level sweep visited %d of %d groups", visited, len(sf.groups))
	}
	return nil
}
