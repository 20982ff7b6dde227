package segment

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/matzehuels/fuseg/pkg/errors"
)

// dependencyAnalysis indexes, for every group, the UIDs of all groups it
// transitively depends on.
type dependencyAnalysis struct {
	producers map[int]*roaring.Bitmap
	byUID     map[int]*Group
}

// newDependencyAnalysis builds the index with a forward worklist sweep. A
// group is visited once every producer edge comes from a visited group.
func newDependencyAnalysis(sf *SegmentedFusion) (*dependencyAnalysis, error) {
	d := &dependencyAnalysis{
		producers: make(map[int]*roaring.Bitmap, len(sf.groups)),
		byUID:     make(map[int]*Group, len(sf.groups)),
	}

	pending := make(map[*Group]int, len(sf.groups))
	var worklist []*Group
	for _, g := range sf.groups {
		d.byUID[g.uid] = g
		pending[g] = len(g.producers)
		if len(g.producers) == 0 {
			worklist = append(worklist, g)
		}
	}

	visited := 0
	for len(worklist) > 0 {
		g := worklist[0]
		worklist = worklist[1:]
		visited++

		set := roaring.New()
		for _, p := range g.producerGroups() {
			set.Add(uint32(p.uid))
			set.Or(d.producers[p.uid])
		}
		d.producers[g.uid] = set

		for _, e := range g.consumers {
			pending[e.to]--
			if pending[e.to] == 0 {
				worklist = append(worklist, e.to)
			}
		}
	}

	if visited != len(sf.groups) {
		return nil, errors.New(errors.ErrCodeCycle, "dependency sweep visited %d of %d groups", visited, len(sf.groups))
	}
	return d, nil
}

func (d *dependencyAnalysis) set(g *Group) *roaring.Bitmap {
	if s, ok := d.producers[g.uid]; ok {
		return s
	}
	return roaring.New()
}

// isProducerOf reports whether a is upstream of b.
func (d *dependencyAnalysis) isProducerOf(a, b *Group) bool {
	return d.set(b).Contains(uint32(a.uid))
}

// isConsumerOf reports whether a is downstream of b.
func (d *dependencyAnalysis) isConsumerOf(a, b *Group) bool {
	return d.isProducerOf(b, a)
}

// isConsumerOfAny reports whether g is downstream of any group in set.
func (d *dependencyAnalysis) isConsumerOfAny(g *Group, set []*Group) bool {
	producers := d.set(g)
	for _, s := range set {
		if producers.Contains(uint32(s.uid)) {
			return true
		}
	}
	return false
}

// commonProducersOf returns the groups upstream of every group in groups,
// ordered by UID. Intersection starts from the smallest producer set.
func (d *dependencyAnalysis) commonProducersOf(groups []*Group) []*Group {
	if len(groups) == 0 {
		return nil
	}
	sets := make([]*roaring.Bitmap, len(groups))
	for i, g := range groups {
		sets[i] = d.set(g)
	}
	slices.SortFunc(sets, func(a, b *roaring.Bitmap) int {
		return int(a.GetCardinality()) - int(b.GetCardinality())
	})
	common := sets[0].Clone()
	for _, s := range sets[1:] {
		if common.IsEmpty() {
			break
		}
		common.And(s)
	}
	return d.groupsOf(common)
}

// groupsBetween returns the groups that are downstream of producer and
// upstream of consumer, ordered by UID.
func (d *dependencyAnalysis) groupsBetween(producer, consumer *Group) []*Group {
	var out []*Group
	it := d.set(consumer).Iterator()
	for it.HasNext() {
		g, ok := d.byUID[int(it.Next())]
		if !ok || g == producer {
			continue
		}
		if d.isProducerOf(producer, g) {
			out = append(out, g)
		}
	}
	return out
}

// mergeGroups records that a and b were contracted into merged.
func (d *dependencyAnalysis) mergeGroups(a, b, merged *Group) {
	d.mergeGroupSet([]*Group{a, b}, merged)
}

// mergeGroupSet records that every group in set was contracted into merged.
// The merged group inherits the union of the members' producers; every group
// that depended on a member now depends on merged and on all of merged's
// producers.
func (d *dependencyAnalysis) mergeGroupSet(set []*Group, merged *Group) {
	members := roaring.New()
	for _, g := range set {
		members.Add(uint32(g.uid))
	}

	union := roaring.New()
	for _, g := range set {
		union.Or(d.set(g))
		delete(d.producers, g.uid)
		delete(d.byUID, g.uid)
	}
	union.AndNot(members)

	for _, s := range d.producers {
		if !s.Intersects(members) {
			continue
		}
		s.AndNot(members)
		s.Add(uint32(merged.uid))
		s.Or(union)
	}
	d.producers[merged.uid] = union
	d.byUID[merged.uid] = merged
}

// addGroup indexes a freshly created group whose producers are already
// indexed. The group must not have consumers yet.
func (d *dependencyAnalysis) addGroup(g *Group) {
	set := roaring.New()
	for _, p := range g.producerGroups() {
		set.Add(uint32(p.uid))
		set.Or(d.set(p))
	}
	d.producers[g.uid] = set
	d.byUID[g.uid] = g
}

// addDependency records that consumer now reads from producer, propagating
// the new upstream groups to everything downstream of consumer.
func (d *dependencyAnalysis) addDependency(producer, consumer *Group) {
	upstream := d.set(producer).Clone()
	upstream.Add(uint32(producer.uid))
	d.set(consumer).Or(upstream)
	for uid, s := range d.producers {
		if uid != consumer.uid && s.Contains(uint32(consumer.uid)) {
			s.Or(upstream)
		}
	}
}

// checkCycles fails when a group is its own producer.
func (d *dependencyAnalysis) checkCycles() error {
	for uid, s := range d.producers {
		if s.Contains(uint32(uid)) {
			return errors.New(errors.ErrCodeCycle, "group g%d depends on itself", uid)
		}
	}
	return nil
}

func (d *dependencyAnalysis) groupsOf(b *roaring.Bitmap) []*Group {
	var out []*Group
	it := b.Iterator()
	for it.HasNext() {
		if g, ok := d.byUID[int(it.Next())]; ok {
			out = append(out, g)
		}
	}
	return out
}
