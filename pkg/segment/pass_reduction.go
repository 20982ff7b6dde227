package segment

import (
	"cmp"
	"slices"

	"github.com/matzehuels/fuseg/pkg/ir"
)

// combineReductions merges pairs of groups whose reductions share a
// signature, either vertically (one feeds the other) or horizontally
// (siblings under a common producer). Each pair is tried once.
func (fd *finder) combineReductions() error {
	tried := make(map[string]bool)
	for {
		if err := fd.sf.resetLevels(); err != nil {
			return err
		}
		merged := false
	buckets:
		for _, bucket := range fd.reductionBuckets() {
			for i := 0; i < len(bucket); i++ {
				for j := i + 1; j < len(bucket); j++ {
					a, b := bucket[i], bucket[j]
					key := probeKey([]*Group{a, b})
					if tried[key] {
						continue
					}
					tried[key] = true

					m, err := fd.verticalMerge(a, b)
					if err != nil {
						return err
					}
					if m == nil {
						if m, err = fd.horizontalMerge(a, b); err != nil {
							return err
						}
					}
					if m != nil {
						merged = true
						break buckets
					}
				}
			}
		}
		if !merged {
			return nil
		}
	}
}

// reductionBuckets groups the expression groups holding exactly one
// reduction signature by that signature, in group order.
func (fd *finder) reductionBuckets() [][]*Group {
	var (
		sigs    []ir.ReductionSignature
		buckets [][]*Group
	)
	for _, g := range fd.sf.exprGroups() {
		s := g.reductionSignatures()
		if len(s) != 1 {
			continue
		}
		i := slices.Index(sigs, s[0])
		if i < 0 {
			sigs = append(sigs, s[0])
			buckets = append(buckets, nil)
			i = len(sigs) - 1
		}
		buckets[i] = append(buckets[i], g)
	}
	return buckets
}

// sameSignature reports whether every reduction in groups has signature sig.
func sameSignature(groups []*Group, sig ir.ReductionSignature) bool {
	for _, g := range groups {
		if g.aux {
			return false
		}
		for _, s := range g.reductionSignatures() {
			if s != sig {
				return false
			}
		}
	}
	return true
}

// verticalMerge merges a producer reduction group with a consumer reduction
// group and every group between them. It returns nil when the groups are
// unrelated or the merge is rejected.
func (fd *finder) verticalMerge(a, b *Group) (*Group, error) {
	p, c := a, b
	switch {
	case fd.deps.isProducerOf(a, b):
	case fd.deps.isProducerOf(b, a):
		p, c = b, a
	default:
		return nil, nil
	}
	sigs := p.reductionSignatures()
	if len(sigs) != 1 {
		return nil, nil
	}

	set := append([]*Group{p}, fd.deps.groupsBetween(p, c)...)
	set = append(set, c)
	if !sameSignature(set, sigs[0]) {
		return nil, nil
	}
	h, ok := fd.probe("reduction_vertical", set...)
	if !ok {
		return nil, nil
	}
	return fd.commit("reduction_vertical", set, h)
}

// horizontalMerge merges two independent reduction groups with the groups
// between them and their nearest common producer. The producer itself stays
// outside, which lets a fusion input act as the common producer. The set
// must be closed: every producer of a member is a member, the common
// producer or upstream of it.
func (fd *finder) horizontalMerge(a, b *Group) (*Group, error) {
	if fd.deps.isProducerOf(a, b) || fd.deps.isProducerOf(b, a) {
		return nil, nil
	}
	sigs := a.reductionSignatures()
	if len(sigs) != 1 {
		return nil, nil
	}

	common := fd.deps.commonProducersOf([]*Group{a, b})
	slices.SortStableFunc(common, func(x, y *Group) int { return cmp.Compare(y.level, x.level) })

	for _, cp := range common {
		set := []*Group{a, b}
		for _, g := range slices.Concat(fd.deps.groupsBetween(cp, a), fd.deps.groupsBetween(cp, b)) {
			if !slices.Contains(set, g) {
				set = append(set, g)
			}
		}
		if !fd.closedOver(set, cp) || !sameSignature(set, sigs[0]) {
			continue
		}
		h, ok := fd.probe("reduction_horizontal", set...)
		if !ok {
			return nil, nil
		}
		return fd.commit("reduction_horizontal", set, h)
	}
	return nil, nil
}

func (fd *finder) closedOver(set []*Group, cp *Group) bool {
	for _, m := range set {
		for _, p := range m.producerGroups() {
			if p.aux || p == cp || slices.Contains(set, p) || fd.deps.isProducerOf(p, cp) {
				continue
			}
			return false
		}
	}
	return true
}
