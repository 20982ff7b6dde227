package segment

import (
	"slices"
)

// mergePadCat merges each concatenation with the groups of its padded
// inputs, so the pads never materialize.
func (fd *finder) mergePadCat() error {
	for {
		merged := false
		for _, g := range fd.sf.exprGroups() {
			set := fd.padCatSet(g)
			if set == nil {
				continue
			}
			h, ok := fd.probe("pad_cat", set...)
			if !ok {
				continue
			}
			if _, err := fd.commit("pad_cat", set, h); err != nil {
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

// padCatSet returns g plus the groups of the pads feeding a cat in g. Every
// cat input must be a pad used only by the cat, and every group between a
// pad and the cat must already be in the set.
func (fd *finder) padCatSet(g *Group) []*Group {
	for _, e := range g.exprs {
		if !e.IsCat() {
			continue
		}
		set := []*Group{g}
		ok := true
		for _, in := range e.Inputs() {
			def := in.Definition()
			if def == nil || !def.IsPad() || len(in.Uses()) != 1 {
				ok = false
				break
			}
			pg := fd.owner[def]
			if pg == nil {
				ok = false
				break
			}
			if !slices.Contains(set, pg) {
				set = append(set, pg)
			}
		}
		if !ok || len(set) < 2 {
			continue
		}
		for _, pg := range set[1:] {
			for _, b := range fd.deps.groupsBetween(pg, g) {
				if !slices.Contains(set, b) {
					ok = false
				}
			}
		}
		if ok {
			return set
		}
	}
	return nil
}
