package segment

import (
	"slices"

	"github.com/matzehuels/fuseg/pkg/errors"
	"github.com/matzehuels/fuseg/pkg/ir"
)

// MakeFusion returns a standalone fusion computing group g, bounded by the
// group's inputs and outputs.
//
// Boundary values flagged for reduced precision appear in the result as
// HalfType inputs cast back to float32 on entry, and as HalfType outputs
// cast on exit.
func (sf *SegmentedFusion) MakeFusion(g *Group) (*ir.Fusion, error) {
	if g == nil || !slices.Contains(sf.groups, g) {
		return nil, errors.New(errors.ErrCodeNotFound, "group is not part of this segmentation")
	}
	f, m, err := sf.complete.Extract(g.inputs, g.outputs, g.exprs)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "extract group %d", g.id)
	}
	if len(sf.half) == 0 {
		return f, nil
	}

	for _, v := range g.inputs {
		if !sf.half[v] {
			continue
		}
		nv := m[v]
		hv := f.NewTensorLike(nv.Name()+"_"+sf.halfType.String(), sf.halfType, nv)
		f.SwapInput(nv, hv)
		back := f.Cast(hv, ir.Float)
		f.ReplaceAllUses(nv, back)
		if f.IsOutput(nv) {
			f.ReplaceOutput(nv, back)
		}
	}
	for _, v := range g.outputs {
		if !sf.half[v] {
			continue
		}
		nv := m[v]
		if !f.IsOutput(nv) || f.IsInput(nv) {
			continue
		}
		f.ReplaceOutput(nv, f.Cast(nv, sf.halfType))
	}
	return f, nil
}
