package segment

import (
	"slices"

	"github.com/matzehuels/fuseg/pkg/ir"
)

// walkScalar follows a scalar back through scalar-only definitions. onExpr
// sees every definition crossed; onLeaf sees the values where the walk stops
// (fusion inputs, undefined scalars and tensors read for their metadata).
func walkScalar(complete *ir.Fusion, v *ir.Val, onExpr func(*ir.Expr), onLeaf func(*ir.Val)) {
	seen := make(map[*ir.Val]bool)
	var visit func(v *ir.Val)
	visit = func(v *ir.Val) {
		if seen[v] {
			return
		}
		seen[v] = true
		def := v.Definition()
		if complete.IsInput(v) || def == nil || !def.IsScalarOnly() {
			onLeaf(v)
			return
		}
		if onExpr != nil {
			onExpr(def)
		}
		for _, in := range def.Inputs() {
			visit(in)
		}
	}
	visit(v)
}

// isDerivedScalar reports whether v is a scalar computed by scalar-only
// expressions rather than supplied from outside.
func isDerivedScalar(complete *ir.Fusion, v *ir.Val) bool {
	def := v.Definition()
	return v.IsScalar() && def != nil && def.IsScalarOnly() && !complete.IsInput(v)
}

// boundary returns the inputs and outputs of the segment formed by groups,
// ordered by value ID.
func (sf *SegmentedFusion) boundary(groups []*Group) (inputs, outputs []*ir.Val) {
	member := make(map[*Group]bool, len(groups))
	produced := make(map[*ir.Val]bool)
	for _, g := range groups {
		member[g] = true
		for _, e := range g.exprs {
			for _, o := range e.Outputs() {
				produced[o] = true
			}
		}
	}

	var ins, outs valSet
	for _, g := range groups {
		for _, e := range g.producers {
			if !member[e.from] {
				ins.add(e.val)
			}
		}
	}
	for _, g := range groups {
		for _, e := range g.exprs {
			for _, in := range e.Inputs() {
				switch {
				case produced[in]:
				case isDerivedScalar(sf.complete, in):
					walkScalar(sf.complete, in, nil, func(leaf *ir.Val) {
						if !produced[leaf] {
							ins.add(leaf)
						}
					})
				default:
					ins.add(in)
				}
			}
		}
	}
	for _, g := range groups {
		for _, e := range g.consumers {
			if !member[e.to] {
				outs.add(e.val)
			}
		}
	}
	for _, g := range groups {
		for _, e := range g.exprs {
			for _, o := range e.Outputs() {
				if !sf.complete.IsOutput(o) {
					continue
				}
				outs.add(o)
				if in, ok := sf.complete.AliasedInput(o); ok && !produced[in] {
					ins.add(in)
				}
			}
		}
	}
	return ins.sorted(), outs.sorted()
}

// withBoundary narrows the complete fusion to the segment formed by groups,
// runs fn on it and restores the original boundary on every exit path,
// including panics. Values flagged for precision reduction are routed
// through temporary casts for the duration of the call.
func (sf *SegmentedFusion) withBoundary(groups []*Group, fn func(view *ir.Fusion) error) error {
	f := sf.complete
	inputs, outputs := sf.boundary(groups)
	savedIn, savedOut := f.Inputs(), f.Outputs()

	var casts *boundaryCasts
	defer func() {
		for _, v := range f.Inputs() {
			f.RemoveInput(v)
		}
		for _, v := range f.Outputs() {
			f.RemoveOutput(v)
		}
		for _, v := range savedIn {
			f.AddInput(v)
		}
		for _, v := range savedOut {
			f.AddOutput(v)
		}
		if casts != nil {
			casts.revert()
		}
	}()

	if len(sf.half) > 0 {
		casts = sf.insertBoundaryCasts(groups, inputs, outputs)
		inputs, outputs = casts.inputs, casts.outputs
	}

	for _, v := range savedIn {
		f.RemoveInput(v)
	}
	for _, v := range savedOut {
		f.RemoveOutput(v)
	}
	for _, v := range inputs {
		f.AddInput(v)
	}
	for _, v := range outputs {
		f.AddOutput(v)
	}
	return fn(f)
}

// boundaryCasts records the casts inserted for one probe.
type boundaryCasts struct {
	f        *ir.Fusion
	inputs   []*ir.Val
	outputs  []*ir.Val
	consumed []consumedCast
	produced []*ir.Expr
}

type consumedCast struct {
	orig, half, back *ir.Val
	rewired          []*ir.Expr
}

// insertBoundaryCasts routes flagged float32 boundary values through
// reduced precision. A consumed value v becomes half = cast(v) and
// back = cast(half) with the segment's uses of v reading back; a produced
// value is replaced on the boundary by its cast. Each value is cast at most
// once per probe.
func (sf *SegmentedFusion) insertBoundaryCasts(groups []*Group, inputs, outputs []*ir.Val) *boundaryCasts {
	f := sf.complete
	c := &boundaryCasts{f: f}

	inSegment := make(map[*ir.Expr]bool)
	for _, g := range groups {
		for _, e := range g.exprs {
			inSegment[e] = true
		}
	}

	flagged := func(v *ir.Val) bool {
		return sf.half[v] && v.IsTensor() && v.DType() == ir.Float
	}

	for _, v := range inputs {
		if !flagged(v) {
			c.inputs = append(c.inputs, v)
			continue
		}
		h := f.Cast(v, sf.halfType)
		back := f.Cast(h, ir.Float)
		cc := consumedCast{orig: v, half: h, back: back}
		for _, u := range slices.Clone(v.Uses()) {
			if inSegment[u] {
				f.ReplaceInput(u, v, back)
				cc.rewired = append(cc.rewired, u)
			}
		}
		c.consumed = append(c.consumed, cc)
		c.inputs = append(c.inputs, h)
	}
	for _, v := range outputs {
		if !flagged(v) || f.IsOutput(v) {
			c.outputs = append(c.outputs, v)
			continue
		}
		h := f.Cast(v, sf.halfType)
		c.produced = append(c.produced, h.Definition())
		c.outputs = append(c.outputs, h)
	}
	return c
}

// revert puts every rewired use back on the original value and discards the
// temporary casts.
func (c *boundaryCasts) revert() {
	for i := len(c.produced) - 1; i >= 0; i-- {
		c.f.RemoveExpr(c.produced[i])
	}
	for i := len(c.consumed) - 1; i >= 0; i-- {
		cc := c.consumed[i]
		for _, u := range cc.rewired {
			c.f.ReplaceInput(u, cc.back, cc.orig)
		}
		c.f.RemoveExpr(cc.back.Definition())
		c.f.RemoveExpr(cc.half.Definition())
	}
}
