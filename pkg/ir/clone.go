package ir

import (
	"fmt"
	"slices"
)

// Extract clones exprs into a new fusion bounded by inputs and outputs.
//
// exprs must be in topological order. Every value read by an expression must
// be one of inputs or produced by an earlier expression; scalar leaves that
// are neither become inputs of the clone. Symbolic extents of cloned tensors
// that are not produced inside the clone are replaced by same-named scalar
// inputs, one per extent.
//
// The returned map sends original values to their clones.
func (f *Fusion) Extract(inputs, outputs []*Val, exprs []*Expr) (*Fusion, map[*Val]*Val, error) {
	c := New()
	m := make(map[*Val]*Val)

	cloneVal := func(v *Val) *Val {
		nv := c.newVal(v.name, v.dtype, v.scalar)
		nv.shape = slices.Clone(v.shape)
		nv.extents = slices.Clone(v.extents)
		m[v] = nv
		return nv
	}

	for _, in := range inputs {
		if in.fusion != f {
			return nil, nil, ErrForeignValue
		}
		if _, ok := m[in]; !ok {
			c.AddInput(cloneVal(in))
		}
	}
	for _, e := range exprs {
		if e.fusion != f {
			return nil, nil, fmt.Errorf("expr %d: %w", e.id, ErrForeignValue)
		}
		ins := make([]*Val, len(e.inputs))
		for i, in := range e.inputs {
			nv, ok := m[in]
			if !ok {
				if !in.scalar || in.def != nil {
					return nil, nil, fmt.Errorf("expr %s reads %s from outside the segment: %w", e, in, ErrUnknownValue)
				}
				nv = cloneVal(in)
				c.AddInput(nv)
			}
			ins[i] = nv
		}
		outs := make([]*Val, len(e.outputs))
		for i, o := range e.outputs {
			outs[i] = cloneVal(o)
		}
		c.addExpr(e.kind, e.op, ins, outs, e.axes...)
	}
	for _, o := range outputs {
		nv, ok := m[o]
		if !ok {
			return nil, nil, fmt.Errorf("output %s is not computed by the segment: %w", o, ErrUnknownValue)
		}
		c.AddOutput(nv)
		if in, ok := f.aliases[o]; ok {
			if nin, ok := m[in]; ok {
				c.Alias(nv, nin)
			}
		}
	}

	// Rebind symbolic extents.
	replacements := make(map[string]*Val)
	for _, v := range c.vals {
		for i, ext := range v.extents {
			if ext == nil || ext.fusion == c {
				continue
			}
			if nv, ok := m[ext]; ok {
				v.extents[i] = nv
				continue
			}
			r, ok := replacements[ext.name]
			if !ok {
				r = c.newVal(ext.name, ext.dtype, true)
				c.AddInput(r)
				replacements[ext.name] = r
			}
			v.extents[i] = r
		}
	}
	return c, m, nil
}

// Clone copies the whole fusion, including unreachable expressions.
func (f *Fusion) Clone() (*Fusion, map[*Val]*Val) {
	c := New()
	m := make(map[*Val]*Val, len(f.vals))
	for _, v := range f.vals {
		nv := c.newVal(v.name, v.dtype, v.scalar)
		nv.shape = slices.Clone(v.shape)
		m[v] = nv
	}
	for _, v := range f.vals {
		nv := m[v]
		nv.extents = make([]*Val, len(v.extents))
		for i, ext := range v.extents {
			if ext != nil {
				nv.extents[i] = m[ext]
			}
		}
	}
	for _, e := range f.exprs {
		ins := make([]*Val, len(e.inputs))
		for i, in := range e.inputs {
			ins[i] = m[in]
		}
		outs := make([]*Val, len(e.outputs))
		for i, o := range e.outputs {
			outs[i] = m[o]
		}
		c.addExpr(e.kind, e.op, ins, outs, e.axes...)
	}
	for _, in := range f.inputs {
		c.AddInput(m[in])
	}
	for _, o := range f.outputs {
		c.AddOutput(m[o])
	}
	for out, in := range f.aliases {
		c.Alias(m[out], m[in])
	}
	return c, m
}
