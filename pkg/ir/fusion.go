package ir

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrAlreadyDefined is returned when an expression would give a value a
	// second definition.
	ErrAlreadyDefined = errors.New("value already has a definition")

	// ErrForeignValue is returned when a value belongs to a different fusion.
	ErrForeignValue = errors.New("value belongs to another fusion")

	// ErrUnknownValue is returned when a value ID does not exist.
	ErrUnknownValue = errors.New("unknown value")
)

// Fusion is a complete tensor data-flow graph. It owns every value and
// expression created through it and carries a mutable input/output boundary.
//
// The zero value is not usable; create instances with [New].
type Fusion struct {
	vals    []*Val
	exprs   []*Expr
	inputs  []*Val
	outputs []*Val
	aliases map[*Val]*Val

	nextVal  int
	nextExpr int
}

// New creates an empty fusion.
func New() *Fusion {
	return &Fusion{aliases: make(map[*Val]*Val)}
}

// NewTensor creates a tensor value with a static shape. Negative extents mark
// symbolic dimensions.
func (f *Fusion) NewTensor(name string, dt DataType, shape ...int64) *Val {
	v := f.newVal(name, dt, false)
	v.shape = slices.Clone(shape)
	v.extents = make([]*Val, len(shape))
	return v
}

// NewSymbolicTensor creates a tensor whose dimensions are the given scalar
// extents. A nil extent stands for a static dimension of size one.
func (f *Fusion) NewSymbolicTensor(name string, dt DataType, extents ...*Val) *Val {
	v := f.newVal(name, dt, false)
	v.shape = make([]int64, len(extents))
	v.extents = slices.Clone(extents)
	for i, ext := range extents {
		if ext != nil {
			v.shape[i] = -1
		} else {
			v.shape[i] = 1
		}
	}
	return v
}

// NewTensorLike creates a tensor with the shape and extents of ref and
// element type dt.
func (f *Fusion) NewTensorLike(name string, dt DataType, ref *Val) *Val {
	v := f.newVal(name, dt, false)
	v.shape = slices.Clone(ref.shape)
	v.extents = slices.Clone(ref.extents)
	return v
}

// NewScalar creates a scalar value.
func (f *Fusion) NewScalar(name string, dt DataType) *Val {
	return f.newVal(name, dt, true)
}

func (f *Fusion) newVal(name string, dt DataType, scalar bool) *Val {
	v := &Val{id: f.nextVal, name: name, dtype: dt, scalar: scalar, fusion: f}
	if v.name == "" {
		if scalar {
			v.name = fmt.Sprintf("s%d", v.id)
		} else {
			v.name = fmt.Sprintf("T%d", v.id)
		}
	}
	f.nextVal++
	f.vals = append(f.vals, v)
	return v
}

// AddExpr registers a new expression. Outputs must not already be defined and
// every value must belong to f.
func (f *Fusion) AddExpr(kind OpKind, op string, inputs, outputs []*Val, axes ...int) (*Expr, error) {
	for _, v := range slices.Concat(inputs, outputs) {
		if v == nil || v.fusion != f {
			return nil, ErrForeignValue
		}
	}
	for _, o := range outputs {
		if o.def != nil {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyDefined, o)
		}
	}
	return f.addExpr(kind, op, inputs, outputs, axes...), nil
}

func (f *Fusion) addExpr(kind OpKind, op string, inputs, outputs []*Val, axes ...int) *Expr {
	if op == "" {
		op = kind.String()
	}
	e := &Expr{
		id:      f.nextExpr,
		kind:    kind,
		op:      op,
		inputs:  slices.Clone(inputs),
		outputs: slices.Clone(outputs),
		axes:    slices.Clone(axes),
		fusion:  f,
	}
	f.nextExpr++
	for _, in := range e.inputs {
		in.addUse(e)
	}
	for _, o := range e.outputs {
		o.def = e
	}
	f.exprs = append(f.exprs, e)
	return e
}

// RemoveExpr unregisters e. Outputs left without uses that are not on the
// boundary are unregistered as well.
func (f *Fusion) RemoveExpr(e *Expr) {
	if e == nil || e.fusion != f {
		return
	}
	for _, in := range e.inputs {
		in.removeUse(e)
	}
	for _, o := range e.outputs {
		o.def = nil
		if len(o.uses) == 0 && !f.IsInput(o) && !f.IsOutput(o) {
			f.vals = slices.DeleteFunc(f.vals, func(v *Val) bool { return v == o })
		}
	}
	f.exprs = slices.DeleteFunc(f.exprs, func(x *Expr) bool { return x == e })
}

// ReplaceInput substitutes every occurrence of old in e's inputs with v.
func (f *Fusion) ReplaceInput(e *Expr, old, v *Val) {
	changed := false
	for i, in := range e.inputs {
		if in == old {
			e.inputs[i] = v
			changed = true
		}
	}
	if !changed {
		return
	}
	old.removeUse(e)
	v.addUse(e)
}

// ReplaceAllUses rewires every expression consuming old to consume v instead.
// Boundary declarations are not touched.
func (f *Fusion) ReplaceAllUses(old, v *Val) {
	for _, u := range slices.Clone(old.uses) {
		if u.fusion == f {
			f.ReplaceInput(u, old, v)
		}
	}
}

// ReplaceOutput substitutes old with v in the output list, preserving position.
func (f *Fusion) ReplaceOutput(old, v *Val) {
	for i, o := range f.outputs {
		if o == old {
			f.outputs[i] = v
		}
	}
	if in, ok := f.aliases[old]; ok {
		delete(f.aliases, old)
		f.aliases[v] = in
	}
}

// AddInput declares v as an input. Adding an existing input is a no-op.
func (f *Fusion) AddInput(v *Val) {
	if !f.IsInput(v) {
		f.inputs = append(f.inputs, v)
	}
}

// SwapInput replaces the input declaration old with v, preserving position.
func (f *Fusion) SwapInput(old, v *Val) {
	for i, in := range f.inputs {
		if in == old {
			f.inputs[i] = v
		}
	}
}

// RemoveInput removes v from the inputs.
func (f *Fusion) RemoveInput(v *Val) {
	f.inputs = slices.DeleteFunc(f.inputs, func(x *Val) bool { return x == v })
}

// AddOutput declares v as an output. Adding an existing output is a no-op.
func (f *Fusion) AddOutput(v *Val) {
	if !f.IsOutput(v) {
		f.outputs = append(f.outputs, v)
	}
}

// RemoveOutput removes v from the outputs.
func (f *Fusion) RemoveOutput(v *Val) {
	f.outputs = slices.DeleteFunc(f.outputs, func(x *Val) bool { return x == v })
}

// Inputs returns a copy of the declared inputs.
func (f *Fusion) Inputs() []*Val { return slices.Clone(f.inputs) }

// Outputs returns a copy of the declared outputs.
func (f *Fusion) Outputs() []*Val { return slices.Clone(f.outputs) }

func (f *Fusion) IsInput(v *Val) bool  { return slices.Contains(f.inputs, v) }
func (f *Fusion) IsOutput(v *Val) bool { return slices.Contains(f.outputs, v) }

// Alias records that output out is written in place into input in.
func (f *Fusion) Alias(out, in *Val) { f.aliases[out] = in }

// AliasedInput returns the input aliased by out, if any.
func (f *Fusion) AliasedInput(out *Val) (*Val, bool) {
	in, ok := f.aliases[out]
	return in, ok
}

// Vals returns every registered value in creation order.
func (f *Fusion) Vals() []*Val { return slices.Clone(f.vals) }

// AllExprs returns every registered expression in creation order, including
// expressions not reachable from the current boundary.
func (f *Fusion) AllExprs() []*Expr { return slices.Clone(f.exprs) }

// Val returns the registered value with the given ID.
func (f *Fusion) Val(id int) (*Val, bool) {
	for _, v := range f.vals {
		if v.id == id {
			return v, true
		}
	}
	return nil, false
}

// Exprs returns the expressions needed to compute the current outputs from the
// current inputs, in deterministic topological order. Traversal stops at
// inputs, so the result reflects any narrowing of the boundary.
func (f *Fusion) Exprs() []*Expr {
	var (
		order   []*Expr
		visited = make(map[*Expr]bool)
		visit   func(v *Val)
	)
	visit = func(v *Val) {
		if f.IsInput(v) || v.def == nil || visited[v.def] {
			return
		}
		e := v.def
		visited[e] = true
		for _, in := range e.inputs {
			visit(in)
		}
		order = append(order, e)
	}
	for _, o := range f.outputs {
		visit(o)
	}
	return order
}

// HasWelford reports whether any expression in the current view is a Welford.
func (f *Fusion) HasWelford() bool {
	return slices.ContainsFunc(f.Exprs(), (*Expr).IsWelford)
}

// String summarizes the boundary and expression count.
func (f *Fusion) String() string {
	return fmt.Sprintf("fusion(%d inputs, %d outputs, %d exprs)", len(f.inputs), len(f.outputs), len(f.Exprs()))
}
