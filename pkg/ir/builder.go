package ir

import "slices"

// Builder helpers create fresh output values, so they never fail. They panic
// only when given a value owned by another fusion.

func (f *Fusion) mustOwn(vs ...*Val) {
	for _, v := range vs {
		if v == nil || v.fusion != f {
			panic(ErrForeignValue)
		}
	}
}

func (f *Fusion) like(dt DataType, ref *Val) *Val {
	if ref == nil || ref.scalar {
		return f.NewScalar("", dt)
	}
	v := f.newVal("", dt, false)
	v.shape = slices.Clone(ref.shape)
	v.extents = slices.Clone(ref.extents)
	return v
}

func firstTensor(vs ...*Val) *Val {
	for _, v := range vs {
		if !v.scalar {
			return v
		}
	}
	return nil
}

// Unary applies an elementwise operation with one operand.
func (f *Fusion) Unary(op string, x *Val) *Val {
	f.mustOwn(x)
	out := f.like(x.dtype, x)
	f.addExpr(OpUnary, op, []*Val{x}, []*Val{out})
	return out
}

// Binary applies an elementwise operation with two operands. The result type
// is the promoted type of the operands.
func (f *Fusion) Binary(op string, a, b *Val) *Val {
	f.mustOwn(a, b)
	out := f.like(promote(a.dtype, b.dtype), firstTensor(a, b))
	f.addExpr(OpBinary, op, []*Val{a, b}, []*Val{out})
	return out
}

// Ternary applies an elementwise operation with three operands, such as where.
func (f *Fusion) Ternary(op string, a, b, c *Val) *Val {
	f.mustOwn(a, b, c)
	out := f.like(promote(b.dtype, c.dtype), firstTensor(a, b, c))
	f.addExpr(OpTernary, op, []*Val{a, b, c}, []*Val{out})
	return out
}

// Cast converts x to dt.
func (f *Fusion) Cast(x *Val, dt DataType) *Val {
	f.mustOwn(x)
	out := f.like(dt, x)
	f.addExpr(OpCast, "cast", []*Val{x}, []*Val{out})
	return out
}

func reducedShape(x *Val, axes []int) ([]int64, []*Val) {
	var (
		shape []int64
		exts  []*Val
	)
	for i := range x.shape {
		if slices.Contains(axes, i) {
			continue
		}
		shape = append(shape, x.shape[i])
		exts = append(exts, x.extents[i])
	}
	return shape, exts
}

// Reduce reduces x over axes with the named operator.
func (f *Fusion) Reduce(op string, x *Val, axes ...int) *Val {
	f.mustOwn(x)
	out := f.newVal("", x.dtype, false)
	out.shape, out.extents = reducedShape(x, axes)
	f.addExpr(OpReduction, op, []*Val{x}, []*Val{out}, axes...)
	return out
}

// Sum reduces x over axes by addition.
func (f *Fusion) Sum(x *Val, axes ...int) *Val { return f.Reduce("sum", x, axes...) }

// Max reduces x over axes by maximum.
func (f *Fusion) Max(x *Val, axes ...int) *Val { return f.Reduce("max", x, axes...) }

// Welford computes the mean, the sum of squared deviations and the element
// count of x over axes in a single pass.
func (f *Fusion) Welford(x *Val, axes ...int) (avg, varSum, n *Val) {
	f.mustOwn(x)
	shape, exts := reducedShape(x, axes)
	mk := func(dt DataType) *Val {
		v := f.newVal("", dt, false)
		v.shape, v.extents = slices.Clone(shape), slices.Clone(exts)
		return v
	}
	avg, varSum, n = mk(x.dtype), mk(x.dtype), mk(Index)
	f.addExpr(OpWelford, "welford", []*Val{x}, []*Val{avg, varSum, n}, axes...)
	return avg, varSum, n
}

// Broadcast inserts size-one dimensions at the given output positions.
func (f *Fusion) Broadcast(x *Val, axes ...int) *Val {
	f.mustOwn(x)
	rank := len(x.shape) + len(axes)
	out := f.newVal("", x.dtype, false)
	out.shape = make([]int64, 0, rank)
	out.extents = make([]*Val, 0, rank)
	src := 0
	for i := 0; i < rank; i++ {
		if slices.Contains(axes, i) || src >= len(x.shape) {
			out.shape = append(out.shape, 1)
			out.extents = append(out.extents, nil)
			continue
		}
		out.shape = append(out.shape, x.shape[src])
		out.extents = append(out.extents, x.extents[src])
		src++
	}
	f.addExpr(OpBroadcast, "broadcast", []*Val{x}, []*Val{out}, axes...)
	return out
}

// Reshape views x with a new static shape.
func (f *Fusion) Reshape(x *Val, shape ...int64) *Val {
	f.mustOwn(x)
	out := f.NewTensor("", x.dtype, shape...)
	f.addExpr(OpReshape, "reshape", []*Val{x}, []*Val{out})
	return out
}

// Slice takes the static sub-range [start, start+size) along dim.
func (f *Fusion) Slice(x *Val, dim int, start, size int64) *Val {
	f.mustOwn(x)
	out := f.like(x.dtype, x)
	out.shape[dim] = size
	out.extents[dim] = nil
	f.addExpr(OpSlice, "slice", []*Val{x}, []*Val{out}, dim, int(start))
	return out
}

// Pad widens dim by lo elements before and hi elements after.
func (f *Fusion) Pad(x *Val, dim int, lo, hi int64) *Val {
	f.mustOwn(x)
	out := f.like(x.dtype, x)
	if out.shape[dim] >= 0 {
		out.shape[dim] += lo + hi
	}
	out.extents[dim] = nil
	f.addExpr(OpPad, "pad", []*Val{x}, []*Val{out}, dim)
	return out
}

// Cat concatenates xs along dim.
func (f *Fusion) Cat(dim int, xs ...*Val) *Val {
	f.mustOwn(xs...)
	out := f.like(xs[0].dtype, xs[0])
	for _, x := range xs[1:] {
		if out.shape[dim] >= 0 && x.shape[dim] >= 0 {
			out.shape[dim] += x.shape[dim]
		}
	}
	out.extents[dim] = nil
	f.addExpr(OpCat, "cat", xs, []*Val{out}, dim)
	return out
}

// IndexSelect selects slices of x along dim at the positions in index.
func (f *Fusion) IndexSelect(x, index *Val, dim int) *Val {
	f.mustOwn(x, index)
	out := f.like(x.dtype, x)
	if !index.scalar && index.Rank() > 0 {
		out.shape[dim] = index.shape[0]
		out.extents[dim] = index.extents[0]
	}
	f.addExpr(OpIndexSelect, "index_select", []*Val{x, index}, []*Val{out}, dim)
	return out
}

// Gather reads x along dim at the positions in index, producing index's shape.
func (f *Fusion) Gather(x, index *Val, dim int) *Val {
	f.mustOwn(x, index)
	out := f.like(x.dtype, index)
	f.addExpr(OpGather, "gather", []*Val{x, index}, []*Val{out}, dim)
	return out
}

// Full creates a tensor of the given shape filled with a scalar.
func (f *Fusion) Full(fill *Val, dt DataType, shape ...int64) *Val {
	f.mustOwn(fill)
	out := f.NewTensor("", dt, shape...)
	f.addExpr(OpFull, "full", []*Val{fill}, []*Val{out})
	return out
}

// ScalarOp computes a scalar from scalar or tensor-metadata inputs.
func (f *Fusion) ScalarOp(op string, dt DataType, ins ...*Val) *Val {
	f.mustOwn(ins...)
	out := f.NewScalar("", dt)
	f.addExpr(OpScalar, op, ins, []*Val{out})
	return out
}
