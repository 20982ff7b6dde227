package ir

import (
	"fmt"
	"slices"
)

// Val is a tensor or scalar datum with identity.
//
// A Val is defined by at most one [Expr] and may be used by many. Tensor values
// carry a static shape where a negative extent means "symbolic"; the symbolic
// extent, when known, is the scalar at the same position in [Val.Extents].
type Val struct {
	id      int
	name    string
	dtype   DataType
	scalar  bool
	shape   []int64
	extents []*Val
	def     *Expr
	uses    []*Expr
	fusion  *Fusion
}

// ID returns the creation-order identifier of the value, unique within its fusion.
func (v *Val) ID() int { return v.id }

// Name returns the display name given at creation.
func (v *Val) Name() string { return v.name }

// DType returns the element type.
func (v *Val) DType() DataType { return v.dtype }

// IsScalar reports whether v is a scalar. Scalars are never segmentation
// boundaries.
func (v *Val) IsScalar() bool { return v.scalar }

// IsTensor reports whether v is a tensor.
func (v *Val) IsTensor() bool { return !v.scalar }

// Rank returns the number of dimensions, 0 for scalars.
func (v *Val) Rank() int { return len(v.shape) }

// Shape returns a copy of the static shape.
func (v *Val) Shape() []int64 { return slices.Clone(v.shape) }

// Extents returns the symbolic extent scalars aligned with Shape. Entries are
// nil for static dimensions. The returned slice must not be modified.
func (v *Val) Extents() []*Val { return v.extents }

// Definition returns the expression producing v, or nil for leaves.
func (v *Val) Definition() *Expr { return v.def }

// Uses returns the expressions consuming v in registration order.
// The returned slice must not be modified.
func (v *Val) Uses() []*Expr { return v.uses }

// Fusion returns the owning fusion.
func (v *Val) Fusion() *Fusion { return v.fusion }

// IsFusionInput reports whether v is currently declared as an input.
func (v *Val) IsFusionInput() bool { return v.fusion != nil && v.fusion.IsInput(v) }

// IsFusionOutput reports whether v is currently declared as an output.
func (v *Val) IsFusionOutput() bool { return v.fusion != nil && v.fusion.IsOutput(v) }

// NumBytes returns the static size of the value in bytes. Symbolic
// dimensions count as one element.
func (v *Val) NumBytes() int64 {
	n := int64(v.dtype.Size())
	for _, d := range v.shape {
		if d > 0 {
			n *= d
		}
	}
	return n
}

// String returns "name#id".
func (v *Val) String() string {
	return fmt.Sprintf("%s#%d", v.name, v.id)
}

func (v *Val) addUse(e *Expr) {
	if !slices.Contains(v.uses, e) {
		v.uses = append(v.uses, e)
	}
}

func (v *Val) removeUse(e *Expr) {
	v.uses = slices.DeleteFunc(v.uses, func(u *Expr) bool { return u == e })
}
