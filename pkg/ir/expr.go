package ir

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// OpKind is the closed set of operation kinds the segmenter distinguishes.
type OpKind int

const (
	OpInvalid OpKind = iota
	OpUnary
	OpBinary
	OpTernary
	OpCast
	OpReduction
	OpWelford
	OpBroadcast
	OpSqueeze
	OpReshape
	OpSlice
	OpPad
	OpCat
	OpIndexSelect
	OpGather
	OpFull
	OpScalar
)

var opKindNames = []string{
	OpInvalid:     "invalid",
	OpUnary:       "unary",
	OpBinary:      "binary",
	OpTernary:     "ternary",
	OpCast:        "cast",
	OpReduction:   "reduction",
	OpWelford:     "welford",
	OpBroadcast:   "broadcast",
	OpSqueeze:     "squeeze",
	OpReshape:     "reshape",
	OpSlice:       "slice",
	OpPad:         "pad",
	OpCat:         "cat",
	OpIndexSelect: "index_select",
	OpGather:      "gather",
	OpFull:        "full",
	OpScalar:      "scalar",
}

func (k OpKind) String() string {
	if k >= 0 && int(k) < len(opKindNames) {
		return opKindNames[k]
	}
	return "opkind(" + strconv.Itoa(int(k)) + ")"
}

// ParseOpKind converts a kind name back into an OpKind.
func ParseOpKind(s string) (OpKind, error) {
	for i, name := range opKindNames {
		if name == s && OpKind(i) != OpInvalid {
			return OpKind(i), nil
		}
	}
	return OpInvalid, fmt.Errorf("unknown op kind %q", s)
}

// Expr is an operation node with ordered inputs and outputs.
type Expr struct {
	id      int
	kind    OpKind
	op      string
	inputs  []*Val
	outputs []*Val
	axes    []int
	fusion  *Fusion
}

func (e *Expr) ID() int           { return e.id }
func (e *Expr) Kind() OpKind      { return e.kind }
func (e *Expr) Op() string        { return e.op }
func (e *Expr) Inputs() []*Val    { return e.inputs }
func (e *Expr) Outputs() []*Val   { return e.outputs }
func (e *Expr) Axes() []int       { return slices.Clone(e.axes) }
func (e *Expr) Fusion() *Fusion   { return e.fusion }
func (e *Expr) Input(i int) *Val  { return e.inputs[i] }
func (e *Expr) Output(i int) *Val { return e.outputs[i] }

// IsScalarOnly reports whether every output of e is a scalar. Such
// expressions are not assigned to segments.
func (e *Expr) IsScalarOnly() bool {
	if len(e.outputs) == 0 {
		return false
	}
	for _, o := range e.outputs {
		if !o.scalar {
			return false
		}
	}
	return true
}

// IsUnaryLike reports whether e consumes exactly one tensor and produces
// exactly one tensor of the same rank, with no reduction or layout change.
func (e *Expr) IsUnaryLike() bool {
	if e.kind != OpUnary && e.kind != OpCast {
		return false
	}
	return len(e.outputs) == 1 && len(e.tensorInputs()) == 1
}

// IsPointwise reports whether e is an elementwise operation.
func (e *Expr) IsPointwise() bool {
	switch e.kind {
	case OpUnary, OpBinary, OpTernary, OpCast:
		return true
	}
	return false
}

func (e *Expr) IsCast() bool        { return e.kind == OpCast }
func (e *Expr) IsPad() bool         { return e.kind == OpPad }
func (e *Expr) IsCat() bool         { return e.kind == OpCat }
func (e *Expr) IsWelford() bool     { return e.kind == OpWelford }
func (e *Expr) IsIndexedRead() bool { return e.kind == OpIndexSelect || e.kind == OpGather }

// IsReductionLike reports whether e reduces one or more axes.
func (e *Expr) IsReductionLike() bool { return e.kind == OpReduction || e.kind == OpWelford }

// IsUpCast reports whether e widens a floating point value.
func (e *Expr) IsUpCast() bool {
	if e.kind != OpCast {
		return false
	}
	in, out := e.inputs[0].dtype, e.outputs[0].dtype
	return in.IsFloatingPoint() && out.IsFloatingPoint() && out.Size() > in.Size()
}

// IsDownCast reports whether e narrows a floating point value.
func (e *Expr) IsDownCast() bool {
	if e.kind != OpCast {
		return false
	}
	in, out := e.inputs[0].dtype, e.outputs[0].dtype
	return in.IsFloatingPoint() && out.IsFloatingPoint() && out.Size() < in.Size()
}

// ReductionSignature identifies the shape of a reduction: the rank of the
// reduced operand and the set of reduced axes.
type ReductionSignature struct {
	Rank int
	Mask uint64
}

func (s ReductionSignature) String() string {
	var axes []string
	for i := 0; i < s.Rank && i < 64; i++ {
		if s.Mask&(1<<uint(i)) != 0 {
			axes = append(axes, strconv.Itoa(i))
		}
	}
	return fmt.Sprintf("r%d[%s]", s.Rank, strings.Join(axes, ","))
}

// ReductionSignature returns the signature of a reduction-like expression.
// The boolean is false for all other kinds.
func (e *Expr) ReductionSignature() (ReductionSignature, bool) {
	if !e.IsReductionLike() || len(e.inputs) == 0 {
		return ReductionSignature{}, false
	}
	sig := ReductionSignature{Rank: e.inputs[0].Rank()}
	for _, a := range e.axes {
		if a >= 0 && a < 64 {
			sig.Mask |= 1 << uint(a)
		}
	}
	return sig, true
}

// String renders the expression as "outs = op(ins)".
func (e *Expr) String() string {
	outs := make([]string, len(e.outputs))
	for i, o := range e.outputs {
		outs[i] = o.String()
	}
	ins := make([]string, len(e.inputs))
	for i, in := range e.inputs {
		ins[i] = in.String()
	}
	return fmt.Sprintf("%s = %s(%s)", strings.Join(outs, ", "), e.op, strings.Join(ins, ", "))
}

func (e *Expr) tensorInputs() []*Val {
	var ts []*Val
	for _, in := range e.inputs {
		if !in.scalar {
			ts = append(ts, in)
		}
	}
	return ts
}
