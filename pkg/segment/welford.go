package segment

import (
	"slices"

	"github.com/matzehuels/fuseg/pkg/ir"
)

// welfordRewrite records the two-pass replacement of one Welford expression
// so that it can be undone.
//
//	mean   = sum(x) / count
//	varSum = sum((x - broadcast(mean)) * (x - broadcast(mean)))
type welfordRewrite struct {
	orig        *ir.Expr
	avg, varSum *ir.Val
	mean, vsum  *ir.Val
	added       []*ir.Expr
	avgUses     []*ir.Expr
	varUses     []*ir.Expr
}

// canTranslateWelford reports whether the element count output of e is
// unused, which the two-pass form does not produce.
func canTranslateWelford(complete *ir.Fusion, e *ir.Expr) bool {
	if !e.IsWelford() || len(e.Outputs()) != 3 {
		return false
	}
	n := e.Output(2)
	return len(n.Uses()) == 0 && !complete.IsOutput(n)
}

// translateWelford rewrites e in place and returns the record needed to
// revert it.
func translateWelford(f *ir.Fusion, e *ir.Expr) *welfordRewrite {
	x := e.Input(0)
	axes := e.Axes()
	slices.Sort(axes)

	before := len(f.AllExprs())
	sum := f.Sum(x, axes...)
	count := f.ScalarOp("reduction_size", ir.Index, x)
	mean := f.Binary("div", sum, count)
	// The variance branch is built only when something reads it, otherwise
	// its expressions would be unreachable from the outputs.
	var vsum *ir.Val
	if varSum := e.Output(1); len(varSum.Uses()) > 0 || f.IsOutput(varSum) {
		centered := f.Binary("sub", x, f.Broadcast(mean, axes...))
		vsum = f.Sum(f.Binary("mul", centered, centered), axes...)
	}
	added := f.AllExprs()[before:]

	r := &welfordRewrite{
		orig:    e,
		avg:     e.Output(0),
		varSum:  e.Output(1),
		mean:    mean,
		vsum:    vsum,
		added:   added,
		avgUses: slices.Clone(e.Output(0).Uses()),
		varUses: slices.Clone(e.Output(1).Uses()),
	}
	for _, u := range r.avgUses {
		f.ReplaceInput(u, r.avg, mean)
	}
	for _, u := range r.varUses {
		f.ReplaceInput(u, r.varSum, vsum)
	}
	f.ReplaceOutput(r.avg, mean)
	if vsum != nil {
		f.ReplaceOutput(r.varSum, vsum)
	}
	return r
}

// revert restores the Welford expression and removes the replacement.
func (r *welfordRewrite) revert(f *ir.Fusion) {
	for _, u := range r.avgUses {
		f.ReplaceInput(u, r.mean, r.avg)
	}
	for _, u := range r.varUses {
		f.ReplaceInput(u, r.vsum, r.varSum)
	}
	f.ReplaceOutput(r.mean, r.avg)
	if r.vsum != nil {
		f.ReplaceOutput(r.vsum, r.varSum)
	}
	for i := len(r.added) - 1; i >= 0; i-- {
		f.RemoveExpr(r.added[i])
	}
}

// tensorExprs returns the expressions of the rewrite that belong in a group.
func (r *welfordRewrite) tensorExprs() []*ir.Expr {
	var out []*ir.Expr
	for _, e := range r.added {
		if !e.IsScalarOnly() {
			out = append(out, e)
		}
	}
	return out
}

// valueMap maps the replaced Welford outputs to their two-pass equivalents.
func (r *welfordRewrite) valueMap() map[*ir.Val]*ir.Val {
	m := map[*ir.Val]*ir.Val{r.avg: r.mean}
	if r.vsum != nil {
		m[r.varSum] = r.vsum
	}
	return m
}
