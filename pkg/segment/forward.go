package segment

import (
	"github.com/matzehuels/fuseg/pkg/ir"
)

// forwardChain is a run of single-use unary expressions starting at a fusion
// input. The chain is kept out of the merge search; its consumers see the
// chain's last value as if it were a fusion input.
type forwardChain struct {
	input *ir.Val
	exprs []*ir.Expr
	end   *ir.Val
	aux   *Group
}

// findForwardChains returns the forwardable chain of every tensor input.
// A chain stops at fusion outputs, at values with more or fewer than one
// use, and at expressions that are not unary. It is trimmed back until its
// last value is neither a fusion output nor unused.
func findForwardChains(f *ir.Fusion, live map[*ir.Expr]bool) []*forwardChain {
	liveUses := func(v *ir.Val) []*ir.Expr {
		var out []*ir.Expr
		for _, u := range v.Uses() {
			if live[u] {
				out = append(out, u)
			}
		}
		return out
	}
	hasTensorUse := func(v *ir.Val) bool {
		for _, u := range liveUses(v) {
			if !u.IsScalarOnly() {
				return true
			}
		}
		return false
	}

	var chains []*forwardChain
	for _, in := range f.Inputs() {
		if in.IsScalar() {
			continue
		}
		var exprs []*ir.Expr
		v := in
		for !f.IsOutput(v) {
			uses := liveUses(v)
			if len(uses) != 1 || !uses[0].IsUnaryLike() {
				break
			}
			exprs = append(exprs, uses[0])
			v = uses[0].Output(0)
		}
		for len(exprs) > 0 && (f.IsOutput(v) || !hasTensorUse(v)) {
			exprs = exprs[:len(exprs)-1]
			v = in
			if len(exprs) > 0 {
				v = exprs[len(exprs)-1].Output(0)
			}
		}
		if len(exprs) == 0 {
			continue
		}
		chains = append(chains, &forwardChain{input: in, exprs: exprs, end: v})
	}
	return chains
}
