package sched

import (
	"slices"

	"github.com/matzehuels/fuseg/pkg/ir"
)

// Oracle decides whether a view of a fusion can be compiled as one kernel.
//
// The view is the complete fusion with its boundary narrowed by the caller;
// implementations must treat it as read-only and must not retain it.
type Oracle interface {
	// Propose returns the preferred heuristic for view, or false when no
	// heuristic can schedule it.
	Propose(view *ir.Fusion, info *RuntimeInfo) (Heuristic, bool)

	// CanSchedule reports whether h can schedule view.
	CanSchedule(h Heuristic, view *ir.Fusion, info *RuntimeInfo) bool
}

// Reference is the built-in rule-based oracle.
type Reference struct {
	// ExprEvalOps lists operator names evaluated outside generated kernels.
	ExprEvalOps []string
}

// NewReference returns a reference oracle that treats "matmul" and "linear"
// as expression-evaluated operators.
func NewReference() *Reference {
	return &Reference{ExprEvalOps: []string{"matmul", "linear"}}
}

// Propose implements [Oracle].
func (r *Reference) Propose(view *ir.Fusion, info *RuntimeInfo) (Heuristic, bool) {
	hs := r.Candidates(view, info)
	if len(hs) == 0 {
		return None, false
	}
	return hs[0], true
}

// CanSchedule implements [Oracle].
func (r *Reference) CanSchedule(h Heuristic, view *ir.Fusion, info *RuntimeInfo) bool {
	return slices.Contains(r.Candidates(view, info), h)
}

// Candidates returns every heuristic able to schedule view, most preferred
// first.
func (r *Reference) Candidates(view *ir.Fusion, info *RuntimeInfo) []Heuristic {
	if info == nil {
		info = NewRuntimeInfo()
	}
	all := view.Exprs()
	inView := make(map[*ir.Expr]bool, len(all))
	var compute []*ir.Expr
	for _, e := range all {
		inView[e] = true
		if !e.IsScalarOnly() {
			compute = append(compute, e)
		}
	}
	if len(compute) == 0 {
		return []Heuristic{NoOp}
	}

	for _, e := range compute {
		if slices.Contains(r.ExprEvalOps, e.Op()) {
			if len(compute) == 1 {
				return []Heuristic{ExprEval}
			}
			return nil
		}
	}

	if !slices.ContainsFunc(compute, computesValues) {
		return []Heuristic{NoOp, PointWise}
	}

	var reductions []*ir.Expr
	for _, e := range compute {
		if e.IsReductionLike() {
			reductions = append(reductions, e)
		}
	}
	if len(reductions) == 0 {
		return []Heuristic{PointWise}
	}

	sig, _ := reductions[0].ReductionSignature()
	for _, e := range reductions[1:] {
		if s, _ := e.ReductionSignature(); s != sig {
			return nil
		}
	}

	normalization := false
	for _, red := range reductions {
		if isNormalization(all, inView, red) {
			normalization = true
			break
		}
	}
	if !normalization {
		return []Heuristic{Reduction}
	}
	if slices.ContainsFunc(reductions, (*ir.Expr).IsWelford) {
		return nil
	}

	if limit := info.MaxPersistentBufferBytes; limit > 0 && persistentBufferBytes(reductions, inView) > limit {
		return nil
	}
	if sig.Rank > 0 && sig.Mask&(1<<uint(sig.Rank-1)) != 0 {
		return []Heuristic{InnerPersistent}
	}
	return []Heuristic{OuterPersistent}
}

// computesValues reports whether e does arithmetic, as opposed to only
// rearranging existing data.
func computesValues(e *ir.Expr) bool {
	switch e.Kind() {
	case ir.OpReshape, ir.OpSqueeze, ir.OpBroadcast:
		return false
	}
	return true
}

// isNormalization reports whether some expression in the view combines a
// value derived from red's result with a value derived from red's input along
// a path that bypasses red.
func isNormalization(all []*ir.Expr, inView map[*ir.Expr]bool, red *ir.Expr) bool {
	down := reachable(red.Outputs(), inView, nil)
	src := reachable(red.Inputs()[:1], inView, red)
	for _, e := range all {
		if e == red {
			continue
		}
		fromDown, fromSrc := false, false
		for _, in := range e.Inputs() {
			if down[in] {
				fromDown = true
			} else if src[in] {
				fromSrc = true
			}
		}
		if fromDown && fromSrc {
			return true
		}
	}
	return false
}

func reachable(roots []*ir.Val, inView map[*ir.Expr]bool, skip *ir.Expr) map[*ir.Val]bool {
	seen := make(map[*ir.Val]bool)
	stack := slices.Clone(roots)
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[v] {
			continue
		}
		seen[v] = true
		for _, u := range v.Uses() {
			if u == skip || !inView[u] {
				continue
			}
			stack = append(stack, u.Outputs()...)
		}
	}
	return seen
}

// persistentBufferBytes sums the sizes of reduction inputs that other
// expressions in the view also read; those must stay resident.
func persistentBufferBytes(reductions []*ir.Expr, inView map[*ir.Expr]bool) int64 {
	var total int64
	seen := make(map[*ir.Val]bool)
	for _, red := range reductions {
		in := red.Input(0)
		if seen[in] {
			continue
		}
		seen[in] = true
		for _, u := range in.Uses() {
			if inView[u] && !u.IsReductionLike() {
				total += in.NumBytes()
				break
			}
		}
	}
	return total
}
