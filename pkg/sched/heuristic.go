package sched

import "fmt"

// Heuristic names a code-generation strategy for one kernel.
type Heuristic int

const (
	None Heuristic = iota
	NoOp
	PointWise
	Reduction
	InnerPersistent
	OuterPersistent
	InnerOuterPersistent
	Transpose
	ExprEval
)

var heuristicNames = []string{
	None:                 "none",
	NoOp:                 "no_op",
	PointWise:            "pointwise",
	Reduction:            "reduction",
	InnerPersistent:      "inner_persistent",
	OuterPersistent:      "outer_persistent",
	InnerOuterPersistent: "inner_outer_persistent",
	Transpose:            "transpose",
	ExprEval:             "expr_eval",
}

func (h Heuristic) String() string {
	if h >= 0 && int(h) < len(heuristicNames) {
		return heuristicNames[h]
	}
	return fmt.Sprintf("heuristic(%d)", int(h))
}

// ParseHeuristic converts a name produced by [Heuristic.String].
func ParseHeuristic(s string) (Heuristic, error) {
	for i, name := range heuristicNames {
		if name == s {
			return Heuristic(i), nil
		}
	}
	return None, fmt.Errorf("unknown heuristic %q", s)
}

// IsPersistent reports whether h keeps reduction inputs resident on chip.
func (h Heuristic) IsPersistent() bool {
	return h == InnerPersistent || h == OuterPersistent || h == InnerOuterPersistent
}

func (h Heuristic) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Heuristic) UnmarshalText(b []byte) error {
	v, err := ParseHeuristic(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}
