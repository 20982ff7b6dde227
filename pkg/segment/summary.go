package segment

import (
	"github.com/matzehuels/fuseg/pkg/ir"
	"github.com/matzehuels/fuseg/pkg/sched"
)

// Summary is a human-readable description of a segmentation, suitable for
// JSON output.
type Summary struct {
	Groups []GroupSummary `json:"groups"`
	Edges  []EdgeSummary  `json:"edges"`
	Half   []string       `json:"half,omitempty"`
	Stats  Stats          `json:"stats"`
}

type GroupSummary struct {
	ID        int             `json:"id"`
	Level     int             `json:"level"`
	Heuristic sched.Heuristic `json:"heuristic"`
	Exprs     []string        `json:"exprs"`
	Inputs    []string        `json:"inputs"`
	Outputs   []string        `json:"outputs"`
}

type EdgeSummary struct {
	From int    `json:"from"`
	To   int    `json:"to"`
	Val  string `json:"val"`
}

// Summarize describes sf with values and expressions in their printed form.
func (sf *SegmentedFusion) Summarize() Summary {
	s := Summary{Stats: sf.stats}
	for _, g := range sf.groups {
		gs := GroupSummary{
			ID:        g.id,
			Level:     g.level,
			Heuristic: g.heuristic,
			Inputs:    names(g.inputs),
			Outputs:   names(g.outputs),
		}
		for _, e := range g.exprs {
			gs.Exprs = append(gs.Exprs, e.String())
		}
		s.Groups = append(s.Groups, gs)
	}
	for _, e := range sf.edges {
		s.Edges = append(s.Edges, EdgeSummary{From: e.from.id, To: e.to.id, Val: e.val.String()})
	}
	s.Half = names(sf.HalfVals())
	return s
}

func names(vs []*ir.Val) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}
