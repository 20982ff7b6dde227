package segment

import (
	"bytes"
	"encoding/json"
	"io"
	"slices"

	"github.com/klauspost/compress/zstd"

	"github.com/matzehuels/fuseg/pkg/errors"
	"github.com/matzehuels/fuseg/pkg/ir"
	"github.com/matzehuels/fuseg/pkg/sched"
)

// Persisted is the compact form of a segmentation. Values and expressions
// are referenced by their position in the complete fusion's value list and
// topological expression order at the time segmentation started.
//
// Valid is false when the segmentation refers to expressions or values
// created during segmentation (for example by a kept Welford rewrite); such
// a form cannot be rebuilt and should not be stored.
type Persisted struct {
	Valid    bool             `json:"valid"`
	NumVals  int              `json:"num_vals"`
	NumExprs int              `json:"num_exprs"`
	Groups   []PersistedGroup `json:"groups"`
	Edges    []PersistedEdge  `json:"edges"`
	Half     []int            `json:"half,omitempty"`
	HalfType string           `json:"half_type,omitempty"`
}

// PersistedGroup is one group of a [Persisted] segmentation.
type PersistedGroup struct {
	ID        int             `json:"id"`
	Level     int             `json:"level"`
	Heuristic sched.Heuristic `json:"heuristic"`
	Exprs     []int           `json:"exprs"`
	Inputs    []int           `json:"inputs"`
	Outputs   []int           `json:"outputs"`
}

// PersistedEdge is one edge of a [Persisted] segmentation.
type PersistedEdge struct {
	From int `json:"from"`
	To   int `json:"to"`
	Val  int `json:"val"`
}

// Serialize returns the persisted form of a finalized segmentation.
func (sf *SegmentedFusion) Serialize() *Persisted {
	p := &Persisted{Valid: true, NumVals: sf.numVals, NumExprs: sf.numExprs}
	val := func(v *ir.Val) int {
		i, ok := sf.valIndex[v]
		if !ok {
			p.Valid = false
			return -1
		}
		return i
	}
	vals := func(vs []*ir.Val) []int {
		out := make([]int, len(vs))
		for i, v := range vs {
			out[i] = val(v)
		}
		return out
	}

	for _, g := range sf.groups {
		pg := PersistedGroup{
			ID:        g.id,
			Level:     g.level,
			Heuristic: g.heuristic,
			Exprs:     make([]int, len(g.exprs)),
			Inputs:    vals(g.inputs),
			Outputs:   vals(g.outputs),
		}
		for i, e := range g.exprs {
			idx, ok := sf.exprIndex[e]
			if !ok {
				p.Valid = false
				idx = -1
			}
			pg.Exprs[i] = idx
		}
		p.Groups = append(p.Groups, pg)
	}
	for _, e := range sf.edges {
		p.Edges = append(p.Edges, PersistedEdge{From: e.from.id, To: e.to.id, Val: val(e.val)})
	}
	for _, v := range sf.HalfVals() {
		p.Half = append(p.Half, val(v))
	}
	if len(p.Half) > 0 {
		p.HalfType = sf.halfType.String()
	}
	return p
}

// Marshal encodes p as zstd-compressed JSON.
func (p *Persisted) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create zstd encoder")
	}
	if err := json.NewEncoder(enc).Encode(p); err != nil {
		enc.Close()
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "encode segmentation")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "flush zstd encoder")
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data produced by [Persisted.Marshal].
func Unmarshal(data []byte) (*Persisted, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "open zstd stream")
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "decompress segmentation")
	}
	var p Persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "decode segmentation")
	}
	return &p, nil
}

// Deserialize rebuilds a finalized segmentation of f from p. f must be in
// the state it was in when p's segmentation started.
func Deserialize(f *ir.Fusion, p *Persisted) (*SegmentedFusion, error) {
	if p == nil || !p.Valid {
		return nil, errors.New(errors.ErrCodeInvalidInput, "persisted segmentation is not valid")
	}
	sf := newSegmentedFusion(f)
	if sf.numVals != p.NumVals || sf.numExprs != p.NumExprs {
		return nil, errors.New(errors.ErrCodeInvalidInput,
			"fusion has %d values and %d exprs, segmentation expects %d and %d",
			sf.numVals, sf.numExprs, p.NumVals, p.NumExprs)
	}
	vals := f.Vals()
	exprs := f.Exprs()
	val := func(i int) (*ir.Val, error) {
		if i < 0 || i >= len(vals) {
			return nil, errors.New(errors.ErrCodeInvalidFormat, "value index %d out of range", i)
		}
		return vals[i], nil
	}
	valList := func(idx []int) ([]*ir.Val, error) {
		out := make([]*ir.Val, len(idx))
		for i, n := range idx {
			v, err := val(n)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	byID := make(map[int]*Group, len(p.Groups))
	for _, pg := range p.Groups {
		if _, dup := byID[pg.ID]; dup {
			return nil, errors.New(errors.ErrCodeInvalidFormat, "duplicate group id %d", pg.ID)
		}
		g := sf.newGroup()
		g.id = pg.ID
		g.level = pg.Level
		g.heuristic = pg.Heuristic
		for _, n := range pg.Exprs {
			if n < 0 || n >= len(exprs) {
				return nil, errors.New(errors.ErrCodeInvalidFormat, "expr index %d out of range", n)
			}
			g.exprs = append(g.exprs, exprs[n])
		}
		var err error
		if g.inputs, err = valList(pg.Inputs); err != nil {
			return nil, err
		}
		if g.outputs, err = valList(pg.Outputs); err != nil {
			return nil, err
		}
		byID[pg.ID] = g
	}
	slices.SortFunc(sf.groups, func(a, b *Group) int { return a.id - b.id })

	for _, pe := range p.Edges {
		from, ok1 := byID[pe.From]
		to, ok2 := byID[pe.To]
		if !ok1 || !ok2 {
			return nil, errors.New(errors.ErrCodeInvalidFormat, "edge %d -> %d references an unknown group", pe.From, pe.To)
		}
		v, err := val(pe.Val)
		if err != nil {
			return nil, err
		}
		sf.connectGroups(from, to, v)
	}

	if len(p.Half) > 0 {
		ht, err := ir.ParseDataType(p.HalfType)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "half type")
		}
		sf.halfType = ht
		for _, n := range p.Half {
			v, err := val(n)
			if err != nil {
				return nil, err
			}
			sf.half[v] = true
		}
	}
	sf.stats.FinalGroups = len(sf.groups)
	if err := sf.Validate(); err != nil {
		return nil, err
	}
	return sf, nil
}
