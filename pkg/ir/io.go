package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

type document struct {
	Vals    []valDoc    `json:"vals"`
	Exprs   []exprDoc   `json:"exprs"`
	Inputs  []int       `json:"inputs"`
	Outputs []int       `json:"outputs"`
	Aliases map[int]int `json:"aliases,omitempty"`
}

type valDoc struct {
	ID      int     `json:"id"`
	Name    string  `json:"name,omitempty"`
	DType   string  `json:"dtype"`
	Shape   []int64 `json:"shape,omitempty"`
	Extents []int   `json:"extents,omitempty"`
	Scalar  bool    `json:"scalar,omitempty"`
}

type exprDoc struct {
	ID      int    `json:"id"`
	Kind    string `json:"kind"`
	Op      string `json:"op,omitempty"`
	Inputs  []int  `json:"inputs"`
	Outputs []int  `json:"outputs"`
	Axes    []int  `json:"axes,omitempty"`
}

func toDocument(f *Fusion) document {
	doc := document{
		Vals:    make([]valDoc, 0, len(f.vals)),
		Exprs:   make([]exprDoc, 0, len(f.exprs)),
		Inputs:  ids(f.inputs),
		Outputs: ids(f.outputs),
	}
	for _, v := range f.vals {
		vd := valDoc{ID: v.id, Name: v.name, DType: v.dtype.String(), Shape: v.shape, Scalar: v.scalar}
		symbolic := false
		exts := make([]int, len(v.extents))
		for i, ext := range v.extents {
			exts[i] = -1
			if ext != nil {
				exts[i] = ext.id
				symbolic = true
			}
		}
		if symbolic {
			vd.Extents = exts
		}
		doc.Vals = append(doc.Vals, vd)
	}
	for _, e := range f.exprs {
		doc.Exprs = append(doc.Exprs, exprDoc{
			ID:      e.id,
			Kind:    e.kind.String(),
			Op:      e.op,
			Inputs:  ids(e.inputs),
			Outputs: ids(e.outputs),
			Axes:    e.axes,
		})
	}
	if len(f.aliases) > 0 {
		doc.Aliases = make(map[int]int, len(f.aliases))
		for out, in := range f.aliases {
			doc.Aliases[out.id] = in.id
		}
	}
	return doc
}

func ids(vs []*Val) []int {
	out := make([]int, len(vs))
	for i, v := range vs {
		out[i] = v.id
	}
	return out
}

// WriteFusion encodes f as indented JSON and writes it to w.
func WriteFusion(f *Fusion, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(toDocument(f)); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// MarshalFusion returns the compact JSON encoding of f. The encoding is
// deterministic and suitable for content hashing.
func MarshalFusion(f *Fusion) ([]byte, error) {
	return json.Marshal(toDocument(f))
}

// WriteFusionFile writes f to a JSON file at path.
func WriteFusionFile(f *Fusion, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()
	return WriteFusion(f, file)
}

// ReadFusion decodes a JSON graph from r.
//
// Value IDs in the document are only used to resolve references; the
// returned fusion assigns fresh IDs in document order. Unknown references,
// duplicate IDs and values defined twice are reported as errors.
func ReadFusion(r io.Reader) (*Fusion, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	f := New()
	byID := make(map[int]*Val, len(doc.Vals))
	for _, vd := range doc.Vals {
		if _, dup := byID[vd.ID]; dup {
			return nil, fmt.Errorf("duplicate value id %d", vd.ID)
		}
		dt, err := ParseDataType(vd.DType)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", vd.ID, err)
		}
		var v *Val
		if vd.Scalar {
			v = f.NewScalar(vd.Name, dt)
		} else {
			v = f.NewTensor(vd.Name, dt, vd.Shape...)
		}
		byID[vd.ID] = v
	}

	lookup := func(ctx string, id int) (*Val, error) {
		v, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%s: %w %d", ctx, ErrUnknownValue, id)
		}
		return v, nil
	}
	resolve := func(ctx string, list []int) ([]*Val, error) {
		out := make([]*Val, len(list))
		for i, id := range list {
			v, err := lookup(ctx, id)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	for _, vd := range doc.Vals {
		if len(vd.Extents) == 0 {
			continue
		}
		v := byID[vd.ID]
		if len(vd.Extents) != len(v.shape) {
			return nil, fmt.Errorf("value %d: %d extents for rank %d", vd.ID, len(vd.Extents), len(v.shape))
		}
		for i, id := range vd.Extents {
			if id < 0 {
				continue
			}
			ext, err := lookup(fmt.Sprintf("value %d extent", vd.ID), id)
			if err != nil {
				return nil, err
			}
			v.extents[i] = ext
		}
	}

	for _, ed := range doc.Exprs {
		kind, err := ParseOpKind(ed.Kind)
		if err != nil {
			return nil, fmt.Errorf("expr %d: %w", ed.ID, err)
		}
		ctx := fmt.Sprintf("expr %d", ed.ID)
		ins, err := resolve(ctx, ed.Inputs)
		if err != nil {
			return nil, err
		}
		outs, err := resolve(ctx, ed.Outputs)
		if err != nil {
			return nil, err
		}
		if _, err := f.AddExpr(kind, ed.Op, ins, outs, ed.Axes...); err != nil {
			return nil, fmt.Errorf("%s: %w", ctx, err)
		}
	}

	inputs, err := resolve("inputs", doc.Inputs)
	if err != nil {
		return nil, err
	}
	for _, v := range inputs {
		f.AddInput(v)
	}
	outputs, err := resolve("outputs", doc.Outputs)
	if err != nil {
		return nil, err
	}
	for _, v := range outputs {
		f.AddOutput(v)
	}
	for out, in := range doc.Aliases {
		o, err := lookup("alias", out)
		if err != nil {
			return nil, err
		}
		i, err := lookup("alias", in)
		if err != nil {
			return nil, err
		}
		f.Alias(o, i)
	}
	return f, nil
}

// ReadFusionFile reads a JSON graph from the file at path.
func ReadFusionFile(path string) (*Fusion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := ReadFusion(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}
