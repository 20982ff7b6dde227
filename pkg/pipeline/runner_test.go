package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matzehuels/fuseg/pkg/cache"
	"github.com/matzehuels/fuseg/pkg/errors"
	"github.com/matzehuels/fuseg/pkg/ir"
)

// rowColSums sums exp(x) along both axes; the sums need separate kernels.
func rowColSums() *ir.Fusion {
	f := ir.New()
	x := f.NewTensor("x", ir.Float, 64, 128)
	f.AddInput(x)
	e := f.Unary("exp", x)
	f.AddOutput(f.Sum(e, 1))
	f.AddOutput(f.Sum(e, 0))
	return f
}

// layerNorm normalizes x with a Welford reduction, which is rewritten
// during segmentation.
func layerNorm() *ir.Fusion {
	f := ir.New()
	x := f.NewTensor("x", ir.Float, 32, 64)
	f.AddInput(x)
	avg, varSum, _ := f.Welford(x, 1)
	centered := f.Binary("sub", x, f.Broadcast(avg, 1))
	f.AddOutput(f.Binary("div", centered, f.Broadcast(varSum, 1)))
	return f
}

func writeGraph(t *testing.T, name string, f *ir.Fusion) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := ir.WriteFusionFile(f, path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunnerSegment_CachesResult(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	r := NewRunner(mc, nil, nil)
	defer r.Close()
	path := writeGraph(t, "sums.json", rowColSums())

	first, err := r.SegmentFile(ctx, path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if first.CacheHit {
		t.Error("first run reported a cache hit")
	}
	if first.Persisted == nil || mc.Len() != 1 {
		t.Fatalf("result not cached: persisted=%v entries=%d", first.Persisted != nil, mc.Len())
	}
	if first.RunID == "" || len(first.GraphHash) != 64 {
		t.Errorf("RunID = %q, GraphHash = %q", first.RunID, first.GraphHash)
	}
	if first.Stats.Groups != 2 || first.Stats.Edges != 1 {
		t.Errorf("Stats = %+v, want 2 groups and 1 edge", first.Stats)
	}

	second, err := r.SegmentFile(ctx, path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !second.CacheHit {
		t.Error("second run missed the cache")
	}
	if second.GraphHash != first.GraphHash || second.RunID == first.RunID {
		t.Errorf("second run = (%s, %s), first = (%s, %s)", second.GraphHash, second.RunID, first.GraphHash, first.RunID)
	}
	for i, g := range second.Segmented.Groups() {
		want := first.Segmented.Groups()[i]
		if len(g.Exprs()) != len(want.Exprs()) || g.Heuristic() != want.Heuristic() {
			t.Errorf("group %d = (%d, %v), want (%d, %v)", i, len(g.Exprs()), g.Heuristic(), len(want.Exprs()), want.Heuristic())
		}
	}

	refreshed, err := r.SegmentFile(ctx, path, Options{Refresh: true})
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.CacheHit {
		t.Error("refresh run read the cache")
	}
}

func TestRunnerSegment_OptionsChangeKey(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	r := NewRunner(mc, nil, nil)
	path := writeGraph(t, "sums.json", rowColSums())

	if _, err := r.SegmentFile(ctx, path, Options{}); err != nil {
		t.Fatal(err)
	}
	res, err := r.SegmentFile(ctx, path, Options{ReduceBoundaryPrecision: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.CacheHit {
		t.Error("different options shared a cache entry")
	}
	if mc.Len() != 2 {
		t.Errorf("cache entries = %d, want 2", mc.Len())
	}
	if len(res.Persisted.Half) != 1 {
		t.Errorf("Persisted.Half = %v, want one value", res.Persisted.Half)
	}
}

func TestRunnerSegment_RewrittenGraphNotCached(t *testing.T) {
	mc := cache.NewMemoryCache()
	r := NewRunner(mc, nil, nil)

	res, err := r.Segment(context.Background(), layerNorm(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stats.WelfordTranslated != 1 {
		t.Fatalf("WelfordTranslated = %d, want 1", res.Stats.WelfordTranslated)
	}
	if res.Persisted != nil || mc.Len() != 0 {
		t.Error("segmentation with a kept rewrite was cached")
	}
}

func TestRunnerSegment_StaleEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	r := NewRunner(mc, nil, nil)

	f := rowColSums()
	hash, err := GraphHash(f)
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{}
	if err := opts.ValidateAndSetDefaults(); err != nil {
		t.Fatal(err)
	}
	key := r.Keyer.SegmentKey(hash, opts.SegmentKeyOpts())
	if err := mc.Set(ctx, key, []byte("garbage"), 0); err != nil {
		t.Fatal(err)
	}

	res, err := r.Segment(ctx, f, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.CacheHit {
		t.Error("corrupt cache entry reported as hit")
	}
}

func TestRunnerSegment_Errors(t *testing.T) {
	r := NewRunner(nil, nil, nil)
	ctx := context.Background()

	if _, err := r.Segment(ctx, nil, Options{}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("nil fusion error = %v, want INVALID_INPUT", err)
	}
	if _, err := r.Segment(ctx, rowColSums(), Options{Oracle: "other"}); !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("unknown oracle error = %v, want INVALID_CONFIG", err)
	}
}

func TestRunnerSegmentAll(t *testing.T) {
	r := NewRunner(cache.NewMemoryCache(), nil, nil)
	paths := []string{
		writeGraph(t, "a.json", rowColSums()),
		writeGraph(t, "b.json", layerNorm()),
		writeGraph(t, "c.json", rowColSums()),
	}

	results, err := r.SegmentAll(context.Background(), paths, Options{Parallelism: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != len(paths) {
		t.Fatalf("results = %d, want %d", len(results), len(paths))
	}
	wantGroups := []int{2, 1, 2}
	for i, res := range results {
		if res.Stats.Groups != wantGroups[i] {
			t.Errorf("results[%d] groups = %d, want %d", i, res.Stats.Groups, wantGroups[i])
		}
	}
	if results[0].GraphHash != results[2].GraphHash {
		t.Error("identical graphs hashed differently")
	}

	bad := append(paths, filepath.Join(t.TempDir(), "missing.json"))
	if _, err := r.SegmentAll(context.Background(), bad, Options{}); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("SegmentAll() error = %v, want NOT_FOUND", err)
	}
}

func TestLoadGraph_Errors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.json")
	if err := writeFile(garbage, "{"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want errors.Code
	}{
		{"WrongExtension", filepath.Join(dir, "graph.yaml"), errors.ErrCodeInvalidFormat},
		{"Empty", "", errors.ErrCodeInvalidPath},
		{"Missing", filepath.Join(dir, "missing.json"), errors.ErrCodeNotFound},
		{"Garbage", garbage, errors.ErrCodeInvalidGraph},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadGraph(tt.path); !errors.Is(err, tt.want) {
				t.Errorf("LoadGraph() error = %v, want %s", err, tt.want)
			}
		})
	}
}

func TestRender(t *testing.T) {
	res, err := NewRunner(nil, nil, nil).Segment(context.Background(), rowColSums(), Options{})
	if err != nil {
		t.Fatal(err)
	}

	artifacts, err := Render(res.Segmented, RenderOptions{Formats: []string{FormatDOT, FormatJSON}})
	if err != nil {
		t.Fatal(err)
	}
	if dot := string(artifacts[FormatDOT]); !strings.HasPrefix(dot, "digraph G {") {
		t.Errorf("dot = %q", dot)
	}
	var summary struct {
		Groups []json.RawMessage `json:"groups"`
	}
	if err := json.Unmarshal(artifacts[FormatJSON], &summary); err != nil {
		t.Fatal(err)
	}
	if len(summary.Groups) != 2 {
		t.Errorf("summary groups = %d, want 2", len(summary.Groups))
	}

	if _, err := Render(res.Segmented, RenderOptions{Formats: []string{"png"}}); !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("png error = %v, want INVALID_CONFIG", err)
	}
	if _, err := Render(nil, RenderOptions{}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("nil error = %v, want INVALID_INPUT", err)
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
