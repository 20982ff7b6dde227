package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/fuseg/pkg/errors"
	"github.com/matzehuels/fuseg/pkg/ir"
)

// rowColSums needs two kernels: row and column sums of exp(x).
func rowColSums() *ir.Fusion {
	f := ir.New()
	x := f.NewTensor("x", ir.Float, 64, 128)
	f.AddInput(x)
	e := f.Unary("exp", x)
	f.AddOutput(f.Sum(e, 1))
	f.AddOutput(f.Sum(e, 0))
	return f
}

func writeGraph(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := ir.WriteFusionFile(rowColSums(), path); err != nil {
		t.Fatal(err)
	}
	return path
}

// captureStdout redirects command output to a buffer for the test.
func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	prev := stdout
	stdout = &out
	t.Cleanup(func() { stdout = prev })
	return &out
}

// execute runs the CLI with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	out := captureStdout(t)
	var logs bytes.Buffer
	root := New(&logs, LogInfo).RootCommand()
	root.SetArgs(args)
	root.SetOut(&logs)
	root.SetErr(&logs)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	root := New(&bytes.Buffer{}, LogInfo).RootCommand()

	want := []string{"cache", "completion", "inspect", "render", "segment", "serve"}
	var got []string
	for _, cmd := range root.Commands() {
		got = append(got, cmd.Name())
	}
	for _, name := range want {
		found := false
		for _, g := range got {
			if g == name {
				found = true
			}
		}
		if !found {
			t.Errorf("missing command %q in %v", name, got)
		}
	}
}

func TestSegmentCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeGraph(t, dir, "sums.json")

	out, err := execute(t, "segment", "--no-cache", path)
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if !strings.Contains(out, "2 kernels") || !strings.Contains(out, "sums.segments.json") {
		t.Errorf("output missing stats or file:\n%s", out)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sums.segments.json"))
	if err != nil {
		t.Fatal(err)
	}
	var doc segmentsFile
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Summary.Groups) != 2 || doc.Stats.Groups != 2 {
		t.Errorf("groups = %d (stats %d), want 2", len(doc.Summary.Groups), doc.Stats.Groups)
	}
	if doc.RunID == "" || len(doc.GraphHash) != 64 {
		t.Errorf("run id %q, hash %q", doc.RunID, doc.GraphHash)
	}
	if doc.CacheHit {
		t.Error("CacheHit with --no-cache")
	}
}

func TestSegmentCommand_OutDirAndCache(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(t.TempDir(), "summaries")
	path := writeGraph(t, dir, "sums.json")

	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	captureStdout(t)
	run := func() segmentsFile {
		root := New(&bytes.Buffer{}, LogInfo).RootCommand()
		root.SetArgs([]string{"segment", "--half", "-o", out, path})
		if err := root.ExecuteContext(context.Background()); err != nil {
			t.Fatalf("segment: %v", err)
		}
		data, err := os.ReadFile(filepath.Join(out, "sums.segments.json"))
		if err != nil {
			t.Fatal(err)
		}
		var doc segmentsFile
		if err := json.Unmarshal(data, &doc); err != nil {
			t.Fatal(err)
		}
		return doc
	}

	first := run()
	if first.CacheHit || len(first.Summary.Half) != 1 {
		t.Fatalf("first run: hit=%v half=%v", first.CacheHit, first.Summary.Half)
	}
	second := run()
	if !second.CacheHit {
		t.Error("second run missed the local cache")
	}
	if second.GraphHash != first.GraphHash {
		t.Errorf("graph hash changed: %s != %s", second.GraphHash, first.GraphHash)
	}
}

func TestSegmentCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	graph := writeGraph(t, dir, "sums.json")
	badConfig := filepath.Join(dir, "opts.toml")
	if err := os.WriteFile(badConfig, []byte("no_such_option = true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want errors.Code
	}{
		{"MissingGraph", []string{"segment", "--no-cache", filepath.Join(dir, "missing.json")}, errors.ErrCodeNotFound},
		{"WrongExtension", []string{"segment", "--no-cache", filepath.Join(dir, "graph.yaml")}, errors.ErrCodeInvalidFormat},
		{"BadHalfType", []string{"segment", "--no-cache", "--half-type", "int8", graph}, errors.ErrCodeInvalidConfig},
		{"UnknownConfigKey", []string{"segment", "--no-cache", "-c", badConfig, graph}, errors.ErrCodeInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %s", err, tt.want)
			}
		})
	}
}

func TestSegmentFlags_ConfigAndOverrides(t *testing.T) {
	dir := t.TempDir()
	config := filepath.Join(dir, "opts.toml")
	body := "disable_welford = true\nreduce_boundary_precision = true\nhalf_type = \"bfloat16\"\nparallelism = 2\n"
	if err := os.WriteFile(config, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	var flags segmentFlags
	cmd := &cobra.Command{Use: "test"}
	flags.register(cmd)
	cmd.SetContext(withLogger(context.Background(), log.New(&bytes.Buffer{})))
	if err := cmd.ParseFlags([]string{"-c", config, "--half-type", "float16", "--no-final-merge"}); err != nil {
		t.Fatal(err)
	}

	opts, err := flags.options(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if !opts.DisableWelford || !opts.ReduceBoundaryPrecision {
		t.Error("config values lost")
	}
	if opts.HalfType != "float16" {
		t.Errorf("HalfType = %q, want flag override float16", opts.HalfType)
	}
	if !opts.DisableFinalMerge {
		t.Error("--no-final-merge ignored")
	}
	if opts.Parallelism != 2 {
		t.Errorf("Parallelism = %d, want 2 from config", opts.Parallelism)
	}
	if opts.Oracle != "reference" {
		t.Errorf("Oracle = %q, want default", opts.Oracle)
	}
}

func TestRenderCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeGraph(t, dir, "sums.json")

	if _, err := execute(t, "render", "--no-cache", "-f", "dot,json", path); err != nil {
		t.Fatalf("render: %v", err)
	}

	dot, err := os.ReadFile(filepath.Join(dir, "sums.dot"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(dot), "digraph G {") {
		t.Errorf("dot output starts with %q", firstLine(string(dot)))
	}
	if _, err := os.Stat(filepath.Join(dir, "sums.summary.json")); err != nil {
		t.Errorf("json output: %v", err)
	}
}

func TestRenderCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	path := writeGraph(t, dir, "sums.json")

	if _, err := execute(t, "render", "--no-cache", "-f", "png", path); !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("png: error = %v, want INVALID_CONFIG", err)
	}
	if _, err := execute(t, "render", "--no-cache", "-f", "dot,svg", "-o", filepath.Join(dir, "x"), path); err == nil {
		t.Error("--output with two formats should fail")
	}
}

func TestReadSegments(t *testing.T) {
	dir := t.TempDir()
	path := writeGraph(t, dir, "sums.json")
	if _, err := execute(t, "segment", "--no-cache", path); err != nil {
		t.Fatal(err)
	}

	s, err := readSegments(filepath.Join(dir, "sums.segments.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Groups) != 2 || len(s.Edges) != 1 {
		t.Errorf("summary = %d groups, %d edges; want 2, 1", len(s.Groups), len(s.Edges))
	}

	if _, err := readSegments(filepath.Join(dir, "none.segments.json")); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("missing: error = %v, want NOT_FOUND", err)
	}
	garbage := filepath.Join(dir, "bad.segments.json")
	if err := os.WriteFile(garbage, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readSegments(garbage); !errors.Is(err, errors.ErrCodeInvalidFormat) {
		t.Errorf("garbage: error = %v, want INVALID_FORMAT", err)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	st, err := openStore(ctx, serveOpts{store: storeMemory})
	if err != nil {
		t.Fatal(err)
	}
	st.Close()

	st, err = openStore(ctx, serveOpts{store: storeFile, storeDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	st.Close()

	if _, err := openStore(ctx, serveOpts{store: "sqlite"}); err == nil {
		t.Error("unknown store accepted")
	}
	if _, err := openStore(ctx, serveOpts{store: storeMongo}); err == nil {
		t.Error("mongo store without URI accepted")
	}
}

func TestStatsLine(t *testing.T) {
	tests := []struct {
		groups, edges int
		cached        bool
		want          []string
	}{
		{1, 0, false, []string{"1 kernel", iconFresh}},
		{3, 2, true, []string{"3 kernels", "2 edges", iconCached}},
		{2, 1, false, []string{"2 kernels", "1 edge"}},
	}
	for _, tt := range tests {
		line := statsLine(tt.groups, tt.edges, tt.cached)
		for _, w := range tt.want {
			if !strings.Contains(line, w) {
				t.Errorf("statsLine(%d, %d, %v) = %q, missing %q", tt.groups, tt.edges, tt.cached, line, w)
			}
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{3 << 20, "3.0 MiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func TestCompletionCommand(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			out, err := execute(t, "completion", shell)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(out, "fuseg") {
				t.Errorf("%s completion does not mention fuseg", shell)
			}
		})
	}
	if _, err := execute(t, "completion", "tcsh"); err == nil {
		t.Error("unsupported shell accepted")
	}
}
