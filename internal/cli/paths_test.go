package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCacheDir(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "")

	dir, err := cacheDir()
	if err != nil {
		t.Fatalf("cacheDir() error: %v", err)
	}

	home, _ := os.UserHomeDir()
	expected := filepath.Join(home, ".cache", appName)
	if dir != expected {
		t.Errorf("cacheDir() = %q, want %q", dir, expected)
	}
}

func TestCacheDirXDG(t *testing.T) {
	customCache := filepath.Join(t.TempDir(), "custom-cache")
	t.Setenv("XDG_CACHE_HOME", customCache)

	dir, err := cacheDir()
	if err != nil {
		t.Fatalf("cacheDir() error: %v", err)
	}

	expected := filepath.Join(customCache, appName)
	if dir != expected {
		t.Errorf("cacheDir() with XDG_CACHE_HOME = %q, want %q", dir, expected)
	}
}

func TestSegmentsPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"model.json", "model.segments.json"},
		{"dir/net.v2.json", "dir/net.v2.segments.json"},
		{"graph", "graph.segments.json"},
	}
	for _, tt := range tests {
		if got := segmentsPath(tt.in); got != tt.want {
			t.Errorf("segmentsPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderPath(t *testing.T) {
	tests := []struct {
		format, want string
	}{
		{"svg", "out/model.svg"},
		{"dot", "out/model.dot"},
		{"json", "out/model.summary.json"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			got := renderPath("out/model.json", tt.format)
			if got != tt.want {
				t.Errorf("renderPath() = %q, want %q", got, tt.want)
			}
			if !strings.HasPrefix(got, "out/") {
				t.Errorf("renderPath() = %q left the graph directory", got)
			}
		})
	}
}
