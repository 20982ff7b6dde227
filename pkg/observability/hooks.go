// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard dependencies
// on specific observability backends. Consumers can register hooks at startup
// to receive events about segmentation runs, pipeline execution, cache
// operations, and HTTP API requests.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// A Prometheus backend is available through [NewPrometheusHooks].
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    hooks := observability.NewPrometheusHooks(prometheus.DefaultRegisterer)
//	    observability.SetSegmentHooks(hooks)
//	    observability.SetCacheHooks(hooks)
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Segment().OnSegmentStart(ctx, exprs)
//	// ... segment ...
//	observability.Segment().OnSegmentComplete(ctx, groups, duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Segment Hooks
// =============================================================================

// SegmentHooks receives events from the segmentation engine.
type SegmentHooks interface {
	// OnSegmentStart records the start of a run over a fusion with exprs
	// non-scalar expressions.
	OnSegmentStart(ctx context.Context, exprs int)

	// OnMergeAccepted records a committed merge of groups groups.
	OnMergeAccepted(ctx context.Context, pass string, groups int)

	// OnMergeRejected records a merge the scheduling oracle refused.
	OnMergeRejected(ctx context.Context, pass string)

	// OnPassComplete records the end of one merge pass.
	OnPassComplete(ctx context.Context, pass string, merges int, duration time.Duration)

	// OnSegmentComplete records the end of a run.
	OnSegmentComplete(ctx context.Context, groups int, duration time.Duration, err error)
}

// =============================================================================
// Pipeline Hooks
// =============================================================================

// PipelineHooks receives events from the segmentation pipeline.
type PipelineHooks interface {
	// OnRunStart records the start of a pipeline run over graphs fusions.
	OnRunStart(ctx context.Context, runID string, graphs int)

	// OnRunComplete records the end of a pipeline run.
	OnRunComplete(ctx context.Context, runID string, graphs int, duration time.Duration, err error)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, keyType string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, keyType string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, keyType string, size int)
}

// =============================================================================
// HTTP Hooks
// =============================================================================

// HTTPHooks receives events from the HTTP API server.
type HTTPHooks interface {
	// OnRequest records an incoming request.
	OnRequest(ctx context.Context, method, route string)

	// OnResponse records the response sent for a request.
	OnResponse(ctx context.Context, method, route string, statusCode int, duration time.Duration)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopSegmentHooks is a no-op implementation of SegmentHooks.
type NoopSegmentHooks struct{}

func (NoopSegmentHooks) OnSegmentStart(context.Context, int)                              {}
func (NoopSegmentHooks) OnMergeAccepted(context.Context, string, int)                     {}
func (NoopSegmentHooks) OnMergeRejected(context.Context, string)                          {}
func (NoopSegmentHooks) OnPassComplete(context.Context, string, int, time.Duration)       {}
func (NoopSegmentHooks) OnSegmentComplete(context.Context, int, time.Duration, error)     {}

// NoopPipelineHooks is a no-op implementation of PipelineHooks.
type NoopPipelineHooks struct{}

func (NoopPipelineHooks) OnRunStart(context.Context, string, int)                            {}
func (NoopPipelineHooks) OnRunComplete(context.Context, string, int, time.Duration, error) {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// NoopHTTPHooks is a no-op implementation of HTTPHooks.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string)                      {}
func (NoopHTTPHooks) OnResponse(context.Context, string, string, int, time.Duration) {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	segmentHooks  SegmentHooks  = NoopSegmentHooks{}
	pipelineHooks PipelineHooks = NoopPipelineHooks{}
	cacheHooks    CacheHooks    = NoopCacheHooks{}
	httpHooks     HTTPHooks     = NoopHTTPHooks{}
	hooksMu       sync.RWMutex
)

// SetSegmentHooks registers custom segmentation hooks.
// This should be called once at application startup before any segmentation.
func SetSegmentHooks(h SegmentHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		segmentHooks = h
	}
}

// SetPipelineHooks registers custom pipeline hooks.
// This should be called once at application startup before any pipeline operations.
func SetPipelineHooks(h PipelineHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		pipelineHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
// This should be called once at application startup before any cache operations.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetHTTPHooks registers custom HTTP hooks.
// This should be called once at application startup before the server starts.
func SetHTTPHooks(h HTTPHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		httpHooks = h
	}
}

// Segment returns the registered segmentation hooks.
func Segment() SegmentHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return segmentHooks
}

// Pipeline returns the registered pipeline hooks.
func Pipeline() PipelineHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return pipelineHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// HTTP returns the registered HTTP hooks.
func HTTP() HTTPHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return httpHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	segmentHooks = NoopSegmentHooks{}
	pipelineHooks = NoopPipelineHooks{}
	cacheHooks = NoopCacheHooks{}
	httpHooks = NoopHTTPHooks{}
}
