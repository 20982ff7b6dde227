package sched

import "sync"

// DefaultMaxPersistentBufferBytes is the persistent buffer budget used when
// none is configured.
const DefaultMaxPersistentBufferBytes = 256 << 10

// RuntimeInfo carries the hardware limits and per-run data an oracle may
// consult. A RuntimeInfo is shared by every probe of one segmentation run.
type RuntimeInfo struct {
	// MaxPersistentBufferBytes bounds the bytes a persistent kernel may keep
	// resident. Zero disables the check.
	MaxPersistentBufferBytes int64

	mu   sync.Mutex
	data map[string]any
}

// NewRuntimeInfo returns runtime info with default limits.
func NewRuntimeInfo() *RuntimeInfo {
	return &RuntimeInfo{MaxPersistentBufferBytes: DefaultMaxPersistentBufferBytes}
}

// Load returns a value stored in the per-run data cache.
func (r *RuntimeInfo) Load(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.data[key]
	return v, ok
}

// Store puts a value in the per-run data cache.
func (r *RuntimeInfo) Store(key string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		r.data = make(map[string]any)
	}
	r.data[key] = v
}
