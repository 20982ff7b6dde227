// Package cache stores segmentation results keyed by graph content.
//
// Implementations cover the CLI ([FileCache]), tests and short-lived
// processes ([MemoryCache]), shared deployments ([RedisCache]) and disabled
// caching ([NullCache]). Keys are built by a [Keyer] so that every cache
// layout agrees on what identifies a result.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key/value store with optional expiry.
type Cache interface {
	// Get returns the value for key. A missing or expired key is reported
	// as hit == false with a nil error.
	Get(ctx context.Context, key string) (data []byte, hit bool, err error)

	// Set stores data under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the resources held by the cache.
	Close() error
}

// Keyer builds cache keys.
type Keyer interface {
	// SegmentKey identifies the segmentation of the graph with content hash
	// graphHash under opts.
	SegmentKey(graphHash string, opts SegmentKeyOpts) string
}

// SegmentKeyOpts lists the options that change a segmentation result.
type SegmentKeyOpts struct {
	Oracle                   string `json:"oracle"`
	MaxPersistentBufferBytes int64  `json:"max_persistent_buffer_bytes"`
	DisableWelford           bool   `json:"disable_welford,omitempty"`
	DisableForwarding        bool   `json:"disable_forwarding,omitempty"`
	DisablePadCat            bool   `json:"disable_pad_cat,omitempty"`
	DisableCastChain         bool   `json:"disable_cast_chain,omitempty"`
	DisableCombineReductions bool   `json:"disable_combine_reductions,omitempty"`
	DisableFinalMerge        bool   `json:"disable_final_merge,omitempty"`
	ReduceBoundaryPrecision  bool   `json:"reduce_boundary_precision,omitempty"`
	HalfType                 string `json:"half_type,omitempty"`
}

// DefaultKeyer hashes key components so keys have a fixed length.
type DefaultKeyer struct{}

// NewDefaultKeyer returns the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// SegmentKey implements [Keyer].
func (DefaultKeyer) SegmentKey(graphHash string, opts SegmentKeyOpts) string {
	return hashKey("segment", graphHash, opts)
}

// TTLSegment bounds how long a segmentation stays cached. Results only
// change with the graph content or options, both part of the key.
const TTLSegment = 7 * 24 * time.Hour
