// Package store archives segmentation results for the HTTP API.
//
// Records are keyed by run ID and indexed by graph content hash, so clients
// can fetch the latest segmentation of a graph they uploaded earlier.
// Backends:
//   - [MemoryStore]: in-process storage for development and tests
//   - [FileStore]: JSON files in a directory for single-node deployments
//   - [MongoStore]: MongoDB for shared, multi-instance deployments
//
// # Usage
//
//	st, err := store.NewMongoStore(ctx, store.MongoConfig{URI: uri})
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	rec := store.NewRecord(result, graphJSON, opts.SegmentKeyOpts(), store.DefaultTTL)
//	if err := st.Put(ctx, rec); err != nil {
//	    return err
//	}
//	latest, err := st.Latest(ctx, result.GraphHash)
package store

import (
	"context"
	"time"

	"github.com/matzehuels/fuseg/pkg/cache"
	"github.com/matzehuels/fuseg/pkg/pipeline"
	"github.com/matzehuels/fuseg/pkg/segment"
)

// DefaultTTL is how long archived records are kept.
const DefaultTTL = 30 * 24 * time.Hour

// Record is one archived segmentation.
type Record struct {
	ID        string               `json:"id" bson:"_id"`
	GraphHash string               `json:"graph_hash" bson:"graph_hash"`
	Graph     []byte               `json:"graph,omitempty" bson:"graph,omitempty"`
	Options   cache.SegmentKeyOpts `json:"options" bson:"options"`
	Summary   segment.Summary      `json:"summary" bson:"summary"`
	Persisted *segment.Persisted   `json:"persisted,omitempty" bson:"persisted,omitempty"`
	CacheHit  bool                 `json:"cache_hit" bson:"cache_hit"`
	CreatedAt time.Time            `json:"created_at" bson:"created_at"`
	ExpiresAt time.Time            `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
}

// IsExpired reports whether the record has passed its expiry. Records
// without an expiry never expire.
func (r *Record) IsExpired() bool {
	return !r.ExpiresAt.IsZero() && time.Now().After(r.ExpiresAt)
}

// NewRecord builds a record for a pipeline result. graph is the uploaded
// graph document; a ttl of zero keeps the record until deleted.
func NewRecord(res *pipeline.Result, graph []byte, opts cache.SegmentKeyOpts, ttl time.Duration) *Record {
	now := time.Now().UTC()
	rec := &Record{
		ID:        res.RunID,
		GraphHash: res.GraphHash,
		Graph:     graph,
		Options:   opts,
		Persisted: res.Persisted,
		CacheHit:  res.CacheHit,
		CreatedAt: now,
	}
	if res.Segmented != nil {
		rec.Summary = res.Segmented.Summarize()
	}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}
	return rec
}

// Store is the interface for record storage backends.
type Store interface {
	// Put stores a record, replacing any record with the same ID.
	Put(ctx context.Context, rec *Record) error

	// Get retrieves a record by ID. Missing and expired records are
	// reported with errors.ErrCodeNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Latest retrieves the newest record for a graph hash.
	Latest(ctx context.Context, graphHash string) (*Record, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error

	// Cleanup removes expired records.
	Cleanup(ctx context.Context) error

	// Close releases the resources held by the store.
	Close() error
}
