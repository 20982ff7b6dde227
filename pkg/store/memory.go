package store

import (
	"context"
	"iter"
	"sync"

	"github.com/matzehuels/fuseg/pkg/errors"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Put(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "record without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok || rec.IsExpired() {
		return nil, errors.New(errors.ErrCodeNotFound, "record %q", id)
	}
	return rec, nil
}

func (s *MemoryStore) Latest(ctx context.Context, graphHash string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return latest(graphHash, func(yield func(*Record) bool) {
		for _, rec := range s.records {
			if !yield(rec) {
				return
			}
		}
	})
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.records {
		if rec.IsExpired() {
			delete(s.records, id)
		}
	}
	return nil
}

// Len returns the number of stored records, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) Close() error { return nil }

// latest picks the newest live record for graphHash. Ties on CreatedAt are
// broken by ID so the answer does not depend on iteration order.
func latest(graphHash string, all iter.Seq[*Record]) (*Record, error) {
	var best *Record
	for rec := range all {
		if rec.GraphHash != graphHash || rec.IsExpired() {
			continue
		}
		if best == nil || rec.CreatedAt.After(best.CreatedAt) ||
			(rec.CreatedAt.Equal(best.CreatedAt) && rec.ID > best.ID) {
			best = rec
		}
	}
	if best == nil {
		return nil, errors.New(errors.ErrCodeNotFound, "no segmentation for graph %s", graphHash)
	}
	return best, nil
}

var _ Store = (*MemoryStore)(nil)
