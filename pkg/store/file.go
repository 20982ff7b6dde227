package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/matzehuels/fuseg/pkg/errors"
)

// FileStore keeps records as JSON files in a directory.
type FileStore struct {
	mu      sync.RWMutex
	baseDir string
}

// NewFileStore creates a file-based store in baseDir.
// If baseDir is empty, defaults to $XDG_DATA_HOME/fuseg/segments.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return nil, err
		}
		baseDir = filepath.Join(dir, "segments")
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "create store dir")
	}
	return &FileStore{baseDir: baseDir}, nil
}

func defaultDataDir() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "fuseg"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidPath, err, "get home dir")
	}
	return filepath.Join(home, ".local", "share", "fuseg"), nil
}

func (s *FileStore) recordPath(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

func (s *FileStore) Put(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "record without id")
	}
	if err := errors.ValidatePath(rec.ID); err != nil || filepath.Base(rec.ID) != rec.ID {
		return errors.New(errors.ErrCodeInvalidInput, "invalid record id %q", rec.ID)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "marshal record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.recordPath(rec.ID), data, 0o600); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "write record")
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, id string) (*Record, error) {
	if filepath.Base(id) != id {
		return nil, errors.New(errors.ErrCodeNotFound, "record %q", id)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.read(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeNotFound, "record %q", id)
		}
		return nil, err
	}
	if rec.IsExpired() {
		return nil, errors.New(errors.ErrCodeNotFound, "record %q", id)
	}
	return rec, nil
}

func (s *FileStore) read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "parse %s", filepath.Base(path))
	}
	return &rec, nil
}

// each yields every readable record in the directory; unreadable files are
// skipped.
func (s *FileStore) each(yield func(path string, rec *Record) bool) error {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "read store dir")
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.baseDir, entry.Name())
		rec, err := s.read(path)
		if err != nil {
			continue
		}
		if !yield(path, rec) {
			break
		}
	}
	return nil
}

func (s *FileStore) Latest(ctx context.Context, graphHash string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []*Record
	if err := s.each(func(_ string, rec *Record) bool {
		recs = append(recs, rec)
		return true
	}); err != nil {
		return nil, err
	}
	return latest(graphHash, slices.Values(recs))
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if filepath.Base(id) != id {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.recordPath(id)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrCodeInternal, err, "remove record")
	}
	return nil
}

func (s *FileStore) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.each(func(path string, rec *Record) bool {
		if rec.IsExpired() {
			os.Remove(path)
		}
		return true
	})
}

func (s *FileStore) Close() error { return nil }

// Path returns the directory holding the record files.
func (s *FileStore) Path() string {
	return s.baseDir
}

var _ Store = (*FileStore)(nil)
