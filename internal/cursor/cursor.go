// Package cursor persists the incremental-scan watermark: the
// timestamp of the last fully-completed pass, keyed by scope.
package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store loads and saves per-scope watermarks. Load reporting no cursor
// (or failing) forces a full scan; the engine treats both identically.
type Store interface {
	Load(ctx context.Context, scopeKey string) (time.Time, bool, error)
	Save(ctx context.Context, scopeKey string, ts time.Time) error
	Close() error
}

// MemoryStore keeps cursors in process memory, mainly for tests and
// one-shot runs that want full scans.
type MemoryStore struct {
	mu      sync.Mutex
	cursors map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: map[string]time.Time{}}
}

func (s *MemoryStore) Load(_ context.Context, scopeKey string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.cursors[scopeKey]
	return ts, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, scopeKey string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[scopeKey] = ts
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// FileStore persists cursors as a small JSON document, written
// atomically via rename.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileSnapshot struct {
	Scopes map[string]time.Time `json:"scopes"`
}

func (s *FileStore) Load(_ context.Context, scopeKey string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.read()
	if err != nil {
		return time.Time{}, false, err
	}
	ts, ok := snapshot.Scopes[scopeKey]
	return ts, ok, nil
}

func (s *FileStore) Save(_ context.Context, scopeKey string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.read()
	if err != nil {
		// A corrupt cursor file only costs a full rescan; start over.
		snapshot = fileSnapshot{Scopes: map[string]time.Time{}}
	}
	snapshot.Scopes[scopeKey] = ts.UTC()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data, 0o644)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() (fileSnapshot, error) {
	snapshot := fileSnapshot{Scopes: map[string]time.Time{}}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snapshot, nil
		}
		return snapshot, err
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fileSnapshot{Scopes: map[string]time.Time{}}, err
	}
	if snapshot.Scopes == nil {
		snapshot.Scopes = map[string]time.Time{}
	}
	return snapshot, nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
