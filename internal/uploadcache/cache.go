// Package uploadcache maps PDF content hashes to provider-side file handles
// so the same document is not uploaded twice. The store is injectable so
// tests can use an in-memory implementation instead of the filesystem.
package uploadcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry records one provider-side file handle.
type Entry struct {
	Name       string    `json:"name"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Store is a hash -> remote handle map.
type Store interface {
	Get(hash string) (Entry, bool)
	Put(hash string, e Entry) error
	Delete(hash string) error
}

// HashFile returns the hex SHA-256 of the file contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileStore persists entries as a JSON file under the platform cache
// directory. Safe for concurrent use within one process.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// DefaultPath returns the cache file location under os.UserCacheDir.
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user cache directory: %w", err)
	}
	return filepath.Join(dir, "pdf2epub", "uploads.json"), nil
}

// NewFileStore creates a store backed by the JSON file at path. If path is
// empty the platform default is used.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) load() map[string]Entry {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]Entry{}
	}
	var m map[string]Entry
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]Entry{}
	}
	return m
}

func (s *FileStore) save(m map[string]Entry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal upload cache: %w", err)
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Get returns the entry for hash, if present.
func (s *FileStore) Get(hash string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.load()[hash]
	return e, ok
}

// Put stores an entry for hash.
func (s *FileStore) Put(hash string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.load()
	m[hash] = e
	return s.save(m)
}

// Delete removes the entry for hash. Deleting a missing entry is not an
// error.
func (s *FileStore) Delete(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.load()
	if _, ok := m[hash]; !ok {
		return nil
	}
	delete(m, hash)
	return s.save(m)
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{entries: map[string]Entry{}}
}

// Get returns the entry for hash, if present.
func (s *MemStore) Get(hash string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[hash]
	return e, ok
}

// Put stores an entry for hash.
func (s *MemStore) Put(hash string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[hash] = e
	return nil
}

// Delete removes the entry for hash.
func (s *MemStore) Delete(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, hash)
	return nil
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemStore)(nil)
)
