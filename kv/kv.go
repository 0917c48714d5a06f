// Package kv is the byte-oriented key-value layer under the lineage store.
package kv

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// ErrNotFound is returned by Get for an absent key.
var ErrNotFound = errors.New("kv: key not found")

// KVStore defines the interface for a key-value store.
type KVStore interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	// Keys lists the stored keys starting with prefix, sorted.
	Keys(prefix string) ([]string, error)
	Close() error
}

type memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func (m *memory) get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return append([]byte(nil), value...), nil
}

func (m *memory) keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// InMemoryKVStore keeps everything in a map.
type InMemoryKVStore struct {
	memory
}

func NewInMemoryKVStore() *InMemoryKVStore {
	return &InMemoryKVStore{memory{data: make(map[string][]byte)}}
}

func (s *InMemoryKVStore) Get(key string) ([]byte, error) { return s.get(key) }

func (s *InMemoryKVStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *InMemoryKVStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *InMemoryKVStore) Keys(prefix string) ([]string, error) { return s.keys(prefix), nil }

func (s *InMemoryKVStore) Close() error { return nil }

// FileBasedKVStore mirrors its map to a JSON document on every write.
type FileBasedKVStore struct {
	memory
	filePath string
}

// NewFileBasedKVStore opens filePath, loading any existing content. A
// missing file is created on the first write.
func NewFileBasedKVStore(filePath string) (*FileBasedKVStore, error) {
	s := &FileBasedKVStore{memory: memory{data: make(map[string][]byte)}, filePath: filePath}
	raw, err := os.ReadFile(filePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("kv: read %s: %w", filePath, err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("kv: decode %s: %w", filePath, err)
	}
	return s, nil
}

func (s *FileBasedKVStore) Get(key string) ([]byte, error) { return s.get(key) }

func (s *FileBasedKVStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return s.flushLocked()
}

func (s *FileBasedKVStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return s.flushLocked()
}

func (s *FileBasedKVStore) Keys(prefix string) ([]string, error) { return s.keys(prefix), nil }

func (s *FileBasedKVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked writes through a temporary file so readers never see a torn
// document. Callers hold the write lock.
func (s *FileBasedKVStore) flushLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.filePath)
}
