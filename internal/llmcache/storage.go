package llmcache

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned by Storage.Get and Storage.Delete for a missing key.
var ErrNotFound = errors.New("cache entry not found")

// Storage is the backend capability the cache is written against. Keys are
// scoped by category; implementations must be safe for concurrent use.
type Storage interface {
	Get(ctx context.Context, category, key string) ([]byte, error)
	Set(ctx context.Context, category, key string, data []byte) error
	List(ctx context.Context, category string) ([]string, error)
	Delete(ctx context.Context, category, key string) error
}

// MemoryStorage keeps entries in process memory.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]map[string][]byte)}
}

func (s *MemoryStorage) Get(ctx context.Context, category, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[category][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStorage) Set(ctx context.Context, category, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[category] == nil {
		s.data[category] = make(map[string][]byte)
	}
	s.data[category][key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStorage) List(ctx context.Context, category string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data[category]))
	for k := range s.data[category] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, category, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[category][key]; !ok {
		return ErrNotFound
	}
	delete(s.data[category], key)
	return nil
}
