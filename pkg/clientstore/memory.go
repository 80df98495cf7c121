package clientstore

import (
	"context"
	"sync"
)

// MemoryBackend keeps every namespace in-process (single instance only).
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string]map[string]string
}

// NewMemoryBackend initializes an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string]map[string]string)}
}

func (b *MemoryBackend) Namespace(visitorID string) (Storage, error) {
	ns, err := normalizeNamespace(visitorID)
	if err != nil {
		return nil, err
	}
	return &memoryStorage{backend: b, ns: ns}, nil
}

type memoryStorage struct {
	backend *MemoryBackend
	ns      string
}

func (s *memoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()
	v, ok := s.backend.items[s.ns][key]
	return v, ok, nil
}

func (s *memoryStorage) Set(_ context.Context, key, value string) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	m, ok := s.backend.items[s.ns]
	if !ok {
		m = make(map[string]string)
		s.backend.items[s.ns] = m
	}
	m[key] = value
	return nil
}

func (s *memoryStorage) Delete(_ context.Context, key string) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	delete(s.backend.items[s.ns], key)
	return nil
}
