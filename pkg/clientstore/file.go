package clientstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileBackend saves each visitor's entries as a JSON object on disk under a
// base directory.
type FileBackend struct {
	basePath string
	mu       sync.Mutex
}

// NewFileBackend creates the base directory if missing.
func NewFileBackend(basePath string) (*FileBackend, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileBackend{basePath: basePath}, nil
}

func (b *FileBackend) Namespace(visitorID string) (Storage, error) {
	ns, err := normalizeNamespace(visitorID)
	if err != nil {
		return nil, err
	}
	return &fileStorage{backend: b, path: filepath.Join(b.basePath, safeFilename(ns)+".json")}, nil
}

type fileStorage struct {
	backend *FileBackend
	path    string
}

func (s *fileStorage) Get(_ context.Context, key string) (string, bool, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	entries, err := s.read()
	if err != nil {
		return "", false, err
	}
	v, ok := entries[key]
	return v, ok, nil
}

func (s *fileStorage) Set(_ context.Context, key, value string) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	entries, err := s.read()
	if err != nil {
		return err
	}
	entries[key] = value
	return s.write(entries)
}

func (s *fileStorage) Delete(_ context.Context, key string) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	entries, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return s.write(entries)
}

func (s *fileStorage) read() (map[string]string, error) {
	entries := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read storage file: %w", err)
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse storage file: %w", err)
	}
	return entries, nil
}

func (s *fileStorage) write(entries map[string]string) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write storage file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace storage file: %w", err)
	}
	return nil
}

func safeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	name = strings.ReplaceAll(name, "..", "_")
	name = strings.TrimSpace(name)
	if name == "" || name == "." {
		return "visitor"
	}
	return name
}
