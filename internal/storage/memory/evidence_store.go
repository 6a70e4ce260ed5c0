// Package memory stores evidence content in-memory for development.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// EvidenceStore stores evidence objects in-memory and returns pseudo URIs.
type EvidenceStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewEvidenceStore creates a new in-memory evidence store.
func NewEvidenceStore() *EvidenceStore {
	return &EvidenceStore{
		data: make(map[string][]byte),
	}
}

// PutObject persists the content and returns a URI.
func (s *EvidenceStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Len returns the number of stored objects.
func (s *EvidenceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// GetObject returns a stored object for inspection in tests.
func (s *EvidenceStore) GetObject(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	return data, ok
}
