package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

// ResultStore provides an in-memory result history for development/testing.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string][]scanner.ScanResult
}

// NewResultStore constructs a ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{
		results: make(map[string][]scanner.ScanResult),
	}
}

// InsertResult appends a completed result to the target's history.
func (s *ResultStore) InsertResult(_ context.Context, result scanner.ScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.Target] = append(s.results[result.Target], result)
	return nil
}

// ListResults returns the most recent results for a target, newest first.
func (s *ResultStore) ListResults(_ context.Context, target string, limit int) ([]scanner.ScanResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.results[target]
	out := make([]scanner.ScanResult, len(history))
	copy(out, history)
	sort.Slice(out, func(i, j int) bool {
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
