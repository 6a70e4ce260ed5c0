package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

type entry struct {
	result    scanner.ScanResult
	expiresAt time.Time
}

// Cache is an in-memory result cache with per-entry TTLs. Expired entries
// are dropped lazily on read; Flush clears everything at once, which the
// memory guard uses under emergency pressure.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   scanner.Clock
}

// NewCache constructs an empty cache. A nil clock selects the wall clock.
func NewCache(clock scanner.Clock) *Cache {
	if clock == nil {
		clock = wallClock{}
	}
	return &Cache{
		entries: make(map[string]entry),
		clock:   clock,
	}
}

// Get returns the cached result for a target when one exists and has not
// expired.
func (c *Cache) Get(_ context.Context, target string) (scanner.ScanResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[target]
	c.mu.RUnlock()
	if !ok {
		return scanner.ScanResult{}, false
	}
	if c.clock.Now().After(e.expiresAt) {
		c.mu.Lock()
		if cur, still := c.entries[target]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, target)
		}
		c.mu.Unlock()
		return scanner.ScanResult{}, false
	}
	return e.result, true
}

// Set stores a result under the target key for ttl. Non-positive ttl values
// are ignored.
func (c *Cache) Set(_ context.Context, target string, result scanner.ScanResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[target] = entry{
		result:    result,
		expiresAt: c.clock.Now().Add(ttl),
	}
}

// Flush discards every cached result.
func (c *Cache) Flush(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len reports the number of live entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
