package store

import (
	"context"
	"sync"
	"time"

	"demarches/internal/jurisdiction/models"
	"demarches/pkg/platform/sentinel"
)

type cachedJurisdiction struct {
	record    models.Jurisdiction
	expiresAt time.Time
}

// InMemoryCache keeps resolved jurisdictions in a map with per-entry TTL. Expired entries
// stop being served but are only dropped when overwritten or swept.
type InMemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cachedJurisdiction
	now     func() time.Time
}

// NewInMemoryCache creates an empty cache using the wall clock.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(time.Now)
}

// NewInMemoryCacheWithClock creates an empty cache reading time from now.
func NewInMemoryCacheWithClock(now func() time.Time) *InMemoryCache {
	return &InMemoryCache{
		entries: make(map[string]cachedJurisdiction),
		now:     now,
	}
}

// Get returns a copy of the jurisdiction stored under key.
// Returns sentinel.ErrNotFound if the key is absent or its TTL has elapsed.
func (c *InMemoryCache) Get(_ context.Context, key string) (*models.Jurisdiction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if cached, ok := c.entries[key]; ok && c.now().Before(cached.expiresAt) {
		record := cached.record
		return &record, nil
	}
	return nil, sentinel.ErrNotFound
}

// Put stores a copy of j under key for ttl.
// If j is nil, the operation is a no-op and returns nil.
func (c *InMemoryCache) Put(_ context.Context, key string, j *models.Jurisdiction, ttl time.Duration) error {
	if j == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedJurisdiction{record: *j, expiresAt: c.now().Add(ttl)}
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (c *InMemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for k, v := range c.entries {
		if !now.Before(v.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
