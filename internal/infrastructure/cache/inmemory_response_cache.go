package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/ingestor/internal/domain/ingestion"
)

type memoryEntry struct {
	resp      ingestion.ProviderResponse
	expiresAt time.Time
}

// InMemoryResponseCache implements ingestion.ResponseCache in process memory.
// Expired entries are dropped lazily on read. State does not survive the process.
type InMemoryResponseCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemoryResponseCache creates an empty cache with the given TTL
func NewInMemoryResponseCache(ttl time.Duration) *InMemoryResponseCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &InMemoryResponseCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a copy of the cached response
func (c *InMemoryResponseCache) Get(_ context.Context, key string) (*ingestion.ProviderResponse, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}

	resp := e.resp
	resp.Fields = make(map[string]string, len(e.resp.Fields))
	for k, v := range e.resp.Fields {
		resp.Fields[k] = v
	}
	return &resp, true, nil
}

// Set stores a copy of resp
func (c *InMemoryResponseCache) Set(_ context.Context, key string, resp *ingestion.ProviderResponse) error {
	if resp == nil {
		return nil
	}

	stored := *resp
	stored.Fields = make(map[string]string, len(resp.Fields))
	for k, v := range resp.Fields {
		stored.Fields[k] = v
	}

	c.mu.Lock()
	c.entries[key] = memoryEntry{resp: stored, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included
func (c *InMemoryResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
