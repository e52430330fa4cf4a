package cache

import (
	"sync"
	"time"
)

// Entry is a cached item with its expiry.
type Entry struct {
	Data      any
	ExpiresAt time.Time
}

// Cache is a concurrency-safe in-memory map whose entries expire after a
// fixed TTL. It holds short-lived uploads and Vault key lookups.
type Cache struct {
	mu   sync.RWMutex
	data map[string]Entry
	ttl  time.Duration
	now  func() time.Time
}

func New(ttl time.Duration) *Cache {
	return &Cache{
		data: make(map[string]Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the data stored under key unless it has expired.
func (c *Cache) Get(key string) (any, bool) {
	entry, ok := c.GetEntry(key)
	if !ok {
		return nil, false
	}
	return entry.Data, true
}

func (c *Cache) GetEntry(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.data[key]
	if !exists || !c.now().Before(entry.ExpiresAt) {
		return Entry{}, false
	}
	return entry, true
}

// Set stores data under key and returns when it expires.
func (c *Cache) Set(key string, data any) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	c.data[key] = Entry{Data: data, ExpiresAt: expiresAt}
	return expiresAt
}

func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]Entry)
}

// Len counts entries including expired ones not yet cleaned up.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Cleanup drops expired entries and returns how many were removed.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.data {
		if !now.Before(entry.ExpiresAt) {
			delete(c.data, key)
			removed++
		}
	}
	return removed
}
