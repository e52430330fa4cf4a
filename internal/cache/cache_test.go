package cache_test

import (
	"sync"
	"testing"
	"time"

	"certd/internal/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newClockedCache(ttl time.Duration) (*cache.Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return cache.New(ttl).WithClock(clock.Now), clock
}

func TestCache_SetAndGet(t *testing.T) {
	c, clock := newClockedCache(time.Minute)

	expiresAt := c.Set("key1", "value1")
	if want := clock.Now().Add(time.Minute); !expiresAt.Equal(want) {
		t.Errorf("expected expiry %s, got %s", want, expiresAt)
	}

	got, found := c.Get("key1")
	if !found || got != "value1" {
		t.Fatalf("expected value1, got %v (found=%v)", got, found)
	}
	if _, found := c.Get("nonexistent"); found {
		t.Error("expected nonexistent key to not be found")
	}
}

func TestCache_Expiration(t *testing.T) {
	c, clock := newClockedCache(time.Minute)
	c.Set("key1", "value1")

	clock.Advance(59 * time.Second)
	if _, found := c.Get("key1"); !found {
		t.Fatal("expected key1 before expiry")
	}
	clock.Advance(time.Second)
	if _, found := c.GetEntry("key1"); found {
		t.Fatal("expected key1 to be expired at its deadline")
	}
}

func TestCache_InvalidateAndClear(t *testing.T) {
	c, _ := newClockedCache(time.Minute)
	c.Set("key1", "value1")
	c.Set("key2", "value2")

	c.Invalidate("key1")
	if _, found := c.Get("key1"); found {
		t.Error("expected key1 to be invalidated")
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d", c.Len())
	}
}

func TestCache_Cleanup(t *testing.T) {
	c, clock := newClockedCache(time.Minute)
	c.Set("old", 1)
	clock.Advance(2 * time.Minute)
	c.Set("fresh", 2)

	if removed := c.Cleanup(); removed != 1 {
		t.Fatalf("expected 1 removed entry, got %d", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", c.Len())
	}
	if c.TTL() != time.Minute {
		t.Fatalf("unexpected ttl %s", c.TTL())
	}
}
