package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/kjstillabower/garden-weather-service/internal/models"
	"github.com/kjstillabower/garden-weather-service/internal/observability"
)

// DefaultMaxEntries is the capacity used when NewLRUCache is given a non-positive size.
const DefaultMaxEntries = 100

// Cache defines the interface for weather reading caching implementations.
// Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.WeatherReading, bool, error)
	Set(ctx context.Context, key string, value models.WeatherReading, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type cacheEntry struct {
	value      models.WeatherReading
	insertedAt time.Time
	expiresAt  time.Time
}

// LRUCache is a capacity-bounded in-memory Cache with strict LRU eviction: a hit moves the
// entry to the most recently used position. Safe for concurrent use.
type LRUCache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, cacheEntry]
	now func() time.Time
}

// NewLRUCache creates an LRUCache holding at most maxEntries readings.
func NewLRUCache(maxEntries int) *LRUCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	// NewLRU only fails on a non-positive size.
	l, _ := simplelru.NewLRU[string, cacheEntry](maxEntries, nil)
	return &LRUCache{lru: l, now: time.Now}
}

// Get returns the reading for key. An entry whose age has reached its TTL is a miss and is
// removed.
func (c *LRUCache) Get(ctx context.Context, key string) (models.WeatherReading, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		return models.WeatherReading{}, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.lru.Remove(key)
		observability.CacheEvictionsTotal.WithLabelValues("expired").Inc()
		return models.WeatherReading{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key, replacing any existing entry and resetting its insertion time.
// Adding a new key to a full cache evicts the least recently used entry.
func (c *LRUCache) Set(ctx context.Context, key string, value models.WeatherReading, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if evicted := c.lru.Add(key, cacheEntry{value: value, insertedAt: now, expiresAt: now.Add(ttl)}); evicted {
		observability.CacheEvictionsTotal.WithLabelValues("capacity").Inc()
	}
	return nil
}

// Delete removes key if present.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
	return nil
}

// Len reports the number of entries, including expired ones not yet accessed.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Contains reports whether key is present without touching recency or expiry.
func (c *LRUCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}

// SetClock replaces the time source used for expiry. Intended for tests.
func (c *LRUCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
