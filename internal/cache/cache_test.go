package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/garden-weather-service/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestLRU(size int) (*LRUCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache(size)
	c.now = clock.Now
	return c, clock
}

// TestLRUCache_GetSet verifies that Set stores values and Get retrieves
// them correctly with the expected data.
func TestLRUCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestLRU(10)

	val := models.WeatherReading{Temperature: 12.5, SkyCondition: models.SkyClear}
	if err := c.Set(ctx, "1,2", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "1,2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got != val {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

// TestLRUCache_Get_Miss verifies that Get returns ok=false for a key never set.
func TestLRUCache_Get_Miss(t *testing.T) {
	c, _ := newTestLRU(10)
	_, ok, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestLRUCache_TTLBoundary verifies that an entry is served until its age reaches the TTL and
// is removed once it does.
func TestLRUCache_TTLBoundary(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestLRU(10)
	ttl := 15 * time.Minute

	_ = c.Set(ctx, "k", models.WeatherReading{Temperature: 1}, ttl)

	clock.Advance(ttl - time.Nanosecond)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("Get() just before TTL ok = false, want true")
	}

	clock.Advance(time.Nanosecond)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("Get() at TTL ok = true, want false")
	}
	if c.Contains("k") {
		t.Error("expired entry still present after Get")
	}
}

// TestLRUCache_SetResetsInsertion verifies that overwriting a key restarts its TTL.
func TestLRUCache_SetResetsInsertion(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestLRU(10)

	_ = c.Set(ctx, "k", models.WeatherReading{Temperature: 1}, time.Minute)
	clock.Advance(50 * time.Second)
	_ = c.Set(ctx, "k", models.WeatherReading{Temperature: 2}, time.Minute)
	clock.Advance(50 * time.Second)

	got, ok, _ := c.Get(ctx, "k")
	if !ok || got.Temperature != 2 {
		t.Errorf("Get() = %+v, %v; want Temperature 2, true", got, ok)
	}
}

// TestLRUCache_EvictsLeastRecentlyUsed verifies that a hit refreshes recency, so the next
// insert past capacity evicts the second key rather than the first.
func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestLRU(2)

	_ = c.Set(ctx, "a", models.WeatherReading{Temperature: 1}, time.Hour)
	_ = c.Set(ctx, "b", models.WeatherReading{Temperature: 2}, time.Hour)
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Fatal("Get(a) ok = false, want true")
	}
	_ = c.Set(ctx, "c", models.WeatherReading{Temperature: 3}, time.Hour)

	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if !c.Contains("a") {
		t.Error("a evicted, want retained after hit")
	}
	if c.Contains("b") {
		t.Error("b retained, want evicted as least recently used")
	}
	if !c.Contains("c") {
		t.Error("c missing after Set")
	}
}

func TestLRUCache_CapacityBound(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(0)
	for i := 0; i < DefaultMaxEntries+25; i++ {
		_ = c.Set(ctx, fmt.Sprintf("%d,0", i), models.WeatherReading{}, time.Hour)
	}
	if c.Len() != DefaultMaxEntries {
		t.Errorf("Len() = %d, want %d", c.Len(), DefaultMaxEntries)
	}
}

func TestLRUCache_Delete(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestLRU(10)
	_ = c.Set(ctx, "k", models.WeatherReading{}, time.Hour)
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Get() after Delete ok = true, want false")
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete() of missing key error = %v", err)
	}
}

// TestLRUCache_ConcurrentAccess exercises the lock under the race detector.
func TestLRUCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("%d,%d", g, i%32)
				_ = c.Set(ctx, key, models.WeatherReading{Temperature: float64(i)}, time.Minute)
				_, _, _ = c.Get(ctx, key)
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 16 {
		t.Errorf("Len() = %d, want <= 16", c.Len())
	}
}

func TestExpirationSeconds(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{15 * time.Minute, 900},
		{1500 * time.Millisecond, 2},
		{0, 3600},
		{-time.Second, 3600},
		{31 * 24 * time.Hour, 3600},
	}
	for _, tt := range tests {
		if got := expirationSeconds(tt.ttl); got != tt.want {
			t.Errorf("expirationSeconds(%v) = %d, want %d", tt.ttl, got, tt.want)
		}
	}
}
