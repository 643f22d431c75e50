package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLRUCache(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"SetAndGet", testSetAndGet},
		{"GetExpired", testGetExpired},
		{"SetOverMaxSizeEvictsOldest", testSetOverMaxSizeEvictsOldest},
		{"Invalidate", testInvalidate},
		{"GetOrLoad", testGetOrLoad},
		{"ConcurrentAccess", testConcurrentAccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testSetAndGet(t *testing.T) {
	c := NewLRUCache[string, int](10, 5*time.Second)
	c.Set("a", 1)

	got, ok := c.Get("a")
	if !ok || got != 1 {
		t.Fatalf("expected hit with 1, got %d %v", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss")
	}
}

func testGetExpired(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string, int](10, time.Minute).WithClock(clk.Now)
	c.Set("a", 1)

	clk.Advance(59 * time.Second)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit before expiry")
	}
	clk.Advance(2 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss after expiry")
	}
	if c.Size() != 0 {
		t.Fatalf("expired entry should be dropped, size %d", c.Size())
	}
}

func testSetOverMaxSizeEvictsOldest(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string, int](2, time.Hour).WithClock(clk.Now)
	c.Set("a", 1)
	clk.Advance(time.Second)
	c.Set("b", 2)
	clk.Advance(time.Second)
	c.Set("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Fatal("oldest entry should be evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("newest entry should be present")
	}

	// Updating an existing key does not evict.
	c.Set("b", 20)
	if c.Size() != 2 {
		t.Fatalf("expected size 2, got %d", c.Size())
	}
}

func testInvalidate(t *testing.T) {
	c := NewLRUCache[string, int](10, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Invalidate("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("invalidated key still present")
	}
	c.InvalidateAll()
	if c.Size() != 0 {
		t.Fatalf("expected empty cache, size %d", c.Size())
	}
}

func testGetOrLoad(t *testing.T) {
	c := NewLRUCache[string, int](10, time.Hour)
	loads := 0
	load := func() (int, error) {
		loads++
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad("k", load)
		if err != nil || v != 42 {
			t.Fatalf("unexpected %d %v", v, err)
		}
	}
	if loads != 1 {
		t.Fatalf("expected one load, got %d", loads)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrLoad("bad", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	if _, ok := c.Get("bad"); ok {
		t.Fatal("failed loads must not be cached")
	}
}

func testConcurrentAccess(t *testing.T) {
	c := NewLRUCache[string, int](50, time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (i*j)%80)
				c.Set(key, j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	if c.Size() > 50 {
		t.Fatalf("size %d exceeds max", c.Size())
	}
}
