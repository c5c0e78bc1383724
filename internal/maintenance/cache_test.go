package maintenance

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStatusCacheEmptyMisses(t *testing.T) {
	c := NewStatusCache(time.Second, nil)
	if _, ok := c.Read(); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestStatusCacheDefaults(t *testing.T) {
	c := NewStatusCache(0, nil)
	if c.TTL() != DefaultCacheTTL {
		t.Errorf("TTL = %v, want %v", c.TTL(), DefaultCacheTTL)
	}
}

func TestStatusCacheTTLBoundary(t *testing.T) {
	clock := newFakeClock()
	c := NewStatusCache(5*time.Second, clock.Now)
	c.Write(true, []string{"10.0.0.1"})

	clock.Advance(5*time.Second - time.Millisecond)
	entry, ok := c.Read()
	if !ok {
		t.Fatal("expected hit just before TTL")
	}
	if !entry.MaintenanceEnabled || !entry.Contains("10.0.0.1") {
		t.Errorf("unexpected entry %+v", entry)
	}

	clock.Advance(time.Millisecond)
	if _, ok := c.Read(); ok {
		t.Fatal("expected miss exactly at TTL")
	}
}

func TestStatusCacheWriteIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	c := NewStatusCache(time.Minute, clock.Now)

	c.Write(true, []string{"10.0.0.1", "2001:db8::1"})
	first, _ := c.Read()
	c.Write(true, []string{"10.0.0.1", "2001:db8::1"})
	second, _ := c.Read()

	if first.MaintenanceEnabled != second.MaintenanceEnabled || len(first.ApprovedIPs) != len(second.ApprovedIPs) {
		t.Fatalf("reads differ: %+v vs %+v", first, second)
	}
	for i := range first.ApprovedIPs {
		if first.ApprovedIPs[i] != second.ApprovedIPs[i] {
			t.Fatalf("approved sets differ at %d", i)
		}
	}
}

func TestStatusCacheCopiesInput(t *testing.T) {
	c := NewStatusCache(time.Minute, nil)
	approved := []string{"10.0.0.1"}
	c.Write(true, approved)
	approved[0] = "10.0.0.2"

	entry, _ := c.Read()
	if !entry.Contains("10.0.0.1") || entry.Contains("10.0.0.2") {
		t.Errorf("cache entry changed with caller slice: %v", entry.ApprovedIPs)
	}
}

func TestStatusCacheNilApprovedBecomesEmpty(t *testing.T) {
	c := NewStatusCache(time.Minute, nil)
	entry := c.Write(false, nil)
	if entry.ApprovedIPs == nil {
		t.Error("expected empty, non-nil approved set")
	}
}

func TestStatusCacheInvalidate(t *testing.T) {
	c := NewStatusCache(time.Minute, nil)
	c.Write(true, nil)
	c.Invalidate()
	if _, ok := c.Read(); ok {
		t.Fatal("expected miss after Invalidate")
	}
}

func TestCacheEntryContainsIsOrderIndependent(t *testing.T) {
	a := CacheEntry{ApprovedIPs: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}}
	b := CacheEntry{ApprovedIPs: []string{"10.0.0.3", "10.0.0.1", "10.0.0.2"}}
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"} {
		if a.Contains(ip) != b.Contains(ip) {
			t.Errorf("membership of %s depends on order", ip)
		}
	}
	if a.Contains("10.0.0.4") {
		t.Error("unexpected member")
	}
}

func TestStatusCacheDropsWriteFromBeforeInvalidate(t *testing.T) {
	c := NewStatusCache(time.Minute, nil)
	gen := c.Generation()

	c.Invalidate()
	if _, stored := c.WriteAt(gen, true, nil); stored {
		t.Fatal("expected snapshot from an older generation to be dropped")
	}
	if _, ok := c.Read(); ok {
		t.Fatal("expected miss after dropped write")
	}

	if _, stored := c.WriteAt(c.Generation(), true, nil); !stored {
		t.Fatal("expected current generation write to be stored")
	}
	if _, ok := c.Read(); !ok {
		t.Fatal("expected hit after current write")
	}
}
