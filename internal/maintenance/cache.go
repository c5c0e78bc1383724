package maintenance

import (
	"slices"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a fetched status stays valid.
const DefaultCacheTTL = 5 * time.Second

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

// CacheEntry is one snapshot of the maintenance flag and approved set.
type CacheEntry struct {
	MaintenanceEnabled bool
	ApprovedIPs        []string
	FetchedAt          time.Time
}

// Contains reports whether ip is in the approved set.
func (e CacheEntry) Contains(ip string) bool {
	return slices.Contains(e.ApprovedIPs, ip)
}

// StatusCache holds at most one CacheEntry for this process.
// An entry is valid while now - FetchedAt < ttl; an expired entry stays in
// place until the next Write replaces it.
type StatusCache struct {
	ttl   time.Duration
	clock Clock

	mu    sync.RWMutex
	entry *CacheEntry
	gen   uint64
}

// NewStatusCache creates an empty cache. A non-positive ttl selects
// DefaultCacheTTL and a nil clock selects time.Now.
func NewStatusCache(ttl time.Duration, clock Clock) *StatusCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &StatusCache{ttl: ttl, clock: clock}
}

// TTL returns the validity window of an entry.
func (c *StatusCache) TTL() time.Duration {
	return c.ttl
}

// Read returns the current entry if it has not expired.
func (c *StatusCache) Read() (CacheEntry, bool) {
	c.mu.RLock()
	entry := c.entry
	c.mu.RUnlock()

	if entry == nil {
		return CacheEntry{}, false
	}
	if c.clock().Sub(entry.FetchedAt) >= c.ttl {
		return CacheEntry{}, false
	}
	return *entry, true
}

// Generation identifies the current invalidation epoch. A fetch records it
// before reading the backend and hands it to WriteAt.
func (c *StatusCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Write replaces the entry, stamping it with the current time.
func (c *StatusCache) Write(enabled bool, approved []string) CacheEntry {
	entry, _ := c.WriteAt(c.Generation(), enabled, approved)
	return entry
}

// WriteAt stores a snapshot read during generation gen. If Invalidate ran
// since then the snapshot may predate the change and is not stored; the
// entry is still returned along with false.
func (c *StatusCache) WriteAt(gen uint64, enabled bool, approved []string) (CacheEntry, bool) {
	entry := &CacheEntry{
		MaintenanceEnabled: enabled,
		ApprovedIPs:        slices.Clone(approved),
		FetchedAt:          c.clock(),
	}
	if entry.ApprovedIPs == nil {
		entry.ApprovedIPs = []string{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return *entry, false
	}
	c.entry = entry
	return *entry, true
}

// Invalidate drops the entry so the next Read misses, and fences off any
// fetch that started before it.
func (c *StatusCache) Invalidate() {
	c.mu.Lock()
	c.entry = nil
	c.gen++
	c.mu.Unlock()
}
