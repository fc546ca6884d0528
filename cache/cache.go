// Package cache implements the per-destination cache from spec.md
// §4.10: starting parameters for a new connection to a peer are seeded
// from what the last connection to that same address learned, so a
// second connection to a host this process has already talked to
// doesn't have to rediscover its RTT and bandwidth from slow start.
//
// The eviction policy is grounded on soypat-lneto's internal/lrucache:
// a fixed-capacity ring of entries with an index that wraps, where Get
// scans backwards from the most recently written slot so repeat lookups
// of an active peer stay cheap without a separate linked list. rudt
// protects it with a sync.RWMutex instead of lrucache's bare struct
// since the cache here is shared across all of a listener's
// connections, not owned by a single goroutine.
package cache

import (
	"sync"
	"time"
)

// PeerInfo records what the transport learned about one destination:
// enough to seed a fresh connection's congestion controller and buffer
// sizing instead of starting cold.
type PeerInfo struct {
	RTT          time.Duration
	BandwidthPPS float64
	LossRate     float64
	FinalCwnd    int
	UpdatedAt    time.Time
}

type entry struct {
	addr string
	info PeerInfo
	used bool
}

// Cache is a fixed-capacity, address-keyed store of PeerInfo, safe for
// concurrent use.
type Cache struct {
	mu    sync.RWMutex
	slots []entry
	index int
}

// New creates a cache holding up to capacity entries; once full, the
// entry inserted longest ago is evicted to make room for a new address.
// Addresses already present are updated in place, not re-inserted, so an
// update does not change when an entry is evicted.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{slots: make([]entry, 0, capacity)}
}

// Lookup returns the cached info for addr, if any.
func (c *Cache) Lookup(addr string) (PeerInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.slots) == 0 {
		return PeerInfo{}, false
	}
	i := c.index
	for range c.slots {
		if c.slots[i].used && c.slots[i].addr == addr {
			return c.slots[i].info, true
		}
		if i == 0 {
			i = len(c.slots) - 1
		} else {
			i--
		}
	}
	return PeerInfo{}, false
}

// Update records or refreshes info learned about addr, typically called
// when a connection to it closes (spec.md §4.10).
func (c *Cache) Update(addr string, info PeerInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.slots {
		if c.slots[i].used && c.slots[i].addr == addr {
			c.slots[i].info = info
			return
		}
	}

	if len(c.slots) < cap(c.slots) {
		c.slots = append(c.slots, entry{addr: addr, info: info, used: true})
		c.index = len(c.slots) - 1
		return
	}

	c.index++
	if c.index >= len(c.slots) {
		c.index = 0
	}
	c.slots[c.index] = entry{addr: addr, info: info, used: true}
}

// Len reports how many distinct addresses are currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.slots)
}
