package application

import (
	"context"
	"sync"
	"time"
)

// CachedRoomCatalog keeps recently resolved rooms so that bursts of bookings
// for one room do not hit the catalog on every request. Room status changes
// become visible once the entry expires or Invalidate is called.
type CachedRoomCatalog struct {
	inner      RoomCatalog
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]roomCacheEntry
}

type roomCacheEntry struct {
	room      Room
	expiresAt time.Time
}

// NewCachedRoomCatalog wraps inner. Non-positive ttl and maxEntries fall back
// to 30 seconds and 128 entries.
func NewCachedRoomCatalog(inner RoomCatalog, ttl time.Duration, maxEntries int, now func() time.Time) *CachedRoomCatalog {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 128
	}
	if now == nil {
		now = time.Now
	}
	return &CachedRoomCatalog{
		inner:      inner,
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]roomCacheEntry),
	}
}

// GetRoom implements RoomCatalog. Lookup failures are never cached.
func (c *CachedRoomCatalog) GetRoom(ctx context.Context, id string) (Room, error) {
	if room, ok := c.get(id); ok {
		return room, nil
	}
	room, err := c.inner.GetRoom(ctx, id)
	if err != nil {
		return Room{}, err
	}
	c.store(id, room)
	return room, nil
}

// Invalidate drops every cached entry.
func (c *CachedRoomCatalog) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]roomCacheEntry)
	c.mu.Unlock()
}

func (c *CachedRoomCatalog) get(id string) (Room, bool) {
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return Room{}, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, id)
		c.mu.Unlock()
		return Room{}, false
	}
	return entry.room, true
}

func (c *CachedRoomCatalog) store(id string, room Room) {
	expiry := c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[id] = roomCacheEntry{room: room, expiresAt: expiry}
}

func (c *CachedRoomCatalog) cleanupLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *CachedRoomCatalog) evictOneLocked() {
	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}
