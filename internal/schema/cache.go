package schema

import "sync"

// Cache holds completed snapshots keyed by database id.
type Cache interface {
	Get(databaseID string) (Snapshot, bool)
	Put(databaseID string, snapshot Snapshot)
	Evict(databaseID string)
}

// MemoryCache is a process-local Cache. Reads do not take a lock.
type MemoryCache struct {
	entries sync.Map
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Get(databaseID string) (Snapshot, bool) {
	value, ok := c.entries.Load(databaseID)
	if !ok {
		return Snapshot{}, false
	}
	return value.(Snapshot), true
}

func (c *MemoryCache) Put(databaseID string, snapshot Snapshot) {
	c.entries.Store(databaseID, snapshot)
}

func (c *MemoryCache) Evict(databaseID string) {
	c.entries.Delete(databaseID)
}
