package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/rollupcore/rollup-core/internal/models"
)

// L1 is a process-local, tenant-partitioned bounded cache of index
// entries. Each tenant gets its own expirable LRU so one noisy tenant
// can't evict another's entries, and entries age out on TTL even if
// the LRU never fills.
type L1 struct {
	maxEntries int
	ttl        time.Duration

	mu     sync.RWMutex
	shards map[models.Tenant]*expirable.LRU[string, models.IndexEntry]
}

// NewL1 builds an L1 cache that caps every tenant shard at maxEntries
// entries, each expiring after ttl.
func NewL1(maxEntries int, ttl time.Duration) *L1 {
	return &L1{
		maxEntries: maxEntries,
		ttl:        ttl,
		shards:     make(map[models.Tenant]*expirable.LRU[string, models.IndexEntry]),
	}
}

func (c *L1) shard(tenantID models.Tenant) *expirable.LRU[string, models.IndexEntry] {
	c.mu.RLock()
	shard, ok := c.shards[tenantID]
	c.mu.RUnlock()
	if ok {
		return shard
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if shard, ok = c.shards[tenantID]; ok {
		return shard
	}
	shard = expirable.NewLRU[string, models.IndexEntry](c.maxEntries, nil, c.ttl)
	c.shards[tenantID] = shard
	return shard
}

func entryKey(scanID, nodeID string) string {
	return scanID + "/" + nodeID
}

// Get returns the cached entry for (scanID, nodeID) within tenantID.
func (c *L1) Get(tenantID models.Tenant, scanID, nodeID string) (models.IndexEntry, bool) {
	return c.shard(tenantID).Get(entryKey(scanID, nodeID))
}

// Put stores entry under tenantID, keyed by its own scan and node ids.
func (c *L1) Put(tenantID models.Tenant, entry models.IndexEntry) {
	c.shard(tenantID).Add(entryKey(entry.ScanID, entry.NodeID), entry)
}

// Invalidate drops tenantID's shard entirely; Index.Invalidate calls
// it.
func (c *L1) Invalidate(tenantID models.Tenant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.shards, tenantID)
}

// Len reports how many entries are cached for tenantID, for metrics
// and tests.
func (c *L1) Len(tenantID models.Tenant) int {
	c.mu.RLock()
	shard, ok := c.shards[tenantID]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	return shard.Len()
}
