// Package index implements the external object index: a
// tenant-partitioned lookup from (scan, node) to the external
// references extracted from that node, backed by a two-tier cache
// (an in-process bounded LRU, then Redis) in front of durable storage.
package index

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rollupcore/rollup-core/internal/cache"
	rolluperrors "github.com/rollupcore/rollup-core/internal/errors"
	"github.com/rollupcore/rollup-core/internal/extractors"
	"github.com/rollupcore/rollup-core/internal/logging"
	"github.com/rollupcore/rollup-core/internal/models"
	"github.com/rollupcore/rollup-core/internal/storage"
)

// Index is the external object index. A single Index instance is
// shared across all tenants; every operation takes a tenant explicitly
// and never leaks data across the boundary.
type Index struct {
	l1          *cache.L1
	l2          *cache.Client // may be nil: L2 is optional, Store is always the fallback
	store       storage.Store
	reg         *extractors.Registry
	group       singleflight.Group
	staleWindow time.Duration
	logger      *logging.Logger
}

// New builds an Index. l2 may be nil to run with only an L1 cache and
// durable storage, e.g. in tests.
func New(l1 *cache.L1, l2 *cache.Client, store storage.Store, staleWindow time.Duration, logger *logging.Logger) *Index {
	return &Index{l1: l1, l2: l2, store: store, reg: extractors.NewRegistry(), staleWindow: staleWindow, logger: logger}
}

// BuildForScan extracts external references for every node in graph
// and persists the resulting index entries to durable storage and both
// cache tiers. Concurrent builds for the same (tenant, scan) collapse
// into one via singleflight, so a rollup that references the same scan
// from two concurrent executions only extracts once.
func (idx *Index) BuildForScan(ctx context.Context, tenantID models.Tenant, graph models.RepoGraph) ([]models.IndexEntry, error) {
	key := string(tenantID) + ":" + graph.ScanID

	result, err, _ := idx.group.Do(key, func() (interface{}, error) {
		entries := make([]models.IndexEntry, 0, len(graph.Nodes))
		for _, node := range graph.Nodes {
			refs := idx.reg.ExtractAll(node)
			entry := models.IndexEntry{
				ID:             key + ":" + node.ID,
				TenantID:       tenantID,
				ScanID:         graph.ScanID,
				RepositoryID:   graph.RepositoryID,
				NodeID:         node.ID,
				References:     refs,
				CollectionHash: models.ComputeCollectionHash(refs),
			}
			entries = append(entries, entry)
		}

		if err := idx.store.SaveIndexEntries(ctx, entries); err != nil {
			return nil, rolluperrors.InfraErrorf(err, "failed to persist index entries for scan %s", graph.ScanID)
		}

		for _, entry := range entries {
			idx.l1.Put(tenantID, entry)
			if idx.l2 != nil {
				_ = idx.l2.Set(ctx, cache.IndexKey(string(tenantID), entry.ScanID, entry.NodeID), entry)
			}
		}

		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.IndexEntry), nil
}

// Get looks up the index entry for (scanID, nodeID) within tenantID,
// checking L1, then L2 (honoring a stale-while-revalidate grace
// window), then durable storage. found is false only if no tier has an
// entry at all.
func (idx *Index) Get(ctx context.Context, tenantID models.Tenant, scanID, nodeID string) (models.IndexEntry, bool, error) {
	if entry, ok := idx.l1.Get(tenantID, scanID, nodeID); ok {
		return entry, true, nil
	}

	if idx.l2 != nil {
		var entry models.IndexEntry
		found, ttl, err := idx.l2.GetStale(ctx, cache.IndexKey(string(tenantID), scanID, nodeID), &entry)
		if err != nil {
			return models.IndexEntry{}, false, rolluperrors.InfraErrorf(err, "l2 cache lookup failed")
		}
		if found {
			idx.l1.Put(tenantID, entry)
			if ttl <= 0 && idx.logger != nil {
				idx.logger.Debug("serving stale index entry within grace window", "scan_id", scanID, "node_id", nodeID)
			}
			return entry, true, nil
		}
	}

	entries, err := idx.store.GetIndexEntriesByScan(ctx, tenantID, scanID)
	if err != nil {
		return models.IndexEntry{}, false, rolluperrors.InfraErrorf(err, "store lookup failed for scan %s", scanID)
	}
	for _, entry := range entries {
		if entry.NodeID == nodeID {
			idx.l1.Put(tenantID, entry)
			if idx.l2 != nil {
				_ = idx.l2.Set(ctx, cache.IndexKey(string(tenantID), entry.ScanID, entry.NodeID), entry)
			}
			return entry, true, nil
		}
	}

	return models.IndexEntry{}, false, nil
}

// GetAllForScan reads every index entry for scanID from the store in
// one query and puts each entry into L1. L2 is neither read nor
// written.
func (idx *Index) GetAllForScan(ctx context.Context, tenantID models.Tenant, scanID string) ([]models.IndexEntry, error) {
	entries, err := idx.store.GetIndexEntriesByScan(ctx, tenantID, scanID)
	if err != nil {
		return nil, rolluperrors.InfraErrorf(err, "store lookup failed for scan %s", scanID)
	}
	for _, entry := range entries {
		idx.l1.Put(tenantID, entry)
	}
	return entries, nil
}

// FindByHash returns every index entry across a tenant's scans whose
// reference collection contains hash, read from the store. The
// executor's match phase does not use it: it matches the entries that
// BuildForScan returns.
func (idx *Index) FindByHash(ctx context.Context, tenantID models.Tenant, hash string) ([]models.IndexEntry, error) {
	entries, err := idx.store.FindIndexEntriesByHash(ctx, tenantID, hash)
	if err != nil {
		return nil, rolluperrors.InfraErrorf(err, "hash lookup failed for %s", hash)
	}
	return entries, nil
}

// Invalidate drops tenantID's L1 shard and, when L2 is configured,
// deletes the tenant's "index:<tenant>:*" keys, so later lookups fall
// through to storage.
func (idx *Index) Invalidate(ctx context.Context, tenantID models.Tenant) {
	idx.l1.Invalidate(tenantID)
	if idx.l2 != nil {
		if _, err := idx.l2.DeletePattern(ctx, "index:"+string(tenantID)+":*"); err != nil && idx.logger != nil {
			idx.logger.Warn("failed to invalidate l2 cache", "tenant_id", tenantID, "error", err)
		}
	}
}
