package authz

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"tillgate.dev/internal/obs"
)

const (
	// DefaultCacheTTL bounds how stale a served permission set may be.
	DefaultCacheTTL = 5 * time.Minute

	defaultCacheSize = 4096
)

type cacheEntry struct {
	permissions PermissionSet
	computedAt  time.Time
}

// CacheEntryStat describes one cached permission set for observability.
type CacheEntryStat struct {
	UserID      string        `json:"user_id"`
	Age         time.Duration `json:"age"`
	Permissions int           `json:"permissions"`
}

// CacheStats is a read-only snapshot of the cache.
type CacheStats struct {
	Entries []CacheEntryStat `json:"entries"`
}

// PermissionCache serves Aggregator results with bounded staleness and
// coalesces concurrent recomputation so at most one aggregation per user is
// in flight at any time.
//
// Invalidation is not linearizable with a Get that already passed its cache
// check: such a call may return data slightly older than a concurrent
// invalidation. That window is accepted and bounded by the TTL.
type PermissionCache struct {
	agg     *Aggregator
	store   Store
	ttl     time.Duration
	now     func() time.Time
	entries *lru.Cache[string, cacheEntry]
	flight  singleflight.Group
}

// NewPermissionCache wraps the aggregator with a TTL cache. The store is
// consulted only for role fan-out on InvalidateForRole. Zero ttl defaults to
// DefaultCacheTTL; a nil clock defaults to time.Now.
func NewPermissionCache(agg *Aggregator, store Store, ttl time.Duration, now func() time.Time) (*PermissionCache, error) {
	if agg == nil {
		return nil, fmt.Errorf("%w: aggregator is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	entries, err := lru.New[string, cacheEntry](defaultCacheSize)
	if err != nil {
		return nil, err
	}
	return &PermissionCache{
		agg:     agg,
		store:   store,
		ttl:     ttl,
		now:     now,
		entries: entries,
	}, nil
}

// Get returns the user's effective permissions, serving a cached set younger
// than the TTL when useCache is true. On a miss, concurrent callers for the
// same user share a single aggregation; a failed aggregation is propagated to
// every waiter and never cached.
func (c *PermissionCache) Get(ctx context.Context, userID string, useCache bool) (PermissionSet, error) {
	if useCache {
		if entry, ok := c.entries.Get(userID); ok && c.now().Sub(entry.computedAt) < c.ttl {
			obs.IncPermCacheHit()
			return entry.permissions.Clone(), nil
		}
	}
	obs.IncPermCacheMiss()

	ch := c.flight.DoChan(userID, func() (any, error) {
		perms, err := c.agg.EffectivePermissions(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.entries.Add(userID, cacheEntry{permissions: perms, computedAt: c.now()})
		return perms, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(PermissionSet).Clone(), nil
	case <-ctx.Done():
		// Waiters are released on deadline; the in-flight computation keeps
		// running for whoever still wants the result.
		return nil, ctx.Err()
	}
}

// Invalidate drops the cached entry for one user. Calling it twice is the
// same as once: the next Get recomputes either way.
func (c *PermissionCache) Invalidate(userID string) {
	c.entries.Remove(userID)
	c.flight.Forget(userID)
}

// InvalidateForRole drops the cached entry of every user currently holding
// the role. Holders come from the store, not from a cache scan, so users
// without a cached entry are harmlessly no-ops.
func (c *PermissionCache) InvalidateForRole(ctx context.Context, roleID string) error {
	userIDs, err := c.store.UsersByRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("resolve holders of role %s: %w", roleID, err)
	}
	for _, userID := range userIDs {
		c.Invalidate(userID)
	}
	return nil
}

// Clear drops every entry. Administrative and test use only.
func (c *PermissionCache) Clear() {
	c.entries.Purge()
}

// Stats returns entry count and per-entry ages.
func (c *PermissionCache) Stats() CacheStats {
	now := c.now()
	keys := c.entries.Keys()
	stats := CacheStats{Entries: make([]CacheEntryStat, 0, len(keys))}
	for _, key := range keys {
		entry, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		stats.Entries = append(stats.Entries, CacheEntryStat{
			UserID:      key,
			Age:         now.Sub(entry.computedAt),
			Permissions: len(entry.permissions),
		})
	}
	return stats
}
