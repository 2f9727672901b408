package server

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hivedesk/hivedesk/modules/workspace/domain/access"
)

const reachableCacheSize = 4096

// reachableCache memoizes per-actor reachable sets. Entries are keyed by
// actor and tenant so an impersonation switch can drop everything computed
// for the previous tenant without touching other actors.
type reachableCache struct {
	lru *lru.Cache[string, access.ReachableSet]
}

func newReachableCache() *reachableCache {
	c, _ := lru.New[string, access.ReachableSet](reachableCacheSize)
	return &reachableCache{lru: c}
}

func reachableCacheKey(actorID, tenantID string) string {
	return actorID + "|" + tenantID
}

func (c *reachableCache) Get(actorID, tenantID string) (access.ReachableSet, bool) {
	return c.lru.Get(reachableCacheKey(actorID, tenantID))
}

func (c *reachableCache) Put(actorID, tenantID string, set access.ReachableSet) {
	c.lru.Add(reachableCacheKey(actorID, tenantID), set)
}

func (c *reachableCache) DropActor(actorID string) {
	prefix := actorID + "|"
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}
}

func (c *reachableCache) DropTenant(tenantID string) {
	suffix := "|" + tenantID
	for _, k := range c.lru.Keys() {
		if strings.HasSuffix(k, suffix) {
			c.lru.Remove(k)
		}
	}
}

// ClearTenantScoped implements platform.CacheInvalidator: it runs before an
// impersonation grant is recorded, so no stale tenant data survives the
// switch.
func (c *reachableCache) ClearTenantScoped(actorID string) {
	c.DropActor(actorID)
}

// InvalidatePlatformQueries is part of platform.CacheInvalidator. Platform
// reads (tenant list, impersonation state) are served uncached, so stopping
// an impersonation has nothing to drop here.
func (c *reachableCache) InvalidatePlatformQueries(actorID string) {}
