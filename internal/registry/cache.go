package registry

import (
	"sync"
	"time"

	"github.com/dhannusch/pincer/internal/manifest"
)

// readCacheTTL bounds how long a cached index/manifest materialization
// may be served before the next read forces a reload. Writes invalidate
// the cache explicitly regardless of this TTL.
const readCacheTTL = 10 * time.Second

// readCache is the registry's isolate-local, best-effort cache of the
// index plus a materialized adapterId -> active manifest map, serving
// the hot-path action lookup without a store round trip on every call.
type readCache struct {
	mu        sync.RWMutex
	loadedAt  time.Time
	index     Index
	manifests map[string]*manifest.Manifest
}

func (c *readCache) valid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.loadedAt.IsZero() && time.Since(c.loadedAt) < readCacheTTL
}

func (c *readCache) get() (Index, map[string]*manifest.Manifest) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index, c.manifests
}

func (c *readCache) store(idx Index, manifests map[string]*manifest.Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = idx
	c.manifests = manifests
	c.loadedAt = time.Now()
}

// invalidate clears the cache; the next read reloads from the store.
func (c *readCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadedAt = time.Time{}
}
