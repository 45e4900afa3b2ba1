package archive

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/org/sessionvault/pkg/models"
)

// metaCache is a TTL'd LRU of archive metadata keyed by archive id. It
// only ever holds metadata rows; payloads and key material never enter
// it. Cached records are treated as immutable: mutations go through the
// store and invalidate the entry.
type metaCache struct {
	lru *expirable.LRU[string, *models.Archive]
}

// newMetaCache builds a cache of up to size entries with the given TTL.
// A non-positive size disables caching entirely.
func newMetaCache(size int, ttl time.Duration) *metaCache {
	if size <= 0 {
		return &metaCache{}
	}
	return &metaCache{lru: expirable.NewLRU[string, *models.Archive](size, nil, ttl)}
}

func (c *metaCache) get(id string) (*models.Archive, bool) {
	if c.lru == nil {
		return nil, false
	}
	rec, ok := c.lru.Get(id)
	if ok {
		cacheHits.Inc()
	} else {
		cacheMisses.Inc()
	}
	return rec, ok
}

func (c *metaCache) set(rec *models.Archive) {
	if c.lru != nil {
		c.lru.Add(rec.ID, rec)
	}
}

func (c *metaCache) invalidate(id string) {
	if c.lru != nil {
		c.lru.Remove(id)
	}
}
