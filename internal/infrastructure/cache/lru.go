// Package cache implements the two request-level cache tiers: an
// exact-match LRU keyed by query fingerprint and a similarity-threshold
// cache keyed by query embedding.
package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

// ResultCache is the exact-match tier. Lookups and inserts both refresh
// recency; eviction beyond capacity removes the least recently used entry.
// Recency lives entirely in the underlying LRU. Values handed out are
// copies, so callers can never reach cache-internal state. Get and Put
// block only on the cache's own internal lock.
type ResultCache struct {
	inner    *lru.Cache[string, []domain.SearchCandidate]
	capacity int
	hits     atomic.Uint64
	misses   atomic.Uint64
}

func NewResultCache(capacity int) (*ResultCache, error) {
	inner, err := lru.New[string, []domain.SearchCandidate](capacity)
	if err != nil {
		return nil, err
	}
	return &ResultCache{inner: inner, capacity: capacity}, nil
}

func (c *ResultCache) Get(key string) ([]domain.SearchCandidate, bool) {
	results, ok := c.inner.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return cloneCandidates(results), true
}

func (c *ResultCache) Put(key string, results []domain.SearchCandidate) {
	c.inner.Add(key, cloneCandidates(results))
}

func (c *ResultCache) Clear() {
	c.inner.Purge()
}

func (c *ResultCache) Stats() domain.CacheStats {
	return domain.CacheStats{
		Size:     c.inner.Len(),
		Capacity: c.capacity,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}

func cloneCandidates(in []domain.SearchCandidate) []domain.SearchCandidate {
	if in == nil {
		return nil
	}
	out := make([]domain.SearchCandidate, len(in))
	copy(out, in)
	return out
}
