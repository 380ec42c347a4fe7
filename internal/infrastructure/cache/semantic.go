package cache

import (
	"math"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

// SemanticCache stores (embedding, results) pairs and answers lookups by
// cosine similarity against the closest stored embedding. Similarity search
// is a deliberate linear scan: capacity is small (hundreds to low
// thousands of entries), and at that size a scan beats the bookkeeping of
// an approximate index. Revisit only if capacity grows past that.
type SemanticCache struct {
	inner     *lru.Cache[uint64, *semanticEntry]
	threshold float64
	capacity  int
	nextID    atomic.Uint64
	hits      atomic.Uint64
	misses    atomic.Uint64
}

type semanticEntry struct {
	embedding []float32
	norm      float64
	results   []domain.SearchCandidate
}

func NewSemanticCache(capacity int, threshold float64) (*SemanticCache, error) {
	inner, err := lru.New[uint64, *semanticEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &SemanticCache{inner: inner, threshold: threshold, capacity: capacity}, nil
}

// Get returns the cached results for the closest stored embedding when its
// cosine similarity reaches the configured threshold. A hit refreshes the
// entry's recency.
func (c *SemanticCache) Get(embedding []float32) ([]domain.SearchCandidate, float64, bool) {
	id, entry, sim := c.closest(embedding)
	if entry == nil || sim < c.threshold {
		c.misses.Add(1)
		return nil, sim, false
	}
	// Refresh recency under the LRU's own lock.
	if fresh, ok := c.inner.Get(id); ok {
		entry = fresh
	}
	c.hits.Add(1)
	return cloneCandidates(entry.results), sim, true
}

// Closest ignores the threshold and returns the nearest stored entry, if
// any. Used only for stale-result fallback; it does not touch recency or
// hit/miss counters.
func (c *SemanticCache) Closest(embedding []float32) ([]domain.SearchCandidate, float64, bool) {
	_, entry, sim := c.closest(embedding)
	if entry == nil {
		return nil, 0, false
	}
	return cloneCandidates(entry.results), sim, true
}

func (c *SemanticCache) Put(embedding []float32, results []domain.SearchCandidate) {
	if len(embedding) == 0 {
		return
	}
	emb := make([]float32, len(embedding))
	copy(emb, embedding)
	c.inner.Add(c.nextID.Add(1), &semanticEntry{
		embedding: emb,
		norm:      vectorNorm(emb),
		results:   cloneCandidates(results),
	})
}

func (c *SemanticCache) Stats() domain.CacheStats {
	return domain.CacheStats{
		Size:     c.inner.Len(),
		Capacity: c.capacity,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}

func (c *SemanticCache) closest(embedding []float32) (uint64, *semanticEntry, float64) {
	queryNorm := vectorNorm(embedding)
	if queryNorm == 0 {
		return 0, nil, 0
	}

	var (
		bestID    uint64
		bestEntry *semanticEntry
		bestSim   = math.Inf(-1)
	)
	for _, id := range c.inner.Keys() {
		entry, ok := c.inner.Peek(id)
		if !ok {
			continue
		}
		sim := cosine(embedding, queryNorm, entry.embedding, entry.norm)
		if sim > bestSim {
			bestID, bestEntry, bestSim = id, entry, sim
		}
	}
	if bestEntry == nil {
		return 0, nil, 0
	}
	return bestID, bestEntry, bestSim
}

func cosine(a []float32, normA float64, b []float32, normB float64) float64 {
	if len(a) != len(b) || normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
