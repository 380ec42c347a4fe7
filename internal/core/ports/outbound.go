package ports

import (
	"context"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

// VectorBackend performs approximate nearest-neighbor search over a dense
// embedding. Errors are expected to be classified transient or permanent by
// the adapter so the resilience layer can decide retry eligibility.
type VectorBackend interface {
	Query(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]domain.BackendCandidate, error)
}

// KeywordBackend performs lexical search over the expanded term list.
type KeywordBackend interface {
	Query(ctx context.Context, terms []string, topK int) ([]domain.BackendCandidate, error)
}

// EmbeddingProvider computes a dense embedding for a piece of text.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CrossEncoder scores (query, passage) pairs jointly. Scores are returned
// in passage order.
type CrossEncoder interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// SynonymSource returns weighted related terms for one content word,
// ordered by descending weight.
type SynonymSource interface {
	Related(ctx context.Context, term string) ([]domain.RelatedTerm, error)
}

// ResultCache is the exact-match tier: fingerprint to ranked result list.
// Implementations must be safe for concurrent use and must hand out copies,
// never internal state.
type ResultCache interface {
	Get(key string) ([]domain.SearchCandidate, bool)
	Put(key string, results []domain.SearchCandidate)
	Clear()
	Stats() domain.CacheStats
}

// SemanticCache is the similarity-threshold tier keyed by query embedding.
// Get hits only at or above the configured threshold; Closest ignores the
// threshold and is used for stale-result fallback.
type SemanticCache interface {
	Get(embedding []float32) ([]domain.SearchCandidate, float64, bool)
	Closest(embedding []float32) ([]domain.SearchCandidate, float64, bool)
	Put(embedding []float32, results []domain.SearchCandidate)
	Stats() domain.CacheStats
}

// BreakerRegistry exposes circuit breaker snapshots for health reporting.
type BreakerRegistry interface {
	States() map[string]domain.BreakerState
}

// MetricsSink receives the engine's observability signals. Implementations
// must be safe for concurrent use; a nil-safe no-op is acceptable.
type MetricsSink interface {
	ObserveQuery(outcome string, seconds float64)
	ObserveVectorCall(outcome string, seconds float64)
	ObserveRerank(outcome string, seconds float64)
	CacheHit(tier string)
	CacheMiss(tier string)
}
