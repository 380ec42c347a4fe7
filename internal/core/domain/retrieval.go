package domain

import "time"

// BackendCandidate is a raw scored hit as returned by a single retrieval
// backend, before fusion.
type BackendCandidate struct {
	DocID   string  `json:"doc_id"`
	Content string  `json:"content,omitempty"`
	Score   float64 `json:"score"`
}

// SearchCandidate is one fused, ranked result. Constructed fresh per query
// and treated as immutable once its Rank is assigned.
type SearchCandidate struct {
	DocID        string  `json:"doc_id"`
	Content      string  `json:"content,omitempty"`
	VectorScore  float64 `json:"vector_score"`
	KeywordScore float64 `json:"keyword_score"`
	FusedScore   float64 `json:"fused_score"`
	RerankScore  float64 `json:"rerank_score"`
	FinalScore   float64 `json:"final_score"`
	Rank         int     `json:"rank"`
}

// SearchOptions carries per-request knobs. Zero values mean "use engine
// defaults"; a nil DiversityLambda skips the diversity stage entirely.
type SearchOptions struct {
	Limit           int
	UseCache        bool
	RerankTopK      int
	DiversityLambda *float64
	Filters         map[string]string
}

// Result sources, in fallback-chain order.
const (
	SourceFusion        = "fusion"
	SourceVectorOnly    = "vector_only"
	SourceKeywordOnly   = "keyword_only"
	SourceExactCache    = "exact_cache"
	SourceSemanticCache = "semantic_cache"
	SourceStaleCache    = "stale_cache"
)

// SearchResult is the engine response. Degraded is set whenever anything
// other than the primary vector+keyword fusion path produced the results.
type SearchResult struct {
	Results       []SearchCandidate `json:"results"`
	ExpandedTerms []string          `json:"expanded_terms,omitempty"`
	Degraded      bool              `json:"degraded"`
	Source        string            `json:"source"`
	Took          time.Duration     `json:"took"`
}

// RelatedTerm is one weighted relation returned by a synonym source.
type RelatedTerm struct {
	Term   string
	Weight float64
}

// CacheStats is a point-in-time snapshot of one cache tier.
type CacheStats struct {
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
}

// BreakerState is a point-in-time snapshot of one circuit breaker.
type BreakerState struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	FailureCount  uint32 `json:"failure_count"`
	TotalRejected uint64 `json:"total_rejected"`
	TotalOpened   uint64 `json:"total_opened"`
}

// HealthStatus is the component-level health snapshot consumed by an
// external health endpoint.
type HealthStatus struct {
	BreakerStates  map[string]BreakerState `json:"breaker_states"`
	CacheStats     map[string]CacheStats   `json:"cache_stats"`
	LastDegradedAt *time.Time              `json:"last_degraded_at"`
}
