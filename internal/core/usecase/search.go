// Package usecase holds the hybrid retrieval pipeline: query expansion,
// parallel vector and keyword retrieval behind the resilience layer, score
// fusion, optional cross-encoder rerank and MMR diversification, and the
// cache tiers in front of it all.
//
// Locking rule, applied uniformly: any method needing a consistent view of
// shared state takes a short-held lock to copy what it needs, then works on
// the copy. No lock is held while calling another component or across I/O.
package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
	"github.com/kirillkom/retrieval-engine/internal/core/ports"
)

// SearchConfig carries the engine defaults; request options override the
// per-request knobs.
type SearchConfig struct {
	DefaultLimit    int
	CandidateLimit  int
	FusionRRFK      int
	RerankTopK      int
	BackendTimeout  time.Duration
	DiversityLambda *float64
}

func (c SearchConfig) normalize() SearchConfig {
	out := c
	if out.DefaultLimit <= 0 {
		out.DefaultLimit = 10
	}
	if out.CandidateLimit <= 0 {
		out.CandidateLimit = 30
	}
	if out.FusionRRFK <= 0 {
		out.FusionRRFK = 60
	}
	if out.BackendTimeout <= 0 {
		out.BackendTimeout = 3 * time.Second
	}
	return out
}

// queryContext is the request-local, read-only view of one search. It is
// never shared across requests.
type queryContext struct {
	rawQuery      string
	expandedTerms []string
	fingerprint   string
	useCache      bool
	rerankTopK    int
	lambda        *float64
	limit         int
	filters       map[string]string
}

// HybridQueryUseCase orchestrates one retrieval request end to end. The
// fallback chain is strictly ordered: vector+keyword fusion, keyword-only,
// cached stale result, error; each step is attempted only when the previous
// one is unavailable.
type HybridQueryUseCase struct {
	embedder ports.EmbeddingProvider
	vector   ports.VectorBackend
	keyword  ports.KeywordBackend
	expander *QueryExpander
	reranker *Reranker
	exact    ports.ResultCache
	semantic ports.SemanticCache
	breakers ports.BreakerRegistry
	metrics  ports.MetricsSink
	logger   *slog.Logger
	cfg      SearchConfig

	mu             sync.Mutex
	lastDegradedAt *time.Time
}

func NewHybridQueryUseCase(
	embedder ports.EmbeddingProvider,
	vector ports.VectorBackend,
	keyword ports.KeywordBackend,
	expander *QueryExpander,
	reranker *Reranker,
	exact ports.ResultCache,
	semantic ports.SemanticCache,
	breakers ports.BreakerRegistry,
	metrics ports.MetricsSink,
	logger *slog.Logger,
	cfg SearchConfig,
) *HybridQueryUseCase {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridQueryUseCase{
		embedder: embedder,
		vector:   vector,
		keyword:  keyword,
		expander: expander,
		reranker: reranker,
		exact:    exact,
		semantic: semantic,
		breakers: breakers,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg.normalize(),
	}
}

func (uc *HybridQueryUseCase) Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResult, error) {
	start := time.Now()
	result, err := uc.search(ctx, query, opts)

	took := time.Since(start)
	switch {
	case err != nil:
		uc.metrics.ObserveQuery("error", took.Seconds())
	case result.Degraded:
		uc.metrics.ObserveQuery("degraded", took.Seconds())
		uc.markDegraded()
	default:
		uc.metrics.ObserveQuery("success", took.Seconds())
	}
	if result != nil {
		result.Took = took
	}
	return result, err
}

func (uc *HybridQueryUseCase) search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResult, error) {
	qctx, err := uc.buildQueryContext(query, opts)
	if err != nil {
		return nil, err
	}

	embedding, embErr := uc.embedder.Embed(ctx, qctx.rawQuery)
	if embErr != nil {
		uc.logger.Warn("embed_query_failed", "error", embErr)
	}

	if qctx.useCache {
		if result := uc.checkCaches(qctx, embedding, embErr); result != nil {
			return result, nil
		}
	}

	qctx.expandedTerms = uc.expander.Expand(ctx, qctx.rawQuery)

	vecResults, vecErr, kwResults, kwErr := uc.retrieve(ctx, qctx, embedding, embErr)

	if vecErr != nil && domain.IsKind(vecErr, domain.ErrInvalidQuery) {
		return nil, vecErr
	}

	var (
		candidates []domain.SearchCandidate
		source     string
		degraded   bool
	)
	switch {
	case vecErr == nil && kwErr == nil:
		candidates = fuseRRF(vecResults, kwResults, uc.cfg.FusionRRFK)
		source = domain.SourceFusion
	case vecErr != nil && kwErr == nil:
		uc.logger.Warn("vector_path_unavailable", "error", vecErr)
		candidates = fuseRRF(nil, kwResults, uc.cfg.FusionRRFK)
		source = domain.SourceKeywordOnly
		degraded = true
	case vecErr == nil && kwErr != nil:
		uc.logger.Warn("keyword_path_unavailable", "error", kwErr)
		candidates = fuseRRF(vecResults, nil, uc.cfg.FusionRRFK)
		source = domain.SourceVectorOnly
		degraded = true
	default:
		return uc.serveStale(qctx, embedding, embErr, vecErr, kwErr)
	}

	if qctx.rerankTopK > 0 {
		candidates = uc.reranker.Rerank(ctx, qctx.rawQuery, candidates, qctx.rerankTopK)
	}
	if qctx.lambda != nil {
		candidates = diversifyMMR(candidates, *qctx.lambda)
	}
	candidates = trimCandidates(candidates, qctx.limit)
	assignRanks(candidates)

	// Degraded result lists are served but never cached: a cache hit
	// carries no degraded flag, so caching them would let a brief outage
	// masquerade as fresh full-pipeline results until eviction.
	if qctx.useCache && !degraded {
		uc.exact.Put(qctx.fingerprint, candidates)
		if embErr == nil {
			uc.semantic.Put(embedding, candidates)
		}
	}

	return &domain.SearchResult{
		Results:       candidates,
		ExpandedTerms: qctx.expandedTerms,
		Degraded:      degraded,
		Source:        source,
	}, nil
}

func (uc *HybridQueryUseCase) buildQueryContext(query string, opts domain.SearchOptions) (*queryContext, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, domain.WrapError(domain.ErrInvalidQuery, "search", errors.New("empty query"))
	}
	if opts.DiversityLambda != nil && (*opts.DiversityLambda < 0 || *opts.DiversityLambda > 1) {
		return nil, domain.WrapError(domain.ErrInvalidQuery, "search", errors.New("diversity lambda out of [0,1]"))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = uc.cfg.DefaultLimit
	}
	// RerankTopK 0 means "engine default"; negative disables reranking.
	rerankTopK := opts.RerankTopK
	if rerankTopK == 0 {
		rerankTopK = uc.cfg.RerankTopK
	}
	if rerankTopK < 0 {
		rerankTopK = 0
	}
	lambda := opts.DiversityLambda
	if lambda == nil {
		lambda = uc.cfg.DiversityLambda
	}

	normalized := domain.SearchOptions{
		Limit:           limit,
		RerankTopK:      rerankTopK,
		DiversityLambda: lambda,
		Filters:         opts.Filters,
	}

	return &queryContext{
		rawQuery:    trimmed,
		fingerprint: queryFingerprint(trimmed, normalized),
		useCache:    opts.UseCache,
		rerankTopK:  rerankTopK,
		lambda:      lambda,
		limit:       limit,
		filters:     opts.Filters,
	}, nil
}

// checkCaches serves from the semantic tier first, then the exact tier.
// A hit answers the request with no backend calls.
func (uc *HybridQueryUseCase) checkCaches(qctx *queryContext, embedding []float32, embErr error) *domain.SearchResult {
	if embErr == nil {
		if results, sim, ok := uc.semantic.Get(embedding); ok {
			uc.metrics.CacheHit("semantic")
			uc.logger.Debug("semantic_cache_hit", "similarity", sim)
			return &domain.SearchResult{
				Results: trimCandidates(results, qctx.limit),
				Source:  domain.SourceSemanticCache,
			}
		}
		uc.metrics.CacheMiss("semantic")
	}

	if results, ok := uc.exact.Get(qctx.fingerprint); ok {
		uc.metrics.CacheHit("exact")
		return &domain.SearchResult{
			Results: results,
			Source:  domain.SourceExactCache,
		}
	}
	uc.metrics.CacheMiss("exact")
	return nil
}

// retrieve runs the vector call and the keyword call concurrently. The
// vector adapter carries its own guard stack (breaker, retry, per-attempt
// call budget), so only the keyword call gets a timeout here.
func (uc *HybridQueryUseCase) retrieve(
	ctx context.Context,
	qctx *queryContext,
	embedding []float32,
	embErr error,
) (vecResults []domain.BackendCandidate, vecErr error, kwResults []domain.BackendCandidate, kwErr error) {
	var g errgroup.Group

	g.Go(func() error {
		if embErr != nil {
			vecErr = domain.WrapError(domain.ErrTemporary, "embed query", embErr)
			return nil
		}

		start := time.Now()
		vecResults, vecErr = uc.vector.Query(ctx, embedding, uc.cfg.CandidateLimit, qctx.filters)
		uc.metrics.ObserveVectorCall(outcomeOf(vecErr), time.Since(start).Seconds())
		return nil
	})

	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(ctx, uc.cfg.BackendTimeout)
		defer cancel()
		kwResults, kwErr = uc.keyword.Query(callCtx, qctx.expandedTerms, uc.cfg.CandidateLimit)
		return nil
	})

	_ = g.Wait()
	return vecResults, vecErr, kwResults, kwErr
}

// serveStale is the last fallback before surfacing an error: the exact
// entry for this fingerprint if present, otherwise the closest semantic
// entry regardless of threshold.
func (uc *HybridQueryUseCase) serveStale(
	qctx *queryContext,
	embedding []float32,
	embErr, vecErr, kwErr error,
) (*domain.SearchResult, error) {
	if results, ok := uc.exact.Get(qctx.fingerprint); ok {
		uc.logger.Warn("serving_stale_exact_cache", "vector_error", vecErr, "keyword_error", kwErr)
		return &domain.SearchResult{
			Results:  results,
			Degraded: true,
			Source:   domain.SourceStaleCache,
		}, nil
	}
	if embErr == nil {
		if results, sim, ok := uc.semantic.Closest(embedding); ok {
			uc.logger.Warn("serving_stale_semantic_cache", "similarity", sim, "vector_error", vecErr, "keyword_error", kwErr)
			return &domain.SearchResult{
				Results:  trimCandidates(results, qctx.limit),
				Degraded: true,
				Source:   domain.SourceStaleCache,
			}, nil
		}
	}
	return nil, domain.WrapError(domain.ErrUnavailable, "search", errors.Join(vecErr, kwErr))
}

// Status snapshots breaker and cache health for the external health
// endpoint. The engine lock is held only to copy lastDegradedAt.
func (uc *HybridQueryUseCase) Status() domain.HealthStatus {
	uc.mu.Lock()
	var last *time.Time
	if uc.lastDegradedAt != nil {
		t := *uc.lastDegradedAt
		last = &t
	}
	uc.mu.Unlock()

	states := map[string]domain.BreakerState{}
	if uc.breakers != nil {
		states = uc.breakers.States()
	}

	return domain.HealthStatus{
		BreakerStates: states,
		CacheStats: map[string]domain.CacheStats{
			"exact":    uc.exact.Stats(),
			"semantic": uc.semantic.Stats(),
		},
		LastDegradedAt: last,
	}
}

func (uc *HybridQueryUseCase) markDegraded() {
	now := time.Now()
	uc.mu.Lock()
	uc.lastDegradedAt = &now
	uc.mu.Unlock()
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

type nopMetrics struct{}

func (nopMetrics) ObserveQuery(string, float64)      {}
func (nopMetrics) ObserveVectorCall(string, float64) {}
func (nopMetrics) ObserveRerank(string, float64)     {}
func (nopMetrics) CacheHit(string)                   {}
func (nopMetrics) CacheMiss(string)                  {}
