package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

type queryEmbedderFake struct {
	embedding []float32
	err       error
}

func (f *queryEmbedderFake) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.embedding, nil
}

type vectorBackendFake struct {
	results []domain.BackendCandidate
	err     error
	calls   int
}

func (f *vectorBackendFake) Query(context.Context, []float32, int, map[string]string) ([]domain.BackendCandidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type keywordBackendFake struct {
	results []domain.BackendCandidate
	err     error
	calls   int
}

func (f *keywordBackendFake) Query(context.Context, []string, int) ([]domain.BackendCandidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type resultCacheFake struct {
	entries map[string][]domain.SearchCandidate
	puts    []string
}

func newResultCacheFake() *resultCacheFake {
	return &resultCacheFake{entries: make(map[string][]domain.SearchCandidate)}
}

func (f *resultCacheFake) Get(key string) ([]domain.SearchCandidate, bool) {
	results, ok := f.entries[key]
	return results, ok
}

func (f *resultCacheFake) Put(key string, results []domain.SearchCandidate) {
	f.entries[key] = results
	f.puts = append(f.puts, key)
}

func (f *resultCacheFake) Clear() { f.entries = map[string][]domain.SearchCandidate{} }

func (f *resultCacheFake) Stats() domain.CacheStats {
	return domain.CacheStats{Size: len(f.entries), Capacity: 512}
}

type semanticCacheFake struct {
	hitResults     []domain.SearchCandidate
	closestResults []domain.SearchCandidate
	puts           int
}

func (f *semanticCacheFake) Get([]float32) ([]domain.SearchCandidate, float64, bool) {
	if f.hitResults == nil {
		return nil, 0, false
	}
	return f.hitResults, 0.92, true
}

func (f *semanticCacheFake) Closest([]float32) ([]domain.SearchCandidate, float64, bool) {
	if f.closestResults == nil {
		return nil, 0, false
	}
	return f.closestResults, 0.4, true
}

func (f *semanticCacheFake) Put([]float32, []domain.SearchCandidate) { f.puts++ }

func (f *semanticCacheFake) Stats() domain.CacheStats {
	return domain.CacheStats{Size: f.puts, Capacity: 256}
}

type breakerRegistryFake struct {
	states map[string]domain.BreakerState
}

func (f *breakerRegistryFake) States() map[string]domain.BreakerState { return f.states }

type metricsSinkFake struct {
	mu       sync.Mutex
	queries  map[string]int
	vector   map[string]int
	reranks  map[string]int
	cacheHit map[string]int
	cacheMis map[string]int
}

func newMetricsSinkFake() *metricsSinkFake {
	return &metricsSinkFake{
		queries:  map[string]int{},
		vector:   map[string]int{},
		reranks:  map[string]int{},
		cacheHit: map[string]int{},
		cacheMis: map[string]int{},
	}
}

func (m *metricsSinkFake) ObserveQuery(outcome string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries[outcome]++
}

func (m *metricsSinkFake) ObserveVectorCall(outcome string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vector[outcome]++
}

func (m *metricsSinkFake) ObserveRerank(outcome string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reranks[outcome]++
}

func (m *metricsSinkFake) CacheHit(tier string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHit[tier]++
}

func (m *metricsSinkFake) CacheMiss(tier string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheMis[tier]++
}

type engineFixture struct {
	embedder *queryEmbedderFake
	vector   *vectorBackendFake
	keyword  *keywordBackendFake
	exact    *resultCacheFake
	semantic *semanticCacheFake
	metrics  *metricsSinkFake
	uc       *HybridQueryUseCase
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		embedder: &queryEmbedderFake{embedding: []float32{1, 0, 0}},
		vector: &vectorBackendFake{results: []domain.BackendCandidate{
			{DocID: "v1", Content: "vector first", Score: 0.9},
			{DocID: "both", Content: "in both lists", Score: 0.7},
		}},
		keyword: &keywordBackendFake{results: []domain.BackendCandidate{
			{DocID: "both", Content: "in both lists", Score: 0.8},
			{DocID: "k1", Content: "keyword first", Score: 0.5},
		}},
		exact:    newResultCacheFake(),
		semantic: &semanticCacheFake{},
		metrics:  newMetricsSinkFake(),
	}
	f.uc = NewHybridQueryUseCase(
		f.embedder,
		f.vector,
		f.keyword,
		NewQueryExpander(nil, 3, 0, nil),
		NewReranker(nil, time.Second, nil, nil),
		f.exact,
		f.semantic,
		&breakerRegistryFake{states: map[string]domain.BreakerState{
			"vector-backend": {Name: "vector-backend", State: "closed"},
		}},
		f.metrics,
		nil,
		SearchConfig{DefaultLimit: 10, CandidateLimit: 30, FusionRRFK: 60, BackendTimeout: time.Second},
	)
	return f
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	f := newEngineFixture()
	for _, query := range []string{"", "   ", "\t\n"} {
		_, err := f.uc.Search(context.Background(), query, domain.SearchOptions{})
		if !domain.IsKind(err, domain.ErrInvalidQuery) {
			t.Fatalf("query %q: got %v, want invalid query", query, err)
		}
	}
	if f.vector.calls != 0 || f.keyword.calls != 0 {
		t.Fatal("invalid query must not reach the backends")
	}
}

func TestSearchRejectsLambdaOutOfRange(t *testing.T) {
	f := newEngineFixture()
	for _, lambda := range []float64{-0.1, 1.5} {
		l := lambda
		_, err := f.uc.Search(context.Background(), "hybrid search", domain.SearchOptions{DiversityLambda: &l})
		if !domain.IsKind(err, domain.ErrInvalidQuery) {
			t.Fatalf("lambda %f: got %v, want invalid query", lambda, err)
		}
	}
}

func TestSearchFusesBothBackends(t *testing.T) {
	f := newEngineFixture()

	result, err := f.uc.Search(context.Background(), "hybrid search", domain.SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Degraded {
		t.Fatal("healthy backends must not mark the result degraded")
	}
	if result.Source != domain.SourceFusion {
		t.Fatalf("source = %q, want %q", result.Source, domain.SourceFusion)
	}
	if len(result.Results) != 3 {
		t.Fatalf("fused %d results, want 3", len(result.Results))
	}
	if result.Results[0].DocID != "both" {
		t.Fatalf("doc in both lists should lead: %q", result.Results[0].DocID)
	}
	if len(result.ExpandedTerms) == 0 {
		t.Fatal("expanded terms missing from result")
	}
	if f.metrics.queries["success"] != 1 {
		t.Fatalf("query metrics: %v", f.metrics.queries)
	}
	if f.metrics.vector["success"] != 1 {
		t.Fatalf("vector call metrics: %v", f.metrics.vector)
	}
}

func TestSearchDegradesToKeywordOnly(t *testing.T) {
	f := newEngineFixture()
	f.vector.err = domain.WrapError(domain.ErrUnavailable, "vector search", errors.New("circuit open"))

	result, err := f.uc.Search(context.Background(), "hybrid search", domain.SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !result.Degraded {
		t.Fatal("keyword-only result must be marked degraded")
	}
	if result.Source != domain.SourceKeywordOnly {
		t.Fatalf("source = %q, want %q", result.Source, domain.SourceKeywordOnly)
	}
	if len(result.Results) == 0 {
		t.Fatal("degraded path returned no results")
	}
	if f.metrics.queries["degraded"] != 1 {
		t.Fatalf("query metrics: %v", f.metrics.queries)
	}
	if f.uc.Status().LastDegradedAt == nil {
		t.Fatal("degraded search must stamp LastDegradedAt")
	}
}

func TestSearchDegradesToVectorOnly(t *testing.T) {
	f := newEngineFixture()
	f.keyword.err = domain.WrapError(domain.ErrTemporary, "keyword search", errors.New("db down"))

	result, err := f.uc.Search(context.Background(), "hybrid search", domain.SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !result.Degraded || result.Source != domain.SourceVectorOnly {
		t.Fatalf("degraded=%v source=%q", result.Degraded, result.Source)
	}
}

func TestSearchPropagatesInvalidQueryFromVector(t *testing.T) {
	f := newEngineFixture()
	f.vector.err = domain.WrapError(domain.ErrInvalidQuery, "vector search", errors.New("dimension mismatch"))

	_, err := f.uc.Search(context.Background(), "hybrid search", domain.SearchOptions{})
	if !domain.IsKind(err, domain.ErrInvalidQuery) {
		t.Fatalf("got %v, want invalid query to propagate", err)
	}
	if f.metrics.queries["error"] != 1 {
		t.Fatalf("query metrics: %v", f.metrics.queries)
	}
}

func TestSearchServesSemanticCacheHit(t *testing.T) {
	f := newEngineFixture()
	f.semantic.hitResults = []domain.SearchCandidate{{DocID: "cached", Rank: 1}}

	result, err := f.uc.Search(context.Background(), "hybrid search", domain.SearchOptions{UseCache: true})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Source != domain.SourceSemanticCache {
		t.Fatalf("source = %q, want %q", result.Source, domain.SourceSemanticCache)
	}
	if f.vector.calls != 0 || f.keyword.calls != 0 {
		t.Fatal("cache hit must not reach the backends")
	}
	if f.metrics.cacheHit["semantic"] != 1 {
		t.Fatalf("cache metrics: %v", f.metrics.cacheHit)
	}
}

func TestSearchServesExactCacheHit(t *testing.T) {
	f := newEngineFixture()
	opts := domain.SearchOptions{UseCache: true, Limit: 10}
	key := queryFingerprint("hybrid search", domain.SearchOptions{Limit: 10})
	f.exact.entries[key] = []domain.SearchCandidate{{DocID: "cached", Rank: 1}}

	result, err := f.uc.Search(context.Background(), "hybrid search", opts)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Source != domain.SourceExactCache {
		t.Fatalf("source = %q, want %q", result.Source, domain.SourceExactCache)
	}
	if f.vector.calls != 0 || f.keyword.calls != 0 {
		t.Fatal("cache hit must not reach the backends")
	}
	if f.metrics.cacheMis["semantic"] != 1 || f.metrics.cacheHit["exact"] != 1 {
		t.Fatalf("cache metrics: hits=%v misses=%v", f.metrics.cacheHit, f.metrics.cacheMis)
	}
}

func TestSearchBypassesCachesWhenDisabled(t *testing.T) {
	f := newEngineFixture()
	f.semantic.hitResults = []domain.SearchCandidate{{DocID: "cached", Rank: 1}}

	result, err := f.uc.Search(context.Background(), "hybrid search", domain.SearchOptions{UseCache: false})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Source != domain.SourceFusion {
		t.Fatalf("source = %q, want fresh fusion", result.Source)
	}
	if len(f.exact.puts) != 0 || f.semantic.puts != 0 {
		t.Fatal("cache-disabled search must not write through")
	}
}

func TestSearchWritesThroughBothTiers(t *testing.T) {
	f := newEngineFixture()

	result, err := f.uc.Search(context.Background(), "hybrid search", domain.SearchOptions{UseCache: true})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(f.exact.puts) != 1 {
		t.Fatalf("exact puts = %d, want 1", len(f.exact.puts))
	}
	if f.semantic.puts != 1 {
		t.Fatalf("semantic puts = %d, want 1", f.semantic.puts)
	}
	cached := f.exact.entries[f.exact.puts[0]]
	if len(cached) != len(result.Results) {
		t.Fatalf("cached %d results, served %d", len(cached), len(result.Results))
	}
}

func TestSearchEmbeddingFailureDegradesWithoutVectorCall(t *testing.T) {
	f := newEngineFixture()
	f.embedder.err = errors.New("model loading")

	result, err := f.uc.Search(context.Background(), "hybrid search", domain.SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	// No embedding, no vector call: keyword-only and degraded.
	if !result.Degraded || result.Source != domain.SourceKeywordOnly {
		t.Fatalf("degraded=%v source=%q", result.Degraded, result.Source)
	}
	if f.vector.calls != 0 {
		t.Fatal("vector backend called without an embedding")
	}
}

func TestSearchSkipsWriteThroughWhenDegraded(t *testing.T) {
	f := newEngineFixture()
	f.vector.err = domain.WrapError(domain.ErrUnavailable, "vector search", errors.New("circuit open"))

	result, err := f.uc.Search(context.Background(), "hybrid search", domain.SearchOptions{UseCache: true})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !result.Degraded {
		t.Fatal("expected a degraded result")
	}
	// A later cache hit carries no degraded flag, so a keyword-only list
	// must never be written through as a fresh entry.
	if len(f.exact.puts) != 0 {
		t.Fatalf("exact tier written for degraded result: %v", f.exact.puts)
	}
	if f.semantic.puts != 0 {
		t.Fatalf("semantic tier written for degraded result: %d puts", f.semantic.puts)
	}
}

func TestSearchServesStaleExactResult(t *testing.T) {
	f := newEngineFixture()
	f.vector.err = domain.WrapError(domain.ErrUnavailable, "vector search", errors.New("down"))
	f.keyword.err = domain.WrapError(domain.ErrTemporary, "keyword search", errors.New("down"))
	key := queryFingerprint("hybrid search", domain.SearchOptions{Limit: 10})
	f.exact.entries[key] = []domain.SearchCandidate{{DocID: "stale", Rank: 1}}

	result, err := f.uc.Search(context.Background(), "hybrid search", domain.SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !result.Degraded || result.Source != domain.SourceStaleCache {
		t.Fatalf("degraded=%v source=%q", result.Degraded, result.Source)
	}
	if result.Results[0].DocID != "stale" {
		t.Fatalf("unexpected stale results: %+v", result.Results)
	}
}

func TestSearchServesClosestSemanticWhenAllElseFails(t *testing.T) {
	f := newEngineFixture()
	f.vector.err = domain.WrapError(domain.ErrUnavailable, "vector search", errors.New("down"))
	f.keyword.err = domain.WrapError(domain.ErrTemporary, "keyword search", errors.New("down"))
	f.semantic.closestResults = []domain.SearchCandidate{{DocID: "closest", Rank: 1}}

	result, err := f.uc.Search(context.Background(), "hybrid search", domain.SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !result.Degraded || result.Source != domain.SourceStaleCache {
		t.Fatalf("degraded=%v source=%q", result.Degraded, result.Source)
	}
	if result.Results[0].DocID != "closest" {
		t.Fatalf("unexpected results: %+v", result.Results)
	}
}

func TestSearchReturnsUnavailableWhenEverythingFails(t *testing.T) {
	f := newEngineFixture()
	f.vector.err = domain.WrapError(domain.ErrUnavailable, "vector search", errors.New("down"))
	f.keyword.err = domain.WrapError(domain.ErrTemporary, "keyword search", errors.New("down"))

	_, err := f.uc.Search(context.Background(), "hybrid search", domain.SearchOptions{})
	if !domain.IsKind(err, domain.ErrUnavailable) {
		t.Fatalf("got %v, want unavailable", err)
	}
	if f.metrics.queries["error"] != 1 {
		t.Fatalf("query metrics: %v", f.metrics.queries)
	}
}

func TestSearchAppliesRequestLimit(t *testing.T) {
	f := newEngineFixture()
	f.vector.results = nil
	many := make([]domain.BackendCandidate, 20)
	for i := range many {
		many[i] = domain.BackendCandidate{DocID: string(rune('a' + i)), Score: 1.0 - float64(i)*0.01}
	}
	f.keyword.results = many

	result, err := f.uc.Search(context.Background(), "hybrid search", domain.SearchOptions{Limit: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Results) != 5 {
		t.Fatalf("got %d results, want 5", len(result.Results))
	}
	for i, cand := range result.Results {
		if cand.Rank != i+1 {
			t.Fatalf("rank[%d] = %d after trim", i, cand.Rank)
		}
	}
}

func TestSearchReranksHead(t *testing.T) {
	f := newEngineFixture()
	encoder := &crossEncoderFake{scores: []float64{0.1, 0.9}}
	f.uc.reranker = NewReranker(encoder, time.Second, nil, nil)

	result, err := f.uc.Search(context.Background(), "hybrid search", domain.SearchOptions{RerankTopK: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(encoder.gotPassages) != 2 {
		t.Fatalf("encoder saw %d passages, want 2", len(encoder.gotPassages))
	}
	if result.Results[0].RerankScore != 0.9 {
		t.Fatalf("head not rescored: %+v", result.Results[0])
	}
}

func TestSearchDiversifiesWithLambda(t *testing.T) {
	f := newEngineFixture()
	f.vector.results = []domain.BackendCandidate{
		{DocID: "a", Content: "go concurrency patterns", Score: 0.9},
		{DocID: "b", Content: "go concurrency patterns guide", Score: 0.8},
		{DocID: "c", Content: "database indexing", Score: 0.3},
	}
	f.keyword.results = nil
	f.keyword.err = domain.WrapError(domain.ErrTemporary, "keyword search", errors.New("down"))

	lambda := 0.3
	result, err := f.uc.Search(context.Background(), "hybrid search", domain.SearchOptions{DiversityLambda: &lambda})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Results[0].DocID != "a" || result.Results[1].DocID != "c" {
		t.Fatalf("diversity not applied: %q, %q", result.Results[0].DocID, result.Results[1].DocID)
	}
}

func TestStatusSnapshotsHealth(t *testing.T) {
	f := newEngineFixture()

	status := f.uc.Status()
	if status.LastDegradedAt != nil {
		t.Fatal("fresh engine must not report a degraded timestamp")
	}
	if _, ok := status.BreakerStates["vector-backend"]; !ok {
		t.Fatalf("breaker states missing: %v", status.BreakerStates)
	}
	if _, ok := status.CacheStats["exact"]; !ok {
		t.Fatalf("cache stats missing: %v", status.CacheStats)
	}
	if _, ok := status.CacheStats["semantic"]; !ok {
		t.Fatalf("cache stats missing: %v", status.CacheStats)
	}
}
