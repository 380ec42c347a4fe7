package usecase

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
	"github.com/kirillkom/retrieval-engine/internal/core/ports"
)

// Reranker re-scores the head of the fused list with a cross-encoder.
// Reranking is a quality enhancement, never a hard dependency: a model
// error or timeout leaves the fused ordering untouched.
type Reranker struct {
	encoder ports.CrossEncoder
	timeout time.Duration
	metrics ports.MetricsSink
	logger  *slog.Logger
}

func NewReranker(encoder ports.CrossEncoder, timeout time.Duration, metrics ports.MetricsSink, logger *slog.Logger) *Reranker {
	if timeout <= 0 {
		timeout = 800 * time.Millisecond
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{
		encoder: encoder,
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
	}
}

// Rerank scores the top topK candidates against the query pairwise and
// reorders that subset by cross-encoder score; candidates beyond topK keep
// their fusion order, appended after the rescored head.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []domain.SearchCandidate, topK int) []domain.SearchCandidate {
	if r.encoder == nil || topK <= 0 || len(candidates) == 0 {
		return candidates
	}
	if topK > len(candidates) {
		topK = len(candidates)
	}

	head := make([]domain.SearchCandidate, topK)
	copy(head, candidates[:topK])
	passages := make([]string, topK)
	for i, cand := range head {
		passages[i] = cand.Content
	}

	scoreCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	scores, err := r.encoder.Score(scoreCtx, query, passages)
	if err != nil || len(scores) != topK {
		r.metrics.ObserveRerank("error", time.Since(start).Seconds())
		r.logger.Warn("rerank_fallback", "top_k", topK, "error", err)
		return candidates
	}
	r.metrics.ObserveRerank("success", time.Since(start).Seconds())

	for i := range head {
		head[i].RerankScore = scores[i]
		head[i].FinalScore = scores[i]
	}
	sort.SliceStable(head, func(i, j int) bool {
		if head[i].RerankScore != head[j].RerankScore {
			return head[i].RerankScore > head[j].RerankScore
		}
		return head[i].DocID < head[j].DocID
	})

	out := make([]domain.SearchCandidate, 0, len(candidates))
	out = append(out, head...)
	out = append(out, candidates[topK:]...)
	assignRanks(out)
	return out
}
