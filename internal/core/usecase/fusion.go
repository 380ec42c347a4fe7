package usecase

import (
	"sort"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

// fuseRRF combines the vector and keyword result lists with reciprocal rank
// fusion: a document at 1-indexed rank r in a list contributes 1/(k+r), and
// contributions for the same document are summed. Equal fused scores break
// on the higher raw vector score, then on lexicographic document ID, so the
// output is deterministic regardless of input list order.
func fuseRRF(vector, keyword []domain.BackendCandidate, k int) []domain.SearchCandidate {
	if k <= 0 {
		k = 60
	}

	acc := make(map[string]*domain.SearchCandidate, len(vector)+len(keyword))
	merge := func(docID string) *domain.SearchCandidate {
		if cand, ok := acc[docID]; ok {
			return cand
		}
		cand := &domain.SearchCandidate{DocID: docID}
		acc[docID] = cand
		return cand
	}

	for i, hit := range vector {
		cand := merge(hit.DocID)
		cand.VectorScore = hit.Score
		cand.FusedScore += 1.0 / float64(k+i+1)
		if cand.Content == "" {
			cand.Content = hit.Content
		}
	}
	for i, hit := range keyword {
		cand := merge(hit.DocID)
		cand.KeywordScore = hit.Score
		cand.FusedScore += 1.0 / float64(k+i+1)
		if cand.Content == "" {
			cand.Content = hit.Content
		}
	}

	out := make([]domain.SearchCandidate, 0, len(acc))
	for _, cand := range acc {
		cand.FinalScore = cand.FusedScore
		out = append(out, *cand)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if out[i].VectorScore != out[j].VectorScore {
			return out[i].VectorScore > out[j].VectorScore
		}
		return out[i].DocID < out[j].DocID
	})

	assignRanks(out)
	return out
}

func trimCandidates(candidates []domain.SearchCandidate, limit int) []domain.SearchCandidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}

// assignRanks sets Rank positionally. Ranks are assigned only after every
// candidate's FinalScore has been decided.
func assignRanks(candidates []domain.SearchCandidate) {
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
}
