package usecase

import "github.com/kirillkom/retrieval-engine/internal/core/domain"

// diversifyMMR reorders candidates by maximal marginal relevance:
// iteratively pick the candidate maximizing
// lambda*relevance - (1-lambda)*max similarity to anything already picked.
// lambda 1 is pure relevance, lambda 0 pure diversity. Relevance is the
// min-max normalized FinalScore; redundancy is token Jaccard over content.
// Scores are left untouched, only order and ranks change.
func diversifyMMR(candidates []domain.SearchCandidate, lambda float64) []domain.SearchCandidate {
	if len(candidates) <= 1 {
		return candidates
	}
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}

	minScore, maxScore := candidates[0].FinalScore, candidates[0].FinalScore
	for _, cand := range candidates[1:] {
		if cand.FinalScore < minScore {
			minScore = cand.FinalScore
		}
		if cand.FinalScore > maxScore {
			maxScore = cand.FinalScore
		}
	}
	scoreRange := maxScore - minScore
	relevance := func(cand domain.SearchCandidate) float64 {
		if scoreRange <= 0 {
			return 1
		}
		return (cand.FinalScore - minScore) / scoreRange
	}

	tokens := make([]map[string]struct{}, len(candidates))
	for i, cand := range candidates {
		tokens[i] = toTokenSet(cand.Content)
	}

	remaining := make([]int, len(candidates))
	for i := range remaining {
		remaining[i] = i
	}

	selected := make([]domain.SearchCandidate, 0, len(candidates))
	selectedTokens := make([]map[string]struct{}, 0, len(candidates))
	for len(remaining) > 0 {
		bestPos := 0
		bestScore := mmrScore(candidates[remaining[0]], tokens[remaining[0]], relevance, lambda, selectedTokens)
		for pos := 1; pos < len(remaining); pos++ {
			idx := remaining[pos]
			score := mmrScore(candidates[idx], tokens[idx], relevance, lambda, selectedTokens)
			if score > bestScore ||
				(score == bestScore && candidates[idx].DocID < candidates[remaining[bestPos]].DocID) {
				bestPos, bestScore = pos, score
			}
		}

		idx := remaining[bestPos]
		selected = append(selected, candidates[idx])
		selectedTokens = append(selectedTokens, tokens[idx])
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	assignRanks(selected)
	return selected
}

func mmrScore(
	cand domain.SearchCandidate,
	candTokens map[string]struct{},
	relevance func(domain.SearchCandidate) float64,
	lambda float64,
	selectedTokens []map[string]struct{},
) float64 {
	maxSim := 0.0
	for _, sel := range selectedTokens {
		if sim := tokenJaccard(candTokens, sel); sim > maxSim {
			maxSim = sim
		}
	}
	return lambda*relevance(cand) - (1-lambda)*maxSim
}
