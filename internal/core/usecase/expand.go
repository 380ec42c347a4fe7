package usecase

import (
	"context"
	"log/slog"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
	"github.com/kirillkom/retrieval-engine/internal/core/ports"
)

// QueryExpander widens the raw query with related terms to improve lexical
// recall. It keeps no per-request state, so one instance is shared by all
// concurrent requests without synchronization.
type QueryExpander struct {
	source    ports.SynonymSource
	maxFactor int
	minWeight float64
	logger    *slog.Logger
}

func NewQueryExpander(source ports.SynonymSource, maxFactor int, minWeight float64, logger *slog.Logger) *QueryExpander {
	if maxFactor <= 0 {
		maxFactor = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryExpander{
		source:    source,
		maxFactor: maxFactor,
		minWeight: minWeight,
		logger:    logger,
	}
}

// Expand returns the deduplicated original terms first, followed by related
// terms for each content word, bounded to maxFactor times the original term
// count. Expansion is a recall enhancement: a failing relation source is
// logged and the original terms are returned unchanged.
func (e *QueryExpander) Expand(ctx context.Context, query string) []string {
	originals := dedupeTerms(tokenizeAlphaNum(query))
	if len(originals) == 0 || e.source == nil {
		return originals
	}

	budget := e.maxFactor * len(originals)
	out := make([]string, 0, budget)
	out = append(out, originals...)
	seen := make(map[string]struct{}, budget)
	for _, term := range originals {
		seen[term] = struct{}{}
	}

	for _, term := range originals {
		if len(out) >= budget {
			break
		}
		if isStopword(term) {
			continue
		}
		related, err := e.source.Related(ctx, term)
		if err != nil {
			e.logger.Warn("synonym_lookup_failed", "term", term, "error", err)
			continue
		}
		for _, rel := range related {
			if len(out) >= budget {
				break
			}
			if rel.Term == "" || rel.Weight < e.minWeight {
				continue
			}
			candidate := normalizeRelatedTerm(rel)
			if candidate == "" {
				continue
			}
			if _, ok := seen[candidate]; ok {
				continue
			}
			seen[candidate] = struct{}{}
			out = append(out, candidate)
		}
	}
	return out
}

func dedupeTerms(terms []string) []string {
	if len(terms) == 0 {
		return nil
	}
	out := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}

func normalizeRelatedTerm(rel domain.RelatedTerm) string {
	tokens := tokenizeAlphaNum(rel.Term)
	if len(tokens) == 0 {
		return ""
	}
	// Multi-word relations expand as their head token; the lexical backend
	// matches per-term.
	return tokens[0]
}
