// Package static is an in-memory relation table used as the default
// synonym source when no graph database is configured.
package static

import (
	"context"
	"sort"
	"strings"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

type Source struct {
	relations map[string][]domain.RelatedTerm
}

func New(relations map[string][]domain.RelatedTerm) *Source {
	normalized := make(map[string][]domain.RelatedTerm, len(relations))
	for term, related := range relations {
		out := make([]domain.RelatedTerm, len(related))
		copy(out, related)
		sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
		normalized[strings.ToLower(term)] = out
	}
	return &Source{relations: normalized}
}

// Default covers common retrieval vocabulary; deployments with a relation
// graph use the neo4j source instead.
func Default() *Source {
	return New(map[string][]domain.RelatedTerm{
		"machine":    {{Term: "ml", Weight: 0.9}, {Term: "automated", Weight: 0.6}},
		"learning":   {{Term: "training", Weight: 0.8}, {Term: "education", Weight: 0.5}},
		"ml":         {{Term: "machine", Weight: 0.9}, {Term: "learning", Weight: 0.8}},
		"ai":         {{Term: "artificial", Weight: 0.9}, {Term: "intelligence", Weight: 0.9}},
		"neural":     {{Term: "network", Weight: 0.8}, {Term: "deep", Weight: 0.7}},
		"search":     {{Term: "retrieval", Weight: 0.9}, {Term: "query", Weight: 0.7}},
		"retrieval":  {{Term: "search", Weight: 0.9}, {Term: "lookup", Weight: 0.6}},
		"document":   {{Term: "doc", Weight: 0.9}, {Term: "file", Weight: 0.7}},
		"error":      {{Term: "failure", Weight: 0.8}, {Term: "fault", Weight: 0.6}},
		"basics":     {{Term: "fundamentals", Weight: 0.8}, {Term: "introduction", Weight: 0.7}},
		"guide":      {{Term: "tutorial", Weight: 0.8}, {Term: "handbook", Weight: 0.6}},
		"fast":       {{Term: "quick", Weight: 0.8}, {Term: "rapid", Weight: 0.7}},
		"config":     {{Term: "configuration", Weight: 0.9}, {Term: "settings", Weight: 0.7}},
		"db":         {{Term: "database", Weight: 0.9}},
		"database":   {{Term: "db", Weight: 0.9}, {Term: "storage", Weight: 0.6}},
		"deploy":     {{Term: "deployment", Weight: 0.9}, {Term: "release", Weight: 0.6}},
		"monitoring": {{Term: "observability", Weight: 0.8}, {Term: "metrics", Weight: 0.7}},
	})
}

func (s *Source) Related(_ context.Context, term string) ([]domain.RelatedTerm, error) {
	related, ok := s.relations[strings.ToLower(term)]
	if !ok {
		return nil, nil
	}
	out := make([]domain.RelatedTerm, len(related))
	copy(out, related)
	return out, nil
}
