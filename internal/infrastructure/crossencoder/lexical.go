package crossencoder

import (
	"context"
	"strings"
	"unicode"
)

// Lexical is the dependency-free scorer used when no rerank service is
// configured: relevance is the fraction of query tokens present in the
// passage. Far weaker than a real cross-encoder, but deterministic and
// always available.
type Lexical struct{}

func (Lexical) Score(_ context.Context, query string, passages []string) ([]float64, error) {
	queryTokens := toTokenSet(query)
	out := make([]float64, len(passages))
	for i, passage := range passages {
		out[i] = tokenOverlap(queryTokens, toTokenSet(passage))
	}
	return out, nil
}

func tokenOverlap(query, passage map[string]struct{}) float64 {
	if len(query) == 0 || len(passage) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := passage[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func toTokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{}, 16)
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out[b.String()] = struct{}{}
			b.Reset()
		}
	}
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return out
}
