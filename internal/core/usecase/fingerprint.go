package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

// queryFingerprint derives the exact-cache key from the normalized query
// text and every parameter that changes the ranked output. Two requests map
// to the same key iff they are answerable by the same result list.
func queryFingerprint(query string, opts domain.SearchOptions) string {
	h := sha256.New()
	fmt.Fprintf(h, "q=%s;", strings.Join(tokenizeAlphaNum(query), " "))
	fmt.Fprintf(h, "limit=%d;rerank=%d;", opts.Limit, opts.RerankTopK)
	if opts.DiversityLambda != nil {
		fmt.Fprintf(h, "lambda=%.4f;", *opts.DiversityLambda)
	}
	if len(opts.Filters) > 0 {
		keys := make([]string, 0, len(opts.Filters))
		for k := range opts.Filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "f:%s=%s;", k, opts.Filters[k])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
