// Package neo4j reads term relations from a graph of RELATED_TO edges for
// query expansion.
package neo4j

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

type Source struct {
	driver   neo4j.DriverWithContext
	database string
	limit    int
}

func New(ctx context.Context, uri, user, password, database string) (*Source, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &Source{
		driver:   driver,
		database: database,
		limit:    10,
	}, nil
}

func (s *Source) Related(ctx context.Context, term string) ([]domain.RelatedTerm, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, `
MATCH (:Term {name: $term})-[r:RELATED_TO]->(related:Term)
RETURN related.name AS name, r.weight AS weight
ORDER BY r.weight DESC
LIMIT $limit`,
		map[string]any{
			"term":  strings.ToLower(term),
			"limit": s.limit,
		},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
	)
	if err != nil {
		return nil, fmt.Errorf("query related terms: %w", err)
	}

	out := make([]domain.RelatedTerm, 0, len(result.Records))
	for _, record := range result.Records {
		name, ok := record.Get("name")
		if !ok {
			continue
		}
		nameStr, ok := name.(string)
		if !ok || nameStr == "" {
			continue
		}
		weight := 0.0
		if raw, ok := record.Get("weight"); ok {
			if w, ok := raw.(float64); ok {
				weight = w
			}
		}
		out = append(out, domain.RelatedTerm{Term: nameStr, Weight: weight})
	}
	return out, nil
}

func (s *Source) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
