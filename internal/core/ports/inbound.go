package ports

import (
	"context"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

// QueryService is the inbound contract for hybrid retrieval.
type QueryService interface {
	Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResult, error)
	Status() domain.HealthStatus
}
