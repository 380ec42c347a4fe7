package qdrant

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/resilience"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/transport"
)

const operationVectorBackend = "vector-backend"

// Backend wraps the raw client with the guard stack the engine expects:
// optional client-side rate limiting, then the per-dependency circuit
// breaker with bounded retry inside it. Each attempt runs under its own
// call budget, so a hung backend times out per attempt, records a breaker
// failure, and leaves every retry a full budget of its own.
type Backend struct {
	client      *Client
	exec        *resilience.Executor
	callTimeout time.Duration
	limiter     *rate.Limiter
}

// NewBackend builds the guarded vector backend. callTimeout <= 0 falls
// back to 3s; ratePerSec <= 0 disables the limiter.
func NewBackend(client *Client, exec *resilience.Executor, callTimeout time.Duration, ratePerSec float64, burst int) *Backend {
	if callTimeout <= 0 {
		callTimeout = 3 * time.Second
	}
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return &Backend{
		client:      client,
		exec:        exec,
		callTimeout: callTimeout,
		limiter:     limiter,
	}
}

func (b *Backend) Query(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]domain.BackendCandidate, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, domain.WrapError(domain.ErrTemporary, "vector search rate limit", err)
		}
	}

	var out []domain.BackendCandidate
	err := b.exec.Execute(ctx, operationVectorBackend, func(ctx context.Context) error {
		attemptCtx, cancel := transport.WithCallTimeout(ctx, b.callTimeout)
		defer cancel()

		var callErr error
		out, callErr = b.client.Search(attemptCtx, embedding, topK, filters)
		return callErr
	}, transport.ClassifyError)
	if err != nil {
		return nil, wrapSearchError(err)
	}
	return out, nil
}

// wrapSearchError maps backend failures onto the engine's error kinds:
// rejected requests (bad filter, missing collection) surface as validation
// errors; everything transient or breaker-rejected becomes ErrTemporary.
func wrapSearchError(err error) error {
	var statusErr *transport.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
			return domain.WrapError(domain.ErrInvalidQuery, "vector search", err)
		}
	}
	return transport.WrapTemporaryIfNeeded("vector search", err)
}
