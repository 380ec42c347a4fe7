package ollama

import (
	"context"
	"time"

	"github.com/kirillkom/retrieval-engine/internal/infrastructure/resilience"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/transport"
)

const operationEmbedding = "embedding-provider"

// Embedder guards the raw client with retry and its own circuit breaker.
// Each attempt runs under its own call budget so a hung provider counts
// against the breaker instead of riding out the caller's deadline.
type Embedder struct {
	client      *Client
	exec        *resilience.Executor
	callTimeout time.Duration
}

// NewEmbedder builds the guarded embedder. callTimeout <= 0 falls back
// to 3s.
func NewEmbedder(client *Client, exec *resilience.Executor, callTimeout time.Duration) *Embedder {
	if callTimeout <= 0 {
		callTimeout = 3 * time.Second
	}
	return &Embedder{client: client, exec: exec, callTimeout: callTimeout}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.exec.Execute(ctx, operationEmbedding, func(ctx context.Context) error {
		attemptCtx, cancel := transport.WithCallTimeout(ctx, e.callTimeout)
		defer cancel()

		var callErr error
		out, callErr = e.client.embed(attemptCtx, text)
		return callErr
	}, transport.ClassifyError)
	if err != nil {
		return nil, transport.WrapTemporaryIfNeeded("embed query", err)
	}
	return out, nil
}
