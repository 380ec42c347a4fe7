// Package transport holds the small shared pieces of the hand-rolled HTTP
// backend clients: JSON POST plumbing, status errors, and the transient /
// permanent classification the resilience layer consumes.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
	"github.com/kirillkom/retrieval-engine/internal/infrastructure/resilience"
)

// ErrCallTimeout marks the expiry of a per-attempt call budget. It is the
// cancellation cause attached by WithCallTimeout, so the classifier can
// tell a hung dependency apart from a caller that went away: both surface
// as context.DeadlineExceeded, but only the former must count against the
// circuit breaker.
var ErrCallTimeout = errors.New("backend call timed out")

// WithCallTimeout bounds a single backend attempt. Adapters wrap each
// attempt (inside the retry loop) rather than the whole guarded call, so
// every retry gets a fresh budget.
func WithCallTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeoutCause(ctx, d, ErrCallTimeout)
}

type StatusError struct {
	Service    string
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "backend status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("%s %s status: %s", e.Service, e.Operation, e.Status)
	}
	return fmt.Sprintf("%s %s status: %s: %s", e.Service, e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// PostJSON sends payload to url and decodes the response into out. Non-2xx
// responses become a *StatusError carrying a truncated body.
func PostJSON(ctx context.Context, client *http.Client, service, operation, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s %s request: %w", service, operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s %s request: %w", service, operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return requestError(ctx, service, operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{
			Service:    service,
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return requestError(ctx, service, operation, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// requestError surfaces the context's cancellation cause in the error
// chain, so an attempt cut short by its own call budget stays
// distinguishable after wrapping.
func requestError(ctx context.Context, service, operation string, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrCallTimeout) {
		return fmt.Errorf("%s %s request: %w: %w", service, operation, ErrCallTimeout, err)
	}
	return fmt.Errorf("%s %s request: %w", service, operation, err)
}

// ClassifyError sorts backend call errors into the retry taxonomy:
// caller-side cancellation is neither retried nor counted as a dependency
// failure, while an expired per-attempt call budget, network errors, and
// retryable statuses are transient, and everything else is permanent.
func ClassifyError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	// Checked before the context kinds: a call-budget expiry also wraps
	// context.DeadlineExceeded.
	if errors.Is(err, ErrCallTimeout) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if isRetryableHTTPStatus(statusErr.StatusCode) {
			return resilience.ErrorClassification{
				Retryable:     true,
				RecordFailure: true,
			}
		}
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	return resilience.ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

// WrapTemporaryIfNeeded tags transient and circuit-open failures with
// domain.ErrTemporary so the engine can pick its fallback path.
func WrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}

	class := ClassifyError(err)
	if class.Retryable || resilience.IsCircuitOpen(err) || errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
