package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// Sink receives resilience-layer signals. All methods must be safe for
// concurrent use.
type Sink interface {
	ObserveRetry(operation string)
	BreakerStateChanged(name string, state int)
	BreakerRejected(name string)
}

// Executor guards backend calls with one circuit breaker per operation and
// bounded exponential-backoff retry inside each breaker-permitted call.
// A breaker-open rejection is therefore never retried.
type Executor struct {
	cfg  Config
	sink Sink

	mu       sync.Mutex
	breakers map[string]*breakerEntry
}

type breakerEntry struct {
	cb       *gobreaker.CircuitBreaker[any]
	rejected atomic.Uint64
	opened   atomic.Uint64
}

func NewExecutor(cfg Config, sink Sink) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		sink:     sink,
		breakers: make(map[string]*breakerEntry),
	}
}

func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = defaultClassifier
	}

	if !e.cfg.BreakerEnabled {
		return e.executeWithRetry(ctx, op, fn, classifier)
	}

	entry := e.breakerEntry(op, classifier)
	_, err := entry.cb.Execute(func() (any, error) {
		return nil, e.executeWithRetry(ctx, op, fn, classifier)
	})
	if IsCircuitOpen(err) {
		entry.rejected.Add(1)
		if e.sink != nil {
			e.sink.BreakerRejected(op)
		}
	}
	return err
}

func (e *Executor) executeWithRetry(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	maxAttempts := e.cfg.RetryMaxAttempts
	backoff := e.cfg.RetryInitialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		class := classifier(err)
		if !class.Retryable {
			return err
		}
		if attempt == maxAttempts {
			return fmt.Errorf("%s: giving up after %d attempts: %w", operation, attempt, err)
		}

		// Multiplicative jitter so concurrent callers do not retry in
		// lockstep.
		wait := backoff
		if wait > e.cfg.RetryMaxBackoff {
			wait = e.cfg.RetryMaxBackoff
		}
		if e.cfg.RetryJitter > 0 {
			factor := 1 + (rand.Float64()*2-1)*e.cfg.RetryJitter
			wait = time.Duration(float64(wait) * factor)
		}

		if e.sink != nil {
			e.sink.ObserveRetry(operation)
		}
		slog.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"backoff_ms", float64(wait.Microseconds())/1000.0,
			"error", err,
		)

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}

		backoff = time.Duration(float64(backoff) * e.cfg.RetryMultiplier)
		if backoff > e.cfg.RetryMaxBackoff {
			backoff = e.cfg.RetryMaxBackoff
		}
	}

	return nil
}

func (e *Executor) breakerEntry(operation string, classifier ErrorClassifier) *breakerEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	if entry, ok := e.breakers[operation]; ok {
		return entry
	}

	entry := &breakerEntry{}
	settings := gobreaker.Settings{
		Name: operation,
		// One probe at a time while half-open.
		MaxRequests: 1,
		Interval:    e.cfg.BreakerFailureWindow,
		Timeout:     e.cfg.BreakerRecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= e.cfg.BreakerFailureThreshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			class := classifier(err)
			return !class.RecordFailure
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				entry.opened.Add(1)
			}
			if e.sink != nil {
				e.sink.BreakerStateChanged(name, breakerStateCode(to))
			}
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	}

	entry.cb = gobreaker.NewCircuitBreaker[any](settings)
	e.breakers[operation] = entry
	return entry
}

// States snapshots every breaker for health reporting. The executor lock is
// held only long enough to copy the map; counters are read without it.
func (e *Executor) States() map[string]domain.BreakerState {
	e.mu.Lock()
	entries := make(map[string]*breakerEntry, len(e.breakers))
	for name, entry := range e.breakers {
		entries[name] = entry
	}
	e.mu.Unlock()

	out := make(map[string]domain.BreakerState, len(entries))
	for name, entry := range entries {
		out[name] = domain.BreakerState{
			Name:          name,
			State:         entry.cb.State().String(),
			FailureCount:  entry.cb.Counts().TotalFailures,
			TotalRejected: entry.rejected.Load(),
			TotalOpened:   entry.opened.Load(),
		}
	}
	return out
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func breakerStateCode(state gobreaker.State) int {
	switch state {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}
