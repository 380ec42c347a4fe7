package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
)

func TestPostJSONRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		fmt.Fprint(w, `{"answer": 42}`)
	}))
	defer server.Close()

	var out struct {
		Answer int `json:"answer"`
	}
	err := PostJSON(context.Background(), server.Client(), "svc", "op", server.URL, map[string]string{"q": "x"}, &out)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if out.Answer != 42 {
		t.Fatalf("answer = %d", out.Answer)
	}
}

func TestPostJSONNonSuccessBecomesStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "too busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := PostJSON(context.Background(), server.Client(), "svc", "op", server.URL, nil, nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("got %T, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", statusErr.StatusCode)
	}
	if statusErr.Service != "svc" || statusErr.Operation != "op" {
		t.Fatalf("identity lost: %+v", statusErr)
	}
}

func TestPostJSONCallBudgetExpiryIsRetryableFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := WithCallTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := PostJSON(ctx, server.Client(), "svc", "op", server.URL, nil, nil)
	if !errors.Is(err, ErrCallTimeout) {
		t.Fatalf("expiry not tagged as call timeout: %v", err)
	}

	class := ClassifyError(err)
	if !class.Retryable || !class.RecordFailure {
		t.Fatalf("call timeout classified %+v, want retryable and recorded", class)
	}
}

func TestPostJSONCallerCancellationIsNotRecorded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := PostJSON(ctx, server.Client(), "svc", "op", server.URL, nil, nil)
	if err == nil {
		t.Fatal("expected error from expired caller deadline")
	}
	if errors.Is(err, ErrCallTimeout) {
		t.Fatalf("caller deadline mistaken for a call budget: %v", err)
	}

	class := ClassifyError(err)
	if class.Retryable || class.RecordFailure {
		t.Fatalf("caller deadline classified %+v, want neither retried nor recorded", class)
	}
}

func TestClassifyErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name          string
		err           error
		retryable     bool
		recordFailure bool
	}{
		{"canceled", context.Canceled, false, false},
		{"deadline", context.DeadlineExceeded, false, false},
		{"call budget expired", fmt.Errorf("svc op request: %w: %w", ErrCallTimeout, context.DeadlineExceeded), true, true},
		{"circuit open", gobreaker.ErrOpenState, false, false},
		{"half-open limit", gobreaker.ErrTooManyRequests, false, false},
		{"retryable status", &StatusError{StatusCode: http.StatusServiceUnavailable}, true, true},
		{"throttled", &StatusError{StatusCode: http.StatusTooManyRequests}, true, true},
		{"client error", &StatusError{StatusCode: http.StatusBadRequest}, false, false},
		{"unknown", errors.New("boom"), false, true},
	}
	for _, tc := range cases {
		class := ClassifyError(tc.err)
		if class.Retryable != tc.retryable || class.RecordFailure != tc.recordFailure {
			t.Fatalf("%s: got %+v, want retryable=%v record=%v", tc.name, class, tc.retryable, tc.recordFailure)
		}
	}
}

func TestClassifyErrorWrapped(t *testing.T) {
	wrapped := fmt.Errorf("call failed: %w", &StatusError{StatusCode: http.StatusBadGateway})
	class := ClassifyError(wrapped)
	if !class.Retryable {
		t.Fatalf("wrapped status error not recognized: %+v", class)
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	transient := &StatusError{StatusCode: http.StatusServiceUnavailable}
	if err := WrapTemporaryIfNeeded("op", transient); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("transient not tagged: %v", err)
	}
	if err := WrapTemporaryIfNeeded("op", gobreaker.ErrOpenState); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("circuit-open not tagged: %v", err)
	}
	if err := WrapTemporaryIfNeeded("op", context.DeadlineExceeded); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("timeout not tagged: %v", err)
	}

	permanent := errors.New("schema mismatch")
	if err := WrapTemporaryIfNeeded("op", permanent); domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("permanent error tagged temporary: %v", err)
	}
	if err := WrapTemporaryIfNeeded("op", nil); err != nil {
		t.Fatalf("nil error wrapped: %v", err)
	}

	already := domain.WrapError(domain.ErrTemporary, "op", errors.New("x"))
	if got := WrapTemporaryIfNeeded("op", already); got != already {
		t.Fatal("double wrapping")
	}
}
