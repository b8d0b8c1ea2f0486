package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/relaysync/engine/internal/errkind"
)

func TestPolicy_Do_RetriesTransientUntilSuccess(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelayMs: 1}
	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errkind.Transientf("op", "temporary")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestPolicy_Do_StopsOnNonRetryable(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelayMs: 1}
	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return errkind.NonRetryablef("op", "not found")
	})
	if err == nil {
		t.Fatal("expected the non-retryable error to surface")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on a non-retryable error)", attempts)
	}
}

func TestPolicy_Do_GivesUpAfterMaxRetries(t *testing.T) {
	p := Policy{MaxRetries: 2, BaseDelayMs: 1}
	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return errkind.Transientf("op", "still failing")
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if attempts != 3 { // initial attempt + 2 retries
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestPolicy_Do_CancelledContextStopsRetrying(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelayMs: 1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := p.Do(ctx, func(context.Context) error {
		attempts++
		return errkind.Transientf("op", "boom")
	})
	if !errors.Is(err, context.Canceled) && errkind.KindOf(err) != errkind.Cancellation {
		t.Fatalf("expected a cancellation error, got %v", err)
	}
}

func TestDefault(t *testing.T) {
	p := Default()
	if p.MaxRetries != 3 || p.BaseDelayMs != 1000 {
		t.Errorf("Default() = %+v, want {3 1000}", p)
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   errkind.Kind
	}{
		{http.StatusBadRequest, errkind.NonRetryable},
		{http.StatusUnauthorized, errkind.NonRetryable},
		{http.StatusNotFound, errkind.NonRetryable},
		{http.StatusTooManyRequests, errkind.Transient},
		{http.StatusInternalServerError, errkind.Transient},
	}
	for _, tt := range tests {
		err := ClassifyHTTPStatus("op", tt.status, errors.New("boom"))
		if got := errkind.KindOf(err); got != tt.want {
			t.Errorf("ClassifyHTTPStatus(%d) kind = %v, want %v", tt.status, got, tt.want)
		}
	}
}
