// Package retry implements RetryPolicy: exponential backoff with
// non-retryable classification. Grounded on the pack's
// go-database-reconciler Syncer, which wraps cenkalti/backoff/v4 the same
// way — backoff.Permanent for errors that must not be retried, plain
// errors for everything else — and on the teacher's HTTPClient retry
// ladder (internal/mcpserver/client/httpclient.go) for which status
// classes are retryable.
package retry

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/relaysync/engine/internal/errkind"
)

// Policy executes operations with bounded exponential-backoff retries.
type Policy struct {
	MaxRetries  int
	BaseDelayMs int
}

// Default returns the spec's default policy: 3 retries, 1000ms base delay.
func Default() Policy {
	return Policy{MaxRetries: 3, BaseDelayMs: 1000}
}

// Op is a unit of work the policy may retry. It should return an
// *errkind.Error when classification matters; any other error is treated
// as transient.
type Op func(ctx context.Context) error

// Do runs op, retrying on transient failures with delay
// baseDelayMs * 2^attempt, up to MaxRetries retries after the first
// attempt (at most 1+MaxRetries calls of op). A caller-provided
// ctx cancellation aborts between attempts immediately.
func (p Policy) Do(ctx context.Context, op Op) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(p.BaseDelayMs) * time.Millisecond
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0 // bounded by MaxRetries, not wall-clock
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxRetries)), ctx)

	return backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(&errkind.Error{Kind: errkind.Cancellation, Err: ctx.Err()})
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// Retryable reports whether err should be retried: any *errkind.Error is
// consulted via its Kind (only Transient retries); unclassified errors
// default to retryable so a bare I/O error from a client that forgot to
// wrap it is not silently swallowed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return errkind.KindOf(err) == errkind.Transient
}

// ClassifyHTTPStatus maps an HTTP status code to the errkind used when a
// SystemAClient/SystemBClient call fails, per spec §4.2: 400/401/403/404
// are non-retryable, 429 and 5xx are transient.
func ClassifyHTTPStatus(op string, status int, err error) error {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return errkind.NonRetryablef(op, "status %d: %w", status, err)
	case http.StatusTooManyRequests:
		return errkind.Transientf(op, "status %d: %w", status, err)
	default:
		if status >= 500 {
			return errkind.Transientf(op, "status %d: %w", status, err)
		}
		if status >= 400 {
			return errkind.NonRetryablef(op, "status %d: %w", status, err)
		}
		return errkind.Transientf(op, "status %d: %w", status, err)
	}
}
