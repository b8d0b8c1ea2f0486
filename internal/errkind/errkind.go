// Package errkind classifies the errors that flow through the sync engine
// so callers can branch with errors.Is/errors.As instead of string matching.
package errkind

import (
	"errors"
	"fmt"
)

// Kind identifies which error-handling path a failure takes (spec §7).
type Kind int

const (
	// Transient covers I/O errors, 5xx, 429, timeouts, and connection
	// resets. RetryPolicy retries these.
	Transient Kind = iota
	// NonRetryable covers 400/401/403/404. Surfaced immediately; the
	// affected record is logged and skipped, the run continues.
	NonRetryable
	// Config covers unknown field ids, missing B properties, and
	// mappings that fail after a live schema check. Recorded per
	// record; the run continues.
	Config
	// Integrity marks a code path that would create or delete an A
	// entry, or archive an unmanaged B page. Terminates the run.
	Integrity
	// SchedulerFault marks a ticker that failed to arm. Logged and
	// alerted; the pair stays inactive until the next lifecycle event.
	SchedulerFault
	// Cancellation marks a run aborted by context cancellation.
	Cancellation
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case NonRetryable:
		return "non_retryable"
	case Config:
		return "config"
	case Integrity:
		return "integrity"
	case SchedulerFault:
		return "scheduler_fault"
	case Cancellation:
		return "cancellation"
	default:
		return "unknown"
	}
}

// Error is a typed error carrying a Kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "systemb.createPage"
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so errors.Is
// matches two *Error values on Kind alone (Op and Err are ignored). Is
// only matches other *Error values; to read the Kind of an arbitrary
// error, use KindOf.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Transientf(op, format string, args ...any) *Error {
	return &Error{Kind: Transient, Op: op, Err: fmt.Errorf(format, args...)}
}

func NonRetryablef(op, format string, args ...any) *Error {
	return &Error{Kind: NonRetryable, Op: op, Err: fmt.Errorf(format, args...)}
}

func Configf(op, format string, args ...any) *Error {
	return &Error{Kind: Config, Op: op, Err: fmt.Errorf(format, args...)}
}

func Integrityf(op, format string, args ...any) *Error {
	return &Error{Kind: Integrity, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, defaulting to Transient for plain errors — unclassified I/O
// failures are treated as retryable, the safer default.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transient
}
