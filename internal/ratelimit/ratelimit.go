// Package ratelimit paces outbound calls to an external system to a
// configured rate. Grounded on the teacher's token-bucket rate limiter
// (internal/httpapi/ratelimit.go in the reference pack), reshaped per the
// spec's queue-based design note: a single-consumer channel of submitted
// operations plus a delay computation, so submission from callers does not
// block while the 256-slot queue has room, and execution order matches
// submission order.
package ratelimit

import (
	"context"
	"time"
)

type job struct {
	run  func(ctx context.Context) (any, error)
	ctx  context.Context
	done chan result
}

type result struct {
	val any
	err error
}

// Limiter serializes calls to one external system behind a minimum
// inter-call interval of 1/rate seconds. Two instances are expected per
// engine: one for System A, one for System B.
type Limiter struct {
	minInterval time.Duration
	jobs        chan job
	closed      chan struct{}
}

// New starts a Limiter's consumer goroutine for the given rate (calls per
// second). Stop must be called to release the goroutine.
func New(ratePerSecond float64) *Limiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	l := &Limiter{
		minInterval: time.Duration(float64(time.Second) / ratePerSecond),
		jobs:        make(chan job, 256),
		closed:      make(chan struct{}),
	}
	go l.loop()
	return l
}

func (l *Limiter) loop() {
	var lastStart time.Time
	for {
		select {
		case j, ok := <-l.jobs:
			if !ok {
				return
			}
			if err := j.ctx.Err(); err != nil {
				// Caller cancelled before this op started: drop it
				// without executing, per spec §4.1.
				j.done <- result{err: err}
				continue
			}
			if wait := time.Until(lastStart.Add(l.minInterval)); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-j.ctx.Done():
					timer.Stop()
					j.done <- result{err: j.ctx.Err()}
					continue
				}
			}
			lastStart = time.Now()
			v, err := j.run(j.ctx)
			j.done <- result{val: v, err: err}
		case <-l.closed:
			return
		}
	}
}

// Execute schedules op to run no earlier than the last call plus the
// configured minimum interval, and blocks the caller until it completes
// (or ctx is cancelled, in which case the op is dropped if it had not yet
// started). Failure of one submitted op never blocks subsequent ones —
// each submission gets its own reply channel.
func (l *Limiter) Execute(ctx context.Context, op func(ctx context.Context) (any, error)) (any, error) {
	done := make(chan result, 1)
	select {
	case l.jobs <- job{run: op, ctx: ctx, done: done}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, context.Canceled
	}

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop releases the consumer goroutine. Pending jobs are abandoned.
func (l *Limiter) Stop() {
	close(l.closed)
}
