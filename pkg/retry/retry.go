// Package retry reruns an operation after transient failures with capped
// exponential backoff. The engine uses it for version-conflict loops and
// the daemon for store connections at startup.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// permanentError stops Do at once, whatever the policy says.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so it is never retried. Do returns the wrapped error
// itself.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Policy describes how many attempts to make and how long to wait between
// them. Zero fields take the defaults from New.
type Policy struct {
	Attempts int           // total attempts including the first
	Base     time.Duration // wait before the second attempt
	Max      time.Duration // cap on any single wait
	Factor   float64       // growth per attempt
	Jitter   float64       // each wait is spread by ±Jitter of itself

	// RetryIf picks the errors worth another attempt. Nil retries every
	// error that is not Permanent.
	RetryIf func(error) bool
	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retrier runs operations under one Policy.
type Retrier struct {
	p Policy
}

// New fills the zero fields of p and returns its Retrier.
func New(p Policy) *Retrier {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Base <= 0 {
		p.Base = 100 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 30 * time.Second
	}
	p.Max = max(p.Max, p.Base)
	if p.Factor < 1 {
		p.Factor = 2
	}
	p.Jitter = min(max(p.Jitter, 0), 1)
	return &Retrier{p: p}
}

// Attempts returns the attempt bound.
func (r *Retrier) Attempts() int {
	return r.p.Attempts
}

// Do runs op until it succeeds, returns an error the policy will not
// retry, the attempts run out or ctx is done. The last error from op is
// returned, with any Permanent wrapper removed.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; attempt <= r.p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		last = err
		if attempt == r.p.Attempts || (r.p.RetryIf != nil && !r.p.RetryIf(err)) {
			return err
		}

		delay := r.Backoff(attempt)
		if r.p.OnRetry != nil {
			r.p.OnRetry(attempt, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
	}
	return last
}

// Backoff returns the wait after the given failed attempt (1-based).
func (r *Retrier) Backoff(attempt int) time.Duration {
	delay := float64(r.p.Base)
	for i := 1; i < attempt && delay < float64(r.p.Max); i++ {
		delay *= r.p.Factor
	}
	delay = min(delay, float64(r.p.Max))
	if r.p.Jitter > 0 {
		delay += delay * r.p.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(max(delay, 0))
}

// ConflictRetrier is tuned for optimistic-concurrency loops: short waits,
// and only errors accepted by retryIf are retried.
func ConflictRetrier(attempts int, retryIf func(error) bool) *Retrier {
	return New(Policy{
		Attempts: attempts,
		Base:     10 * time.Millisecond,
		Max:      500 * time.Millisecond,
		Factor:   2,
		Jitter:   0.3,
		RetryIf:  retryIf,
	})
}

// StoreRetrier is tuned for reaching a database at startup, when the
// server may still be coming up.
func StoreRetrier(onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(Policy{
		Attempts: 5,
		Base:     200 * time.Millisecond,
		Max:      5 * time.Second,
		Factor:   2,
		Jitter:   0.1,
		OnRetry:  onRetry,
	})
}
