package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy controls retry behavior for outbound calls to external
// collaborators: bounded exponential backoff with jitter and a retryable /
// fatal error classification.
//
// One policy type is used for persistence writes, telephony actions, and
// model completions so retry behavior is defined once.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	// Jitter is the fraction of each delay randomized (0..1).
	Jitter float64

	// Classify overrides the default retryable test. Fatal errors abort
	// immediately regardless of remaining attempts.
	Classify func(error) bool
}

// DefaultPolicy returns a Policy with sensible defaults:
// 3 attempts, 250ms initial delay, 2x multiplier, 5s cap, 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       0.2,
	}
}

// permanentError marks an error as fatal for retry purposes.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do will not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked fatal via Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// ErrAttemptsExhausted wraps the last error once the attempt bound is spent.
var ErrAttemptsExhausted = errors.New("resilience: attempts exhausted")

// Do runs op up to MaxAttempts times, sleeping between attempts with
// exponential backoff and jitter. Fatal errors and context cancellation
// abort immediately; exhaustion surfaces as ErrAttemptsExhausted wrapping
// the last error.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !p.retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-time.After(p.delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(ErrAttemptsExhausted, lastErr)
}

func (p Policy) retryable(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Classify != nil {
		return p.Classify(err)
	}
	return true
}

// delay returns the backoff for attempt (1-indexed): InitialDelay *
// Multiplier^(attempt-1), capped at MaxDelay, with +/- Jitter applied.
func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}
	if p.Jitter > 0 {
		span := d * p.Jitter
		d = d - span/2 + rand.Float64()*span
	}
	return time.Duration(d)
}
