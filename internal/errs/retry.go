package errs

import (
	"context"
	"time"
)

// BackoffKind selects the delay growth function between retry attempts.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// Backoff computes the delay before retry attempt n (1-indexed).
type Backoff struct {
	Kind    BackoffKind
	BaseMs  int
}

func FixedBackoff(baseMs int) Backoff       { return Backoff{Kind: BackoffFixed, BaseMs: baseMs} }
func LinearBackoff(baseMs int) Backoff      { return Backoff{Kind: BackoffLinear, BaseMs: baseMs} }
func ExponentialBackoff(baseMs int) Backoff { return Backoff{Kind: BackoffExponential, BaseMs: baseMs} }

// Delay returns the wait duration before attempt n (n starts at 1 for the
// first retry, i.e. the call after the initial failed attempt).
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	base := time.Duration(b.BaseMs) * time.Millisecond
	switch b.Kind {
	case BackoffLinear:
		return base * time.Duration(n)
	case BackoffExponential:
		d := base
		for i := 1; i < n; i++ {
			d *= 2
		}
		return d
	default:
		return base
	}
}

// RetryPolicy bounds how an operation may be retried (spec.md §4.8).
type RetryPolicy struct {
	MaxAttempts     int
	Backoff         Backoff
	RetryConditions []Kind // error Kinds eligible for retry; nil means "any"
}

func (p RetryPolicy) eligible(kind Kind) bool {
	if len(p.RetryConditions) == 0 {
		return true
	}
	for _, k := range p.RetryConditions {
		if k == kind {
			return true
		}
	}
	return false
}

// Do executes fn, retrying according to policy whenever fn returns an
// *Error whose Kind is eligible and whose Recovery requests a retry. It
// returns the last result/error once attempts are exhausted, a
// non-retryable error is returned, or ctx is canceled.
func Do[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		taxErr, ok := err.(*Error)
		if !ok || !policy.eligible(taxErr.Kind) || taxErr.Recovery.Kind != RecoveryRetry {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := policy.Backoff.Delay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}
