package errs

import (
	"sync"
	"time"
)

// BreakerState is one of the three circuit-breaker states in spec.md §4.8.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker is a single per-operation-key circuit breaker. It generalizes
// the teacher's sendHealth (rustyguts-bken/server/client.go): atomic
// counters there tracked per-client datagram sends; here a mutex-protected
// struct tracks consecutive failures per named operation and exposes the
// explicit Closed/Open/HalfOpen state machine spec.md §4.8 requires.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	openTimeout      time.Duration

	state           BreakerState
	consecutiveFail int
	openedAt        time.Time
	halfOpenProbeInFlight bool
}

// NewBreaker constructs a closed breaker with the given parameters.
func NewBreaker(failureThreshold int, openTimeout time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		openTimeout:      openTimeout,
		state:            BreakerClosed,
	}
}

// Allow reports whether a call may proceed right now. When the breaker is
// Open and openTimeout has elapsed, it transitions to HalfOpen and allows
// exactly one probing call through; concurrent callers during that window
// are still refused until the probe resolves via Success/Failure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(b.openedAt) < b.openTimeout {
			return false
		}
		b.state = BreakerHalfOpen
		b.halfOpenProbeInFlight = true
		return true
	case BreakerHalfOpen:
		if b.halfOpenProbeInFlight {
			return false
		}
		b.halfOpenProbeInFlight = true
		return true
	default:
		return true
	}
}

// Success records a successful call. A success while HalfOpen closes the
// breaker; a success while Closed just resets the failure counter.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFail = 0
	b.halfOpenProbeInFlight = false
	b.state = BreakerClosed
}

// Failure records a failed call. A failure while HalfOpen reopens the
// breaker immediately; a failure while Closed opens it once
// failureThreshold consecutive failures have accumulated.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.halfOpenProbeInFlight = false
	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = time.Now()
		b.consecutiveFail = b.failureThreshold
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.failureThreshold {
		b.state = BreakerOpen
		b.openedAt = time.Now()
	}
}

// State returns the breaker's current state for diagnostics/stats.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registry holds one Breaker per operation key, created lazily. It
// replaces the process-wide singleton the teacher's circuit-breaker
// constants implied (spec.md §9's REDESIGN FLAG on global mutable state):
// a Registry is constructed once at startup and threaded to collaborators.
type Registry struct {
	mu               sync.Mutex
	breakers         map[string]*Breaker
	failureThreshold int
	openTimeout      time.Duration
}

// NewRegistry builds a Registry whose breakers all share the given
// parameters (a deployment may want per-operation tuning later; spec.md
// §4.8 only requires the parameters be configurable per breaker, not that
// every breaker differ).
func NewRegistry(failureThreshold int, openTimeout time.Duration) *Registry {
	return &Registry{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		openTimeout:      openTimeout,
	}
}

// For returns the Breaker for key, creating it on first use.
func (r *Registry) For(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		b = NewBreaker(r.failureThreshold, r.openTimeout)
		r.breakers[key] = b
	}
	return b
}

// Snapshot returns the current state of every breaker created so far, for
// the operator stats surface (spec.md §7).
func (r *Registry) Snapshot() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]BreakerState, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.State()
	}
	return out
}
