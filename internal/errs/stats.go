package errs

import (
	"sync"
	"sync/atomic"
	"time"
)

// kindSeverityKey identifies one (Kind, Severity) bucket tracked by Stats.
type kindSeverityKey struct {
	Kind     Kind
	Severity Severity
}

// KindSeverityCount is a point-in-time count for one (Kind, Severity)
// bucket, as returned by Stats.Snapshot.
type KindSeverityCount struct {
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
	Count    int64    `json:"count"`
}

// Stats aggregates error occurrences by (Kind, Severity) and by recovery
// outcome, and tracks the most recently recorded error's code and
// timestamp (spec.md §7: "error stats keep counts by kind and severity,
// last-error timestamp, and recovery outcomes"). Like Registry, Stats
// holds no package-level state -- a server constructs one via NewStats
// and threads it to every collaborator that surfaces an Error, per
// spec.md §9's REDESIGN FLAG on global mutable state.
type Stats struct {
	total      atomic.Int64
	counts     sync.Map // kindSeverityKey -> *atomic.Int64
	recoveries sync.Map // RecoveryKind -> *atomic.Int64

	mu            sync.Mutex
	lastErrorCode string
	lastErrorAt   time.Time
}

// NewStats constructs an empty Stats.
func NewStats() *Stats { return &Stats{} }

// Record tallies one Error occurrence: its (Kind, Severity) bucket, its
// Recovery.Kind outcome, and the last-error code/timestamp. Safe for
// concurrent use; a nil Stats or nil Error is a no-op so callers may
// record unconditionally.
func (s *Stats) Record(e *Error) {
	if s == nil || e == nil {
		return
	}
	s.total.Add(1)

	key := kindSeverityKey{Kind: e.Kind, Severity: e.Severity}
	v, _ := s.counts.LoadOrStore(key, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)

	rv, _ := s.recoveries.LoadOrStore(e.Recovery.Kind, new(atomic.Int64))
	rv.(*atomic.Int64).Add(1)

	s.mu.Lock()
	s.lastErrorCode = e.ErrorCode
	s.lastErrorAt = time.Now()
	s.mu.Unlock()
}

// Total returns the number of errors recorded so far.
func (s *Stats) Total() int64 { return s.total.Load() }

// Snapshot returns a point-in-time copy of the per-(kind, severity) counts.
func (s *Stats) Snapshot() []KindSeverityCount {
	out := []KindSeverityCount{}
	s.counts.Range(func(k, v any) bool {
		key := k.(kindSeverityKey)
		out = append(out, KindSeverityCount{Kind: key.Kind, Severity: key.Severity, Count: v.(*atomic.Int64).Load()})
		return true
	})
	return out
}

// RecoverySnapshot returns a point-in-time copy of the per-recovery-kind
// outcome counts.
func (s *Stats) RecoverySnapshot() map[RecoveryKind]int64 {
	out := make(map[RecoveryKind]int64)
	s.recoveries.Range(func(k, v any) bool {
		out[k.(RecoveryKind)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// LastError returns the ErrorCode and timestamp of the most recently
// recorded error, and whether any error has been recorded yet.
func (s *Stats) LastError() (code string, at time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErrorCode == "" {
		return "", time.Time{}, false
	}
	return s.lastErrorCode, s.lastErrorAt, true
}
