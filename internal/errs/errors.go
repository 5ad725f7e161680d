// Package errs implements the server's closed error taxonomy, retry
// policies, and per-operation circuit breakers (spec.md §4.8/§7).
package errs

import (
	"fmt"
	"time"
)

// Kind is the top-level error category.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindDatabase   Kind = "database"
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindRateLimit  Kind = "rate_limit"
	KindSystem     Kind = "system"
)

// Severity classifies operator-facing urgency.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// RecoveryKind names the recovery action a caller should take.
type RecoveryKind string

const (
	RecoveryRetry          RecoveryKind = "retry"
	RecoveryFallback       RecoveryKind = "fallback"
	RecoveryDisconnect     RecoveryKind = "disconnect"
	RecoveryRateLimitDelay RecoveryKind = "rate_limit_delay"
	RecoveryReauthenticate RecoveryKind = "reauthenticate"
	RecoveryNone           RecoveryKind = "none"
)

// Recovery describes what a caller should do in response to an Error.
type Recovery struct {
	Kind     RecoveryKind
	Policy   *RetryPolicy  // set when Kind == RecoveryRetry
	Fallback string        // set when Kind == RecoveryFallback
	Delay    time.Duration // set when Kind == RecoveryRateLimitDelay
}

// Error is the taxonomy's concrete error type. ErrorCode is a stable
// machine-readable string; UserMessage is safe to show a client; Err (if
// set) is the wrapped internal cause and is NEVER serialized onto the wire
// (spec.md §7: "internal error detail ... is never exposed").
type Error struct {
	ErrorCode   string
	Kind        Kind
	Severity    Severity
	UserMessage string
	Recovery    Recovery
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.ErrorCode, e.UserMessage, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.ErrorCode, e.UserMessage)
}

func (e *Error) Unwrap() error { return e.Err }

// Wire is the safe-to-serialize projection of an Error sent to clients
// (spec.md §7: stable code, human-safe message, optional details).
type Wire struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ToWire projects e onto the wire-safe shape. Details is left empty by
// default; callers that want to attach safe, non-sensitive context should
// build a Wire directly instead.
func (e *Error) ToWire() Wire {
	return Wire{Code: e.ErrorCode, Message: e.UserMessage}
}

// Constructors for the taxonomy rows in spec.md §4.8.

func ConnectionLost(cause error) *Error {
	return &Error{
		ErrorCode: "ConnectionLost", Kind: KindNetwork, Severity: SeverityWarn,
		UserMessage: "the connection was lost",
		Recovery:    Recovery{Kind: RecoveryRetry, Policy: &RetryPolicy{MaxAttempts: 5, Backoff: ExponentialBackoff(100)}},
		Err:         cause,
	}
}

func TimeoutError(cause error) *Error {
	return &Error{
		ErrorCode: "TimeoutError", Kind: KindNetwork, Severity: SeverityWarn,
		UserMessage: "the operation timed out",
		Recovery:    Recovery{Kind: RecoveryRetry, Policy: &RetryPolicy{MaxAttempts: 5, Backoff: ExponentialBackoff(100)}},
		Err:         cause,
	}
}

func DatabaseQuery(cause error) *Error {
	return &Error{
		ErrorCode: "Query", Kind: KindDatabase, Severity: SeverityError,
		UserMessage: "a storage operation failed",
		Recovery:    Recovery{Kind: RecoveryRetry, Policy: &RetryPolicy{MaxAttempts: 3, Backoff: LinearBackoff(50)}},
		Err:         cause,
	}
}

func DatabaseConnectionFailed(cause error) *Error {
	return &Error{
		ErrorCode: "ConnectionFailed", Kind: KindDatabase, Severity: SeverityError,
		UserMessage: "storage is temporarily unavailable",
		Recovery:    Recovery{Kind: RecoveryRetry, Policy: &RetryPolicy{MaxAttempts: 3, Backoff: LinearBackoff(50)}},
		Err:         cause,
	}
}

func InvalidFormat(detail string) *Error {
	return &Error{
		ErrorCode: "InvalidFormat", Kind: KindValidation, Severity: SeverityInfo,
		UserMessage: detail, Recovery: Recovery{Kind: RecoveryNone},
	}
}

func InvalidLength(detail string) *Error {
	return &Error{
		ErrorCode: "InvalidLength", Kind: KindValidation, Severity: SeverityInfo,
		UserMessage: detail, Recovery: Recovery{Kind: RecoveryNone},
	}
}

func AuthenticationFailed() *Error {
	return &Error{
		ErrorCode: "AuthenticationFailed", Kind: KindAuth, Severity: SeverityWarn,
		UserMessage: "invalid credentials", Recovery: Recovery{Kind: RecoveryReauthenticate},
	}
}

// Unauthenticated is the wire code for any non-auth command received while
// a connection has not yet completed login (spec.md §4.6: "any other input
// yields Err{code: Unauthenticated}").
func Unauthenticated() *Error {
	return &Error{
		ErrorCode: "Unauthenticated", Kind: KindAuth, Severity: SeverityInfo,
		UserMessage: "authentication required", Recovery: Recovery{Kind: RecoveryReauthenticate},
	}
}

func Unauthorized() *Error {
	return &Error{
		ErrorCode: "Unauthorized", Kind: KindAuth, Severity: SeverityWarn,
		UserMessage: "not authorized for this operation", Recovery: Recovery{Kind: RecoveryReauthenticate},
	}
}

func Forbidden() *Error {
	return &Error{
		ErrorCode: "Forbidden", Kind: KindAuth, Severity: SeverityWarn,
		UserMessage: "you do not have access to this resource", Recovery: Recovery{Kind: RecoveryNone},
	}
}

func SessionExpired() *Error {
	return &Error{
		ErrorCode: "SessionExpired", Kind: KindAuth, Severity: SeverityWarn,
		UserMessage: "your session has expired", Recovery: Recovery{Kind: RecoveryReauthenticate},
	}
}

func RateLimitExceeded() *Error {
	return &Error{
		ErrorCode: "RateLimitExceeded", Kind: KindRateLimit, Severity: SeverityInfo,
		UserMessage: "too many requests, slow down", Recovery: Recovery{Kind: RecoveryRateLimitDelay},
	}
}

func ResourceExhausted(detail string) *Error {
	return &Error{
		ErrorCode: "ResourceExhausted", Kind: KindSystem, Severity: SeverityError,
		UserMessage: detail, Recovery: Recovery{Kind: RecoveryFallback, Fallback: "try again later"},
	}
}

func Internal(cause error) *Error {
	return &Error{
		ErrorCode: "Internal", Kind: KindSystem, Severity: SeverityError,
		UserMessage: "an internal error occurred", Recovery: Recovery{Kind: RecoveryDisconnect}, Err: cause,
	}
}

func NotFound(resource string) *Error {
	return &Error{
		ErrorCode: "NotFound", Kind: KindValidation, Severity: SeverityInfo,
		UserMessage: resource + " not found", Recovery: Recovery{Kind: RecoveryNone},
	}
}

func Conflict(detail string) *Error {
	return &Error{
		ErrorCode: "Conflict", Kind: KindValidation, Severity: SeverityInfo,
		UserMessage: detail, Recovery: Recovery{Kind: RecoveryNone},
	}
}
