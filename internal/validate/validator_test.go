package validate

import (
	"strings"
	"testing"
	"time"
)

func newTestValidator() *Validator {
	return New(Config{RateLimit: RateLimiterConfig{RequestsPerWindow: 5, Window: time.Minute, BurstAllowance: 2}})
}

func TestValidateAcceptsWellFormedCommand(t *testing.T) {
	v := newTestValidator()
	got, err := v.Validate("user-1", "MESSAGE hello there")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.Command != "MESSAGE" {
		t.Fatalf("Command = %q", got.Command)
	}
	if got.SanitizedInput != "MESSAGE hello there" {
		t.Fatalf("SanitizedInput = %q", got.SanitizedInput)
	}
	if len(got.Arguments) != 2 {
		t.Fatalf("Arguments = %v", got.Arguments)
	}
}

func TestValidateRejectsEmptyInput(t *testing.T) {
	v := newTestValidator()
	_, err := v.Validate("user-1", "   ")
	if err == nil || err.ErrorCode != "InvalidFormat" {
		t.Fatalf("err = %v, want InvalidFormat", err)
	}
}

func TestValidateRejectsOversizedRawInput(t *testing.T) {
	v := newTestValidator()
	_, err := v.Validate("user-1", "MESSAGE "+strings.Repeat("a", maxInputBytes))
	if err == nil || err.ErrorCode != "InvalidLength" {
		t.Fatalf("err = %v, want InvalidLength", err)
	}
}

func TestValidateRejectsControlCharacters(t *testing.T) {
	v := newTestValidator()
	_, err := v.Validate("user-1", "MESSAGE hi\x01there")
	if err == nil || err.ErrorCode != "InvalidFormat" {
		t.Fatalf("err = %v, want InvalidFormat", err)
	}
}

func TestValidateRejectsSuspiciousUnicode(t *testing.T) {
	v := newTestValidator()
	_, err := v.Validate("user-1", "MESSAGE hi​there")
	if err == nil || err.ErrorCode != "SuspiciousUnicode" {
		t.Fatalf("err = %v, want SuspiciousUnicode", err)
	}
}

func TestValidateCollapsesWhitespace(t *testing.T) {
	v := newTestValidator()
	got, err := v.Validate("user-1", "MESSAGE   hello    there  ")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.SanitizedInput != "MESSAGE hello there" {
		t.Fatalf("SanitizedInput = %q", got.SanitizedInput)
	}
}

func TestValidateEnforcesPerCommandLengthCap(t *testing.T) {
	v := newTestValidator()
	over := "REGISTER " + strings.Repeat("a", 100)
	_, err := v.Validate("user-1", over)
	if err == nil || err.ErrorCode != "InvalidLength" {
		t.Fatalf("err = %v, want InvalidLength", err)
	}
}

func TestValidateAllowsMessageUpToMaxContent(t *testing.T) {
	v := newTestValidator()
	body := strings.Repeat("a", 2048-len("MESSAGE "))
	_, err := v.Validate("user-1", "MESSAGE "+body)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRateLimitsAfterQuotaExhausted(t *testing.T) {
	v := newTestValidator()
	var sawRateLimit bool
	for i := 0; i < 10; i++ {
		_, err := v.Validate("user-1", "LOGOUT now")
		if err != nil && err.ErrorCode == "RateLimitExceeded" {
			sawRateLimit = true
			break
		}
	}
	if !sawRateLimit {
		t.Fatalf("expected rate limit to trigger within 10 rapid requests")
	}
}

func TestValidateDetectsSQLInjectionHeuristic(t *testing.T) {
	v := newTestValidator()
	_, err := v.Validate("user-1", "MESSAGE '; drop table users; --")
	if err == nil || err.ErrorCode != "SecurityViolation" {
		t.Fatalf("err = %v, want SecurityViolation", err)
	}
}

func TestValidateDetectsEncodedScriptInjection(t *testing.T) {
	v := newTestValidator()
	_, err := v.Validate("user-1", "MESSAGE &lt;script&gt;alert(1)&lt;/script&gt;")
	if err == nil || err.ErrorCode != "SecurityViolation" {
		t.Fatalf("err = %v, want SecurityViolation", err)
	}
}

func TestValidateDetectsBlockedContent(t *testing.T) {
	v := newTestValidator()
	_, err := v.Validate("user-1", "MESSAGE my api_key=abcdef123456")
	if err == nil || err.ErrorCode != "BlockedContent" {
		t.Fatalf("err = %v, want BlockedContent", err)
	}
}

func TestValidateStatsTrackCounts(t *testing.T) {
	v := newTestValidator()
	if _, err := v.Validate("user-1", "MESSAGE hi"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, err := v.Validate("user-1", ""); err == nil {
		t.Fatalf("expected error for empty input")
	}

	stats := v.Stats()
	if stats.Total.Load() != 2 {
		t.Fatalf("Total = %d, want 2", stats.Total.Load())
	}
	if stats.Successes.Load() != 1 {
		t.Fatalf("Successes = %d, want 1", stats.Successes.Load())
	}

	snap := stats.PerCommandSnapshot()
	if snap["MESSAGE"] != 1 {
		t.Fatalf("PerCommandSnapshot[MESSAGE] = %d, want 1", snap["MESSAGE"])
	}
}

func TestRateLimiterAllowsBurstOnceQuotaSpent(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerWindow: 1, Window: time.Minute, BurstAllowance: 1})
	if !rl.Allow("u1", "MESSAGE") {
		t.Fatalf("first request should be allowed by normal quota")
	}
	if rl.Allow("u1", "MESSAGE") {
		t.Fatalf("second immediate request should be refused (burst needs 1s gap)")
	}
}

func TestRateLimiterIsolatesPerUser(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerWindow: 1, Window: time.Minute, BurstAllowance: 0})
	if !rl.Allow("u1", "MESSAGE") {
		t.Fatalf("u1 first request should be allowed")
	}
	if !rl.Allow("u2", "MESSAGE") {
		t.Fatalf("u2 first request should be allowed independently of u1")
	}
}
