// Package validate implements the inbound-command pipeline: format
// checking, sanitation, per-command length caps, rate limiting, and
// security heuristics (spec.md §4.7).
package validate

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"lair-chat/internal/errs"
	"lair-chat/internal/model"
)

// maxInputBytes is the hard ceiling on raw input length before any other
// check runs (spec.md §4.7, step 1). spec.md states this as a flat 1024,
// but §9 Open Question 2 resolves the message-content ceiling to 2048
// "everywhere" — a literal 1024 would reject a maximum-length MESSAGE
// before step 3 ever got to apply the command-specific cap. This sizes
// the raw ceiling to the longest per-command cap plus 64 bytes of
// headroom. The per-command caps already count the command word, since
// they measure the whole sanitized line.
const maxInputBytes = model.MaxMessageContent + 64

// commandMaxLength maps an uppercased command to its maximum sanitized
// length (spec.md §4.7, step 3). MaxMessageContent backs the
// message-carrying commands (spec.md §9, Open Question 2). The cap covers
// the whole sanitized line, command word and arguments included; the chat
// service separately caps the content itself at MaxMessageContent.
var commandMaxLength = map[string]int{
	"MESSAGE":        model.MaxMessageContent,
	"SEND_MESSAGE":   model.MaxMessageContent,
	"SEND_DM":        model.MaxMessageContent,
	"REGISTER":       100,
	"LOGIN":          100,
	"REFRESH":        512,
	"LOGOUT":         512,
	"CREATE_ROOM":    200,
	"JOIN_ROOM":      100,
	"INVITE_USER":    100,
	"ACCEPT_INVITE":  100,
	"DECLINE_INVITE": 100,
	"LIST_ROOMS":     100,
	"LIST_MEMBERS":   100,
	"LIST_INVITES":   100,
	"FETCH_HISTORY":  100,
	"EDIT_MESSAGE":   model.MaxMessageContent,
	"DELETE_MESSAGE": 100,
}

// defaultMaxLength is used for commands absent from commandMaxLength.
const defaultMaxLength = 256

// suspiciousUnicode is the set of code points spec.md §4.7 step 2 names
// explicitly: zero-width space (U+200B), BOM (U+FEFF), RTL override
// (U+202E), line separator (U+2028), paragraph separator (U+2029), and
// NUL (U+0000).
var suspiciousUnicode = map[rune]bool{
	'\u200b': true,
	'\ufeff': true,
	'\u202e': true,
	'\u2028': true,
	'\u2029': true,
	'\x00':   true,
}

// suspiciousTokens triggers SecurityViolation (spec.md §4.7 step 5).
var suspiciousTokens = []string{
	"drop table", "; ", "' or ", "union select", "<script",
	"javascript:", "../", `..\`, "eval(", "| ", "$(", "`",
}

// blockedContentTokens triggers BlockedContent (spec.md §4.7 step 5,
// second list). Kept intentionally small and operator-obvious.
var blockedContentTokens = []string{
	"api_key=", "private_key", "-----begin",
}

// htmlEntityReplacer performs one pass of common HTML-entity decoding so
// encoded attacks (e.g. "&lt;script&gt;") are caught by the same substring
// scan (spec.md §4.7 step 2, "encoded-attack detection").
var htmlEntityReplacer = strings.NewReplacer(
	"&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'", "&amp;", "&",
)

// ValidatedInput is the validator's output for one accepted command line.
type ValidatedInput struct {
	Command        string
	Arguments      []string
	SanitizedInput string
	UserID         string
	Timestamp      time.Time
}

// Stats accumulates counters for the operator dashboard (spec.md §4.7 /
// §7). All fields are accessed via atomics so Stats can be read
// concurrently with validation.
type Stats struct {
	Total            atomic.Int64
	Successes        atomic.Int64
	RateLimited      atomic.Int64
	SecurityViolated atomic.Int64
	perCommand       sync.Map // command -> *atomic.Int64
}

func (s *Stats) bumpCommand(command string) {
	v, _ := s.perCommand.LoadOrStore(command, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

// PerCommandSnapshot returns a point-in-time copy of the per-command
// counters.
func (s *Stats) PerCommandSnapshot() map[string]int64 {
	out := make(map[string]int64)
	s.perCommand.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// Config configures a Validator's rate limiter.
type Config struct {
	RateLimit RateLimiterConfig
}

// Validator runs the full inbound-command pipeline described in spec.md
// §4.7. It holds no package-level state (spec.md §9's REDESIGN FLAG on
// global mutable state): construct one per server and thread it in.
type Validator struct {
	limiter *RateLimiter
	stats   Stats
}

// New constructs a Validator from cfg.
func New(cfg Config) *Validator {
	return &Validator{limiter: NewRateLimiter(cfg.RateLimit)}
}

// Stats returns the validator's live stats counters.
func (v *Validator) Stats() *Stats { return &v.stats }

// Validate runs raw (one inbound line, already stripped of its trailing
// newline by the codec) through the full pipeline for userID.
func (v *Validator) Validate(userID, raw string) (ValidatedInput, *errs.Error) {
	v.stats.Total.Add(1)

	// 1. Format check.
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ValidatedInput{}, errs.InvalidFormat("empty input")
	}
	if len(raw) > maxInputBytes {
		return ValidatedInput{}, errs.InvalidLength("input exceeds maximum length")
	}

	fields := strings.Fields(trimmed)
	command := strings.ToUpper(fields[0])
	arguments := fields[1:]

	// 2. Sanitation.
	sanitized, sanErr := sanitize(trimmed)
	if sanErr != nil {
		if sanErr.ErrorCode == "SecurityViolation" {
			v.stats.SecurityViolated.Add(1)
		}
		return ValidatedInput{}, sanErr
	}

	// 3. Per-command length cap.
	maxLen, ok := commandMaxLength[command]
	if !ok {
		maxLen = defaultMaxLength
	}
	if len(sanitized) > maxLen {
		return ValidatedInput{}, errs.InvalidLength(command + " exceeds maximum length")
	}

	// 4. Rate limiting.
	if !v.limiter.Allow(userID, command) {
		v.stats.RateLimited.Add(1)
		return ValidatedInput{}, errs.RateLimitExceeded()
	}

	// 5. Security heuristics (on the decoded/sanitized text so encoded
	// attacks are caught too).
	lowered := strings.ToLower(htmlEntityReplacer.Replace(sanitized))
	for _, tok := range suspiciousTokens {
		if strings.Contains(lowered, tok) {
			v.stats.SecurityViolated.Add(1)
			return ValidatedInput{}, &errs.Error{
				ErrorCode: "SecurityViolation", Kind: errs.KindValidation, Severity: errs.SeverityWarn,
				UserMessage: "input rejected by security policy",
				Recovery:    errs.Recovery{Kind: errs.RecoveryNone},
			}
		}
	}
	for _, tok := range blockedContentTokens {
		if strings.Contains(lowered, tok) {
			return ValidatedInput{}, &errs.Error{
				ErrorCode: "BlockedContent", Kind: errs.KindValidation, Severity: errs.SeverityWarn,
				UserMessage: "input contains blocked content",
				Recovery:    errs.Recovery{Kind: errs.RecoveryNone},
			}
		}
	}

	v.stats.Successes.Add(1)
	v.stats.bumpCommand(command)

	return ValidatedInput{
		Command:        command,
		Arguments:      arguments,
		SanitizedInput: sanitized,
		UserID:         userID,
		Timestamp:      time.Now(),
	}, nil
}

// sanitize rejects control characters (other than a contextually valid
// tab) and suspicious Unicode, then collapses whitespace runs (spec.md
// §4.7 step 2).
func sanitize(s string) (string, *errs.Error) {
	for _, r := range s {
		if suspiciousUnicode[r] {
			return "", &errs.Error{
				ErrorCode: "SuspiciousUnicode", Kind: errs.KindValidation, Severity: errs.SeverityWarn,
				UserMessage: "input contains disallowed characters",
				Recovery:    errs.Recovery{Kind: errs.RecoveryNone},
			}
		}
		if r == '\t' {
			continue
		}
		if r < 0x20 || r == 0x7F {
			return "", &errs.Error{
				ErrorCode: "InvalidFormat", Kind: errs.KindValidation, Severity: errs.SeverityInfo,
				UserMessage: "input contains control characters",
				Recovery:    errs.Recovery{Kind: errs.RecoveryNone},
			}
		}
	}

	fields := strings.Fields(s)
	return strings.Join(fields, " "), nil
}
