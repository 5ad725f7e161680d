package validate

import (
	"sync"
	"time"
)

// tokenBucket is a mutex-protected token bucket, grounded in
// N0-C0M-Serenada/server/rate_limit.go's SimpleTokenBucket. It is extended
// here with an explicit burst allowance that is only spendable once the
// normal per-window quota is exhausted and at least one second has passed
// since the last request, per spec.md §4.7.
type tokenBucket struct {
	mu sync.Mutex

	windowQuota   float64 // requests_per_window, refilled over `window`
	window        time.Duration
	burstCapacity float64

	tokens       float64 // remaining normal-quota tokens
	burstTokens  float64 // remaining burst tokens
	lastRefill   time.Time
	lastRequest  time.Time
}

func newTokenBucket(windowQuota int, window time.Duration, burstAllowance int) *tokenBucket {
	now := time.Now()
	return &tokenBucket{
		windowQuota:   float64(windowQuota),
		window:        window,
		burstCapacity: float64(burstAllowance),
		tokens:        float64(windowQuota),
		burstTokens:   float64(burstAllowance),
		lastRefill:    now,
	}
}

// allow consumes one token, preferring the normal quota; it only draws from
// the burst allowance once the normal quota is empty and at least one
// second elapsed since the previous accepted-or-rejected request (spec.md
// §4.7: "Burst is consumed only after the normal quota is spent and only
// if ≥ 1 s passed since the last request").
func (tb *tokenBucket) allow(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked(now)

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		tb.lastRequest = now
		return true
	}

	if tb.burstTokens >= 1.0 && !tb.lastRequest.IsZero() && now.Sub(tb.lastRequest) >= time.Second {
		tb.burstTokens -= 1.0
		tb.lastRequest = now
		return true
	}

	tb.lastRequest = now
	return false
}

func (tb *tokenBucket) refillLocked(now time.Time) {
	if tb.window <= 0 {
		return
	}
	elapsed := now.Sub(tb.lastRefill)
	if elapsed < tb.window {
		return
	}
	periods := float64(elapsed / tb.window)
	tb.tokens += periods * tb.windowQuota
	if tb.tokens > tb.windowQuota {
		tb.tokens = tb.windowQuota
	}
	tb.burstTokens = tb.burstCapacity
	tb.lastRefill = now
}

// RateLimiterConfig configures the sliding-window + burst limiter
// (spec.md §4.7/§6: limits.messages_per_minute, rate_limit_window, and a
// burst allowance).
type RateLimiterConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	BurstAllowance    int
}

// RateLimiter tracks per-(subject, command) and per-(global, command)
// token buckets, where subject is typically a user ID.
type RateLimiter struct {
	mu      sync.Mutex
	cfg     RateLimiterConfig
	perUser map[string]*tokenBucket // key: userID + "\x00" + command
	global  map[string]*tokenBucket // key: command
}

// NewRateLimiter constructs a limiter from cfg.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateLimiter{
		cfg:     cfg,
		perUser: make(map[string]*tokenBucket),
		global:  make(map[string]*tokenBucket),
	}
}

// Allow reports whether the given user may issue one more `command`
// request right now. It enforces both the per-user and the global bucket
// for that command; both must admit the request.
func (rl *RateLimiter) Allow(userID, command string) bool {
	now := time.Now()

	rl.mu.Lock()
	userKey := userID + "\x00" + command
	ub, ok := rl.perUser[userKey]
	if !ok {
		ub = newTokenBucket(rl.cfg.RequestsPerWindow, rl.cfg.Window, rl.cfg.BurstAllowance)
		rl.perUser[userKey] = ub
	}
	gb, ok := rl.global[command]
	if !ok {
		gb = newTokenBucket(rl.cfg.RequestsPerWindow, rl.cfg.Window, rl.cfg.BurstAllowance)
		rl.global[command] = gb
	}
	rl.mu.Unlock()

	userOK := ub.allow(now)
	globalOK := gb.allow(now)
	return userOK && globalOK
}
