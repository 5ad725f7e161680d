package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lair-chat/internal/authproto"
	"lair-chat/internal/config"
	"lair-chat/internal/crypto"
	"lair-chat/internal/model"
	"lair-chat/internal/repo"
	"lair-chat/internal/sessionfsm"
)

// authHandler implements the Register/Login/Refresh/Logout business logic
// of spec.md §4.4. It sits directly in cmd/server rather than its own
// internal package: unlike C9's chat service, the auth protocol has no
// fan-out or cross-aggregate routing of its own -- it is a thin seam
// between authproto's wire shapes, the user/session repositories, and the
// sessionfsm.Server driving one connection's lifecycle (spec.md §4.6).
type authHandler struct {
	users    repo.UserRepository
	sessions repo.SessionRepository
	argon    crypto.Argon2Params
	cfg      config.Config
	lockout  *loginLockout
}

func newAuthHandler(users repo.UserRepository, sessions repo.SessionRepository, cfg config.Config) *authHandler {
	return &authHandler{
		users:    users,
		sessions: sessions,
		argon: crypto.Argon2Params{
			MemoryCost: cfg.Security.Argon2.MemoryCost, TimeCost: cfg.Security.Argon2.TimeCost,
			Parallelism: cfg.Security.Argon2.Parallelism, HashLength: cfg.Security.Argon2.HashLength,
			SaltLength: 16,
		},
		cfg:     cfg,
		lockout: newLoginLockout(),
	}
}

// loginLockout tracks consecutive login failures per username, enforcing
// spec.md §4.4's "on N consecutive failures within a window for a given
// username ... the account ... is temporarily locked" policy against the
// already-wired security.max_login_attempts/security.lockout_duration
// config fields (internal/config/config.go). It sits alongside authHandler
// rather than in its own package for the same reason auth.go itself does
// (DESIGN.md): a thin, single-caller concern with no fan-out of its own.
type loginLockout struct {
	mu       sync.Mutex
	failures map[string]*lockoutEntry
}

// lockoutEntry is one username's consecutive-failure count and, once that
// count reaches the configured threshold, the time its lockout expires.
type lockoutEntry struct {
	count       int
	lockedUntil time.Time
}

func newLoginLockout() *loginLockout {
	return &loginLockout{failures: make(map[string]*lockoutEntry)}
}

// locked reports whether username is currently within its lockout window.
func (l *loginLockout) locked(username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.failures[strings.ToLower(username)]
	if !ok {
		return false
	}
	return time.Now().Before(e.lockedUntil)
}

// recordFailure increments username's consecutive-failure count and, once
// maxAttempts is reached, locks it out until lockoutDuration has elapsed.
// maxAttempts <= 0 disables lockout entirely (the counter still
// accumulates, but lockedUntil is never set).
func (l *loginLockout) recordFailure(username string, maxAttempts int, lockoutDuration time.Duration) {
	key := strings.ToLower(username)
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.failures[key]
	if !ok {
		e = &lockoutEntry{}
		l.failures[key] = e
	}
	e.count++
	if maxAttempts > 0 && e.count >= maxAttempts {
		e.lockedUntil = time.Now().Add(lockoutDuration)
	}
}

// recordSuccess clears username's failure count after a successful login.
func (l *loginLockout) recordSuccess(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, strings.ToLower(username))
}

// handle dispatches one auth Request against fsm, the per-connection
// session/auth state machine, and returns the wire Response.
func (a *authHandler) handle(ctx context.Context, fsm *sessionfsm.Server, req authproto.Request) authproto.Response {
	switch req.Type {
	case authproto.RequestRegister:
		return a.register(ctx, fsm, req)
	case authproto.RequestLogin:
		return a.login(ctx, fsm, req)
	case authproto.RequestRefresh:
		return a.refresh(ctx, fsm, req)
	case authproto.RequestLogout:
		return a.logout(ctx, fsm, req)
	default:
		return authproto.Err("InvalidFormat", "unknown auth request type")
	}
}

func (a *authHandler) register(ctx context.Context, fsm *sessionfsm.Server, req authproto.Request) authproto.Response {
	username := strings.TrimSpace(req.Username)
	if username == "" || len(req.Password) < a.cfg.Security.PasswordMinLength {
		return authproto.Err("InvalidFormat", "invalid username or password too short")
	}
	if err := fsm.BeginAuth(); err != nil {
		return authproto.Err("InvalidFormat", "registration not valid in current state")
	}

	hash, salt, err := crypto.HashPassword(req.Password, a.argon)
	if err != nil {
		fsm.AuthFailed("password hashing failed")
		return authproto.Err("Internal", "an internal error occurred")
	}

	user, err := a.users.Create(ctx, model.User{Username: username, Email: req.Email, Role: model.RoleUser}, hash, salt)
	if err != nil {
		fsm.AuthFailed("username already exists")
		if err == repo.ErrUserExists {
			return authproto.Err("UserExists", "username already exists")
		}
		return authproto.Err("Query", "registration failed")
	}

	return a.issueSession(fsm, user)
}

func (a *authHandler) login(ctx context.Context, fsm *sessionfsm.Server, req authproto.Request) authproto.Response {
	if a.lockout.locked(req.Username) {
		return authproto.Err("AccountLocked", "too many failed login attempts, try again later")
	}

	if err := fsm.BeginAuth(); err != nil {
		return authproto.Err("InvalidFormat", "login not valid in current state")
	}

	ok, err := a.users.VerifyPassword(ctx, req.Username, req.Password)
	if err != nil || !ok {
		a.lockout.recordFailure(req.Username, a.cfg.Security.MaxLoginAttempts, a.cfg.Security.LockoutDuration)
		fsm.AuthFailed("invalid credentials")
		return authproto.Err("AuthenticationFailed", "invalid credentials")
	}
	a.lockout.recordSuccess(req.Username)

	user, err := a.users.FindByUsername(ctx, req.Username)
	if err != nil {
		fsm.AuthFailed("account lookup failed")
		return authproto.Err("AuthenticationFailed", "invalid credentials")
	}

	return a.issueSession(fsm, user)
}

// issueSession creates a new Session record with expires_at = now +
// session_ttl (spec.md §4.4) and completes the Authenticating ->
// Authenticated transition.
func (a *authHandler) issueSession(fsm *sessionfsm.Server, user model.User) authproto.Response {
	now := time.Now()
	sess, err := a.sessions.Create(context.Background(), model.Session{
		UserID: user.ID, Token: uuid.NewString(),
		CreatedAt: now, ExpiresAt: now.Add(a.cfg.Security.SessionTimeout),
		LastActivityAt: now, IsActive: true,
	})
	if err != nil {
		fsm.AuthFailed("session creation failed")
		return authproto.Err("Query", "could not establish a session")
	}
	if err := fsm.AuthSucceeded(sess, user); err != nil {
		return authproto.Err("Internal", "an internal error occurred")
	}

	return authproto.Ok(
		authproto.SessionView{ID: sess.ID, Token: sess.Token, CreatedAt: sess.CreatedAt.Unix(), ExpiresAt: sess.ExpiresAt.Unix()},
		authproto.ProfileView{ID: user.ID, Username: user.Username, Roles: []string{string(user.Role)}},
	)
}

// refresh rotates the caller's session when rotation is enabled (spec.md
// §4.4's rotate_refresh_tokens policy); otherwise it only bumps the
// session's last activity and does not extend its expiry. It does not drive fsm: a connection
// already holding StateAuthenticated stays there across a refresh, since
// the user identity authorizing its commands is unchanged.
func (a *authHandler) refresh(ctx context.Context, fsm *sessionfsm.Server, req authproto.Request) authproto.Response {
	if _, _, ok := fsm.Authenticated(); !ok {
		return authproto.Err("Unauthenticated", "authentication required")
	}

	old, err := a.sessions.Get(ctx, req.Token)
	if err != nil {
		return authproto.Err("SessionExpired", "your session has expired")
	}
	if old.Expired(time.Now()) {
		return authproto.Err("SessionExpired", "your session has expired")
	}

	if !a.cfg.Security.RotateRefreshTokens {
		// No repo method extends expires_at in place, so a non-rotating
		// refresh only bumps last_activity_at; the reported ExpiresAt is
		// the session's real, unextended expiry.
		if err := a.sessions.UpdateActivity(ctx, old.ID); err != nil {
			return authproto.Err("Query", "refresh failed")
		}
		return authproto.Ok(
			authproto.SessionView{ID: old.ID, Token: old.Token, CreatedAt: old.CreatedAt.Unix(), ExpiresAt: old.ExpiresAt.Unix()},
			authproto.ProfileView{},
		)
	}

	now := time.Now()
	next, err := a.sessions.Create(ctx, model.Session{
		UserID: old.UserID, Token: uuid.NewString(),
		CreatedAt: now, ExpiresAt: now.Add(a.cfg.Security.SessionTimeout),
		LastActivityAt: now, IsActive: true,
	})
	if err != nil {
		return authproto.Err("Query", "refresh failed")
	}
	_ = a.sessions.Deactivate(ctx, old.ID)

	return authproto.Ok(
		authproto.SessionView{ID: next.ID, Token: next.Token, CreatedAt: next.CreatedAt.Unix(), ExpiresAt: next.ExpiresAt.Unix()},
		authproto.ProfileView{},
	)
}

func (a *authHandler) logout(ctx context.Context, fsm *sessionfsm.Server, req authproto.Request) authproto.Response {
	sess, _, ok := fsm.Authenticated()
	if !ok {
		return authproto.Err("Unauthenticated", "authentication required")
	}
	if err := fsm.Logout(); err != nil {
		return authproto.Err("Internal", "an internal error occurred")
	}
	_ = a.sessions.Deactivate(ctx, sess.ID)
	return authproto.Response{Status: authproto.StatusOk}
}
