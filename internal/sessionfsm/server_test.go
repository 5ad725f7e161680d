package sessionfsm

import (
	"testing"

	"lair-chat/internal/model"
)

func TestServerHappyPathLoginThenLogout(t *testing.T) {
	s := NewServer()
	if s.State() != StateUnauthenticated {
		t.Fatalf("initial state = %v, want Unauthenticated", s.State())
	}

	if err := s.BeginAuth(); err != nil {
		t.Fatalf("BeginAuth: %v", err)
	}
	if s.State() != StateAuthenticating {
		t.Fatalf("state = %v, want Authenticating", s.State())
	}

	sess := model.Session{ID: "s1", UserID: "u1"}
	user := model.User{ID: "u1", Username: "alice"}
	if err := s.AuthSucceeded(sess, user); err != nil {
		t.Fatalf("AuthSucceeded: %v", err)
	}
	if s.State() != StateAuthenticated {
		t.Fatalf("state = %v, want Authenticated", s.State())
	}

	gotSess, gotUser, ok := s.Authenticated()
	if !ok || gotSess.ID != "s1" || gotUser.Username != "alice" {
		t.Fatalf("Authenticated() = %+v, %+v, %v", gotSess, gotUser, ok)
	}

	if err := s.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if s.State() != StateClosing {
		t.Fatalf("state = %v, want Closing", s.State())
	}

	s.Close()
	if s.State() != StateClosed {
		t.Fatalf("state = %v, want Closed", s.State())
	}
}

func TestServerAuthFailedReturnsToUnauthenticatedAndFiresObserver(t *testing.T) {
	s := NewServer()
	var gotReason string
	s.OnAuthFailed(func(reason string) { gotReason = reason })

	if err := s.BeginAuth(); err != nil {
		t.Fatalf("BeginAuth: %v", err)
	}
	if err := s.AuthFailed("bad credentials"); err != nil {
		t.Fatalf("AuthFailed: %v", err)
	}
	if s.State() != StateUnauthenticated {
		t.Fatalf("state = %v, want Unauthenticated", s.State())
	}
	if gotReason != "bad credentials" {
		t.Fatalf("observer reason = %q", gotReason)
	}
	if s.LastFailure() != "bad credentials" {
		t.Fatalf("LastFailure() = %q", s.LastFailure())
	}

	// The connection survives a failed attempt and can retry.
	if err := s.BeginAuth(); err != nil {
		t.Fatalf("BeginAuth after failure: %v", err)
	}
}

func TestServerRejectsInvalidTransitions(t *testing.T) {
	s := NewServer()
	if err := s.Logout(); err != ErrWrongState {
		t.Fatalf("Logout from Unauthenticated: %v, want ErrWrongState", err)
	}
	if err := s.AuthSucceeded(model.Session{}, model.User{}); err != ErrWrongState {
		t.Fatalf("AuthSucceeded from Unauthenticated: %v, want ErrWrongState", err)
	}
}

func TestServerRequireAuthenticatedGatesNonAuthCommands(t *testing.T) {
	s := NewServer()
	if _, _, err := s.RequireAuthenticated(); err == nil {
		t.Fatalf("expected error while Unauthenticated")
	}

	if err := s.BeginAuth(); err != nil {
		t.Fatalf("BeginAuth: %v", err)
	}
	sess := model.Session{ID: "s1", UserID: "u1"}
	if err := s.AuthSucceeded(sess, model.User{ID: "u1"}); err != nil {
		t.Fatalf("AuthSucceeded: %v", err)
	}

	gotSess, _, err := s.RequireAuthenticated()
	if err != nil {
		t.Fatalf("RequireAuthenticated after login: %v", err)
	}
	if gotSess.ID != "s1" {
		t.Fatalf("gotSess = %+v", gotSess)
	}
}

func TestServerIdleTimeoutFromEitherAuthState(t *testing.T) {
	s := NewServer()
	if err := s.IdleTimeout(); err != nil {
		t.Fatalf("IdleTimeout from Unauthenticated: %v", err)
	}
	if s.State() != StateClosing {
		t.Fatalf("state = %v, want Closing", s.State())
	}

	a := NewServer()
	if err := a.BeginAuth(); err != nil {
		t.Fatalf("BeginAuth: %v", err)
	}
	if err := a.AuthSucceeded(model.Session{ID: "s1", UserID: "u1"}, model.User{ID: "u1"}); err != nil {
		t.Fatalf("AuthSucceeded: %v", err)
	}
	if err := a.IdleTimeout(); err != nil {
		t.Fatalf("IdleTimeout from Authenticated: %v", err)
	}
	if a.State() != StateClosing {
		t.Fatalf("state = %v, want Closing", a.State())
	}
}
