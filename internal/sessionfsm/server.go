package sessionfsm

import (
	"sync"

	"lair-chat/internal/errs"
	"lair-chat/internal/model"
)

// Server drives the session/auth lifecycle for one server-side connection.
// It is the per-connection analogue of the teacher's Client struct
// (rustyguts-bken/server/client.go), generalized from "joined a voice
// channel or not" into the full auth state machine spec.md §4.6 requires.
type Server struct {
	mu machineMutex

	session     model.Session
	user        model.User
	lastFailure string
	onFailed    func(reason string)
}

// machineMutex pairs the bare state machine with its guarding mutex so
// every method here locks exactly once.
type machineMutex struct {
	sync.Mutex
	m machine
}

// NewServer constructs a Server in the Unauthenticated state, matching
// spec.md §4.6: "On handshake success, the state is Unauthenticated."
// Callers create one Server per transport session immediately after
// transport.Session.ServerHandshake succeeds.
func NewServer() *Server {
	s := &Server{}
	s.mu.m = newMachine()
	return s
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.m.get()
}

// OnAuthFailed registers a callback fired whenever AuthFailed completes a
// transition. It is the server-side observable spec.md §4.6 calls out
// ("back to Unauthenticated with a Failed observable for the client UI").
func (s *Server) OnAuthFailed(cb func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailed = cb
}

// BeginAuth moves Unauthenticated -> Authenticating when a Register or
// Login request has passed validation and is being checked against the
// repository.
func (s *Server) BeginAuth() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.m.transition(StateAuthenticating, StateUnauthenticated)
}

// AuthSucceeded completes Authenticating -> Authenticated, recording the
// session and user the rest of the connection's lifetime will authorize
// commands against.
func (s *Server) AuthSucceeded(sess model.Session, user model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mu.m.transition(StateAuthenticated, StateAuthenticating); err != nil {
		return err
	}
	s.session, s.user = sess, user
	return nil
}

// AuthFailed returns Authenticating -> Unauthenticated and fires the
// registered OnAuthFailed observer with reason, exactly as spec.md §4.6
// describes: the connection stays alive for another attempt, but the
// client UI is told why the last one failed.
func (s *Server) AuthFailed(reason string) error {
	s.mu.Lock()
	if err := s.mu.m.transition(StateUnauthenticated, StateAuthenticating); err != nil {
		s.mu.Unlock()
		return err
	}
	s.lastFailure = reason
	cb := s.onFailed
	s.mu.Unlock()

	if cb != nil {
		cb(reason)
	}
	return nil
}

// LastFailure returns the reason passed to the most recent AuthFailed
// call, or "" if none occurred yet.
func (s *Server) LastFailure() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFailure
}

// Logout moves Authenticated -> Closing on an explicit Logout request.
func (s *Server) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.m.transition(StateClosing, StateAuthenticated)
}

// IdleTimeout moves either Authenticated or Unauthenticated -> Closing
// when the connection has been idle past the session TTL (spec.md §4.6).
func (s *Server) IdleTimeout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.m.transition(StateClosing, StateAuthenticated, StateUnauthenticated)
}

// Close moves any state to Closed. It is idempotent.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.m.state = StateClosed
}

// Authenticated reports the session/user recorded by AuthSucceeded, and
// whether the connection is currently in the Authenticated state.
func (s *Server) Authenticated() (model.Session, model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.m.get() != StateAuthenticated {
		return model.Session{}, model.User{}, false
	}
	return s.session, s.user, true
}

// RequireAuthenticated is the authorization gate every inbound non-auth
// command passes through (spec.md §4.6: "While Unauthenticated, only auth
// messages are accepted; any other input yields Err{code:
// Unauthenticated}."). It returns the session and user to authorize the
// command against, or errs.Unauthenticated() in its wire-safe Error form.
func (s *Server) RequireAuthenticated() (model.Session, model.User, error) {
	sess, user, ok := s.Authenticated()
	if !ok {
		return model.Session{}, model.User{}, errs.Unauthenticated()
	}
	return sess, user, nil
}
