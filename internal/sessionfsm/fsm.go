// Package sessionfsm implements the session/auth state machine shared by
// the server's per-connection driver and the client's connection manager
// (spec.md §4.6): Unauthenticated -> Authenticating -> Authenticated ->
// Closing -> Closed, with a Failed observable reachable from
// Authenticating.
package sessionfsm

import "errors"

// State is one node of the session/auth lifecycle.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
	StateClosing         State = "closing"
	StateClosed          State = "closed"
)

// ErrWrongState is returned when a transition is attempted from a state
// that does not permit it, e.g. logging out while Unauthenticated.
var ErrWrongState = errors.New("sessionfsm: transition not valid from current state")

// machine is the bare state holder shared by Server and Client; both wrap
// it with their own domain data (session/user server-side, profile/session
// view client-side) rather than embedding each other.
type machine struct {
	state State
}

func newMachine() machine { return machine{state: StateUnauthenticated} }

func (m *machine) get() State { return m.state }

// transition moves from any of froms to to, or reports ErrWrongState.
func (m *machine) transition(to State, froms ...State) error {
	for _, f := range froms {
		if m.state == f {
			m.state = to
			return nil
		}
	}
	return ErrWrongState
}
