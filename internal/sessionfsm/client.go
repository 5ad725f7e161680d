package sessionfsm

import (
	"lair-chat/internal/authproto"
)

// Client tracks the same Unauthenticated -> Authenticating -> Authenticated
// -> Closing -> Closed lifecycle from the connection manager's side
// (spec.md §4.6, §4.9). Unlike Server it never decides an outcome itself;
// every transition is driven by what the connection manager observed on
// the wire (a request sent, a Response received, a disconnect).
type Client struct {
	mu machineMutex

	session authproto.SessionView
	profile authproto.ProfileView
}

// NewClient constructs a Client in the Unauthenticated state.
func NewClient() *Client {
	c := &Client{}
	c.mu.m = newMachine()
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.m.get()
}

// RequestSent moves Unauthenticated -> Authenticating when the connection
// manager writes a Register or Login request and is awaiting the server's
// Response line.
func (c *Client) RequestSent() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.m.transition(StateAuthenticating, StateUnauthenticated)
}

// ResponseOk completes Authenticating -> Authenticated on a Response with
// Status == StatusOk, recording the session/profile views for the UI.
func (c *Client) ResponseOk(resp authproto.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.mu.m.transition(StateAuthenticated, StateAuthenticating); err != nil {
		return err
	}
	if resp.Session != nil {
		c.session = *resp.Session
	}
	if resp.Profile != nil {
		c.profile = *resp.Profile
	}
	return nil
}

// ResponseErr returns Authenticating -> Unauthenticated on a Response with
// Status == StatusErr, mirroring the server's AuthFailed observable.
func (c *Client) ResponseErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.m.transition(StateUnauthenticated, StateAuthenticating)
}

// LoggedOut moves Authenticated -> Closing after a Logout request is sent.
func (c *Client) LoggedOut() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.m.transition(StateClosing, StateAuthenticated)
}

// Disconnected moves any state to Closed, e.g. on a transport error the
// connection manager cannot recover from.
func (c *Client) Disconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.m.state = StateClosed
}

// View returns the session/profile recorded by the last successful
// ResponseOk, and whether the client is currently Authenticated.
func (c *Client) View() (authproto.SessionView, authproto.ProfileView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.profile, c.mu.m.get() == StateAuthenticated
}
