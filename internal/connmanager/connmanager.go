// Package connmanager implements the client-side connection manager
// (spec.md §4.10): it owns one transport.Session, drives the handshake and
// auth handshake, runs a cooperative receive loop, and notifies observer
// callbacks, mirroring the teacher's Transporter design
// (rustyguts-bken/client/interfaces.go's SetOnX callback set and
// transport.go's Connect/StartReceiving/Disconnect shape) generalized from
// voice-channel presence events to this system's auth/chat envelopes.
package connmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"lair-chat/internal/authproto"
	"lair-chat/internal/chat"
	"lair-chat/internal/sessionfsm"
	"lair-chat/internal/transport"
)

// pollInterval is how long the receive loop sleeps after delivering an
// envelope before it checks ctx cancellation again. Receive itself has no
// timeout; a loop blocked in Receive ends when Disconnect closes the
// transport.
const pollInterval = 100 * time.Millisecond

// RingBufferSize bounds the local message-history ring buffer (spec.md
// §4.10: "a message store (ring buffer of recent messages)").
const RingBufferSize = 500

// Observers bundles the callback set a UI registers to learn about
// connection lifecycle and chat events. Any field left nil is simply not
// invoked.
type Observers struct {
	OnMessage      func(chat.Envelope)
	OnError        func(error)
	OnStatusChange func(state sessionfsm.State)
}

// Manager owns one connection's transport, auth state, and local message
// history. It is not safe for concurrent Connect calls; Send/Disconnect
// may be called from any goroutine once Connect has returned.
type Manager struct {
	mu        sync.Mutex
	sess      *transport.Session
	client    *sessionfsm.Client
	observers Observers
	cancel    context.CancelFunc

	history []chat.Envelope
}

// New constructs an unconnected Manager with the given observers.
func New(observers Observers) *Manager {
	return &Manager{client: sessionfsm.NewClient(), observers: observers}
}

// State returns the underlying session/auth state machine's current state.
func (m *Manager) State() sessionfsm.State { return m.client.State() }

// View returns the session/profile recorded by the last successful
// authentication, and whether the connection is currently Authenticated.
func (m *Manager) View() (authproto.SessionView, authproto.ProfileView, bool) {
	return m.client.View()
}

// Connect dials addr, performs the transport handshake, and starts the
// background receive loop (spec.md §4.10). The loop checks for
// cancellation between reads, not during a blocked read.
func (m *Manager) Connect(ctx context.Context, addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("connmanager: dial %s: %w", addr, err)
	}
	sess := transport.New(conn)
	if err := sess.ClientHandshake(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("connmanager: handshake: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.sess = sess
	m.cancel = cancel
	m.mu.Unlock()

	go m.receiveLoop(runCtx)
	return nil
}

// Register sends a Register auth request and waits for the server's
// Response line.
func (m *Manager) Register(username, password, email string) (authproto.Response, error) {
	return m.authRoundTrip(authproto.Request{Type: authproto.RequestRegister, Username: username, Password: password, Email: email})
}

// Login sends a Login auth request and waits for the server's Response.
func (m *Manager) Login(username, password string) (authproto.Response, error) {
	return m.authRoundTrip(authproto.Request{Type: authproto.RequestLogin, Username: username, Password: password})
}

// Refresh sends a Refresh auth request carrying the currently held token.
func (m *Manager) Refresh(token string) (authproto.Response, error) {
	return m.authRoundTrip(authproto.Request{Type: authproto.RequestRefresh, Token: token})
}

// Logout sends a Logout auth request and transitions the state machine to
// Closing regardless of the server's reply.
func (m *Manager) Logout(token string) error {
	req, err := json.Marshal(authproto.Request{Type: authproto.RequestLogout, Token: token})
	if err != nil {
		return err
	}
	if err := m.send(string(req)); err != nil {
		return err
	}
	return m.client.LoggedOut()
}

// authRoundTrip drives the Unauthenticated -> Authenticating ->
// Authenticated|Unauthenticated transitions around one auth request/reply
// exchange (spec.md §4.6).
func (m *Manager) authRoundTrip(req authproto.Request) (authproto.Response, error) {
	if err := m.client.RequestSent(); err != nil {
		return authproto.Response{}, err
	}

	line, err := json.Marshal(req)
	if err != nil {
		return authproto.Response{}, err
	}
	if err := m.send(string(line)); err != nil {
		m.client.ResponseErr()
		return authproto.Response{}, err
	}

	reply, err := m.receiveRaw()
	if err != nil {
		m.client.ResponseErr()
		return authproto.Response{}, err
	}
	var resp authproto.Response
	if err := json.Unmarshal([]byte(reply), &resp); err != nil {
		m.client.ResponseErr()
		return authproto.Response{}, err
	}

	if resp.Status == authproto.StatusOk {
		m.client.ResponseOk(resp)
	} else {
		m.client.ResponseErr()
	}
	m.notifyStatus()
	return resp, nil
}

// SendChat encrypts line and writes it as one framed line. It does not
// record the line in the local history; History holds only envelopes
// received from the server.
func (m *Manager) SendChat(line string) error {
	return m.send(line)
}

func (m *Manager) send(line string) error {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("connmanager: not connected")
	}
	return sess.Send(line)
}

func (m *Manager) receiveRaw() (string, error) {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return "", fmt.Errorf("connmanager: not connected")
	}
	return sess.Receive()
}

// receiveLoop cooperatively polls Receive until ctx is cancelled or the
// transport fails, appending every decodable chat.Envelope to the local
// ring buffer and invoking OnMessage (spec.md §4.10/§5).
func (m *Manager) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := m.receiveRaw()
		if err != nil {
			m.notifyError(err)
			m.Disconnect()
			return
		}

		var env chat.Envelope
		if jsonErr := json.Unmarshal([]byte(line), &env); jsonErr != nil {
			// Not valid JSON. Ignore and keep polling. An auth Response is
			// valid JSON and decodes into an Envelope, so it does not land here.
			continue
		}
		m.record(env)
		if m.observers.OnMessage != nil {
			m.observers.OnMessage(env)
		}

		time.Sleep(pollInterval)
	}
}

func (m *Manager) record(env chat.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, env)
	if len(m.history) > RingBufferSize {
		m.history = m.history[len(m.history)-RingBufferSize:]
	}
}

// History returns a copy of the local message ring buffer.
func (m *Manager) History() []chat.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chat.Envelope, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Manager) notifyError(err error) {
	if m.observers.OnError != nil {
		m.observers.OnError(err)
	}
}

func (m *Manager) notifyStatus() {
	if m.observers.OnStatusChange != nil {
		m.observers.OnStatusChange(m.client.State())
	}
}

// Disconnect cancels the receive loop and closes the transport (spec.md
// §4.10: "Disconnect cancels the receive task and closes the transport;
// all observers receive a status change").
func (m *Manager) Disconnect() {
	m.mu.Lock()
	sess := m.sess
	cancel := m.cancel
	m.sess = nil
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		sess.Close()
	}
	m.client.Disconnected()
	m.notifyStatus()
}
