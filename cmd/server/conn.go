package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"

	"lair-chat/internal/authproto"
	"lair-chat/internal/chat"
	"lair-chat/internal/config"
	"lair-chat/internal/errs"
	"lair-chat/internal/sessionfsm"
	"lair-chat/internal/transport"
	"lair-chat/internal/validate"
)

// serverDeps bundles every collaborator one connection's handler needs.
// It is built once in main and shared read-only across connections,
// following spec.md §9's REDESIGN FLAG against package-level global
// state: nothing here is a package variable.
type serverDeps struct {
	cfg       config.Config
	auth      *authHandler
	validator *validate.Validator
	chatSvc   *chat.Service
	hub       *chat.Hub
	conns     *connCounter
	errStats  *errs.Stats
}

// connCounter is the ConnectionCounter the operator HTTP surface polls
// (internal/api.ConnectionCounter).
type connCounter struct {
	mu    sync.Mutex
	count int
}

func (c *connCounter) inc() {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

func (c *connCounter) dec() {
	c.mu.Lock()
	c.count--
	c.mu.Unlock()
}

func (c *connCounter) ActiveConnections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// serveConn runs the handshake then the post-handshake read loop for one
// accepted connection (spec.md §4.3/§4.6): before authentication only
// auth Requests are accepted; afterward every line is a validated chat
// command. It returns once the peer disconnects or a fatal framing error
// occurs.
func serveConn(ctx context.Context, conn net.Conn, deps *serverDeps) {
	deps.conns.inc()
	defer deps.conns.dec()
	defer conn.Close()

	sess := transport.New(conn)
	if err := sess.ServerHandshake(ctx, "lair-chat"); err != nil {
		slog.Debug("handshake failed", "remote", conn.RemoteAddr(), "err", err)
		return
	}

	fsm := sessionfsm.NewServer()
	fsm.OnAuthFailed(func(reason string) {
		slog.Info("authentication failed", "remote", conn.RemoteAddr(), "reason", reason)
	})

	var writeMu sync.Mutex
	send := func(line string) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return sess.Send(line)
	}

	done := make(chan struct{})
	defer close(done)

	var (
		mailbox *chat.Mailbox
		userID  string
	)
	defer func() {
		if mailbox != nil {
			deps.hub.Unregister(userID, mailbox)
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(deps.cfg.Server.ConnectionTimeout))
		line, err := sess.Receive()
		if err != nil {
			return
		}

		if _, user, ok := fsm.Authenticated(); ok {
			handleChatLine(ctx, deps, send, user.ID, line)
		} else {
			handleAuthLine(ctx, deps, fsm, send, line)
		}

		if mailbox == nil {
			if _, user, ok := fsm.Authenticated(); ok {
				userID = user.ID
				mailbox = deps.hub.Register(userID)
				go pumpMailbox(mailbox, send, done)
			}
		}

		if fsm.State() == sessionfsm.StateClosing {
			return
		}
	}
}

// handleAuthLine decodes one pre-auth line as an authproto.Request and
// replies with the Response the auth handler produces. Anything that does
// not parse as a Request is rejected with the wire-safe Unauthenticated
// error (spec.md §4.6: "any other input yields Err{code: Unauthenticated}").
func handleAuthLine(ctx context.Context, deps *serverDeps, fsm *sessionfsm.Server, send func(string) error, line string) {
	var req authproto.Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		e := errs.Unauthenticated()
		deps.errStats.Record(e)
		_ = send(mustEncode(e.ToWire()))
		return
	}
	resp := deps.auth.handle(ctx, fsm, req)
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = send(string(body))
}

// handleChatLine runs one post-auth line through the validator and, if
// accepted, the chat service, replying with the resulting Envelope or a
// wire-safe error (spec.md §4.7/§4.9).
func handleChatLine(ctx context.Context, deps *serverDeps, send func(string) error, userID, line string) {
	validated, verr := deps.validator.Validate(userID, line)
	if verr != nil {
		deps.errStats.Record(verr)
		_ = send(errEnvelope(verr))
		return
	}

	env, derr := deps.chatSvc.Dispatch(ctx, userID, validated.Command, validated.Arguments)
	if derr != nil {
		deps.errStats.Record(derr)
		_ = send(errEnvelope(derr))
		return
	}

	encoded, err := env.Encode()
	if err != nil {
		return
	}
	_ = send(encoded)
}

func errEnvelope(e *errs.Error) string {
	wire := e.ToWire()
	line, err := chat.Envelope{Type: chat.EnvError, Code: wire.Code, Reason: wire.Message}.Encode()
	if err != nil {
		return `{"type":"error","code":"Internal","reason":"an internal error occurred"}`
	}
	return line
}

func mustEncode(wire errs.Wire) string {
	line, err := chat.Envelope{Type: chat.EnvError, Code: wire.Code, Reason: wire.Message}.Encode()
	if err != nil {
		return `{"type":"error","code":"Internal","reason":"an internal error occurred"}`
	}
	return line
}

// pumpMailbox drains mb onto the connection's write path until it closes
// or the connection's done channel fires, mirroring the teacher's
// per-client writer goroutine over userState.send
// (rustyguts-bken/server/internal/core/channel_state.go).
func pumpMailbox(mb *chat.Mailbox, send func(string) error, done <-chan struct{}) {
	for {
		select {
		case line, ok := <-mb.C():
			if !ok {
				return
			}
			if err := send(line); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
