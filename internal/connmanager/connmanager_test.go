package connmanager

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"lair-chat/internal/authproto"
	"lair-chat/internal/chat"
	"lair-chat/internal/sessionfsm"
	"lair-chat/internal/transport"
)

// fakeServer accepts one connection, completes the handshake, and runs a
// caller-supplied handler against the resulting transport.Session --
// enough to drive a Manager through Register/Login/SendChat without
// standing up the full cmd/server wiring.
func fakeServer(t *testing.T, handle func(*transport.Session)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		sess := transport.New(conn)
		if err := sess.ServerHandshake(context.Background(), "lair-chat"); err != nil {
			return
		}
		handle(sess)
	}()
	return ln.Addr().String()
}

func TestConnectPerformsHandshakeAndReachesUnauthenticated(t *testing.T) {
	addr := fakeServer(t, func(sess *transport.Session) {
		sess.Receive() // drain whatever the client sends, then hang up
	})

	mgr := New(Observers{})
	if err := mgr.Connect(context.Background(), addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer mgr.Disconnect()

	if mgr.State() != sessionfsm.StateUnauthenticated {
		t.Fatalf("State() = %v, want Unauthenticated", mgr.State())
	}
}

func TestLoginRoundTripAuthenticates(t *testing.T) {
	addr := fakeServer(t, func(sess *transport.Session) {
		line, err := sess.Receive()
		if err != nil {
			return
		}
		var req authproto.Request
		if err := json.Unmarshal([]byte(line), &req); err != nil || req.Type != authproto.RequestLogin {
			return
		}
		resp := authproto.Ok(
			authproto.SessionView{ID: "sess-1", Token: "tok-1", CreatedAt: 1, ExpiresAt: 2},
			authproto.ProfileView{ID: "user-1", Username: req.Username, Roles: []string{"user"}},
		)
		body, _ := json.Marshal(resp)
		sess.Send(string(body))
	})

	var gotState sessionfsm.State
	mgr := New(Observers{OnStatusChange: func(s sessionfsm.State) { gotState = s }})
	if err := mgr.Connect(context.Background(), addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer mgr.Disconnect()

	resp, err := mgr.Login("alice", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Status != authproto.StatusOk {
		t.Fatalf("resp.Status = %v, want ok", resp.Status)
	}
	if mgr.State() != sessionfsm.StateAuthenticated {
		t.Fatalf("State() = %v, want Authenticated", mgr.State())
	}
	if gotState != sessionfsm.StateAuthenticated {
		t.Fatalf("OnStatusChange last reported %v, want Authenticated", gotState)
	}

	session, profile, ok := mgr.View()
	if !ok {
		t.Fatalf("View() ok = false, want true once authenticated")
	}
	if session.Token != "tok-1" || profile.Username != "alice" {
		t.Fatalf("View() = %+v / %+v", session, profile)
	}
}

func TestLoginFailureStaysUnauthenticated(t *testing.T) {
	addr := fakeServer(t, func(sess *transport.Session) {
		if _, err := sess.Receive(); err != nil {
			return
		}
		body, _ := json.Marshal(authproto.Err("AuthenticationFailed", "invalid credentials"))
		sess.Send(string(body))
	})

	mgr := New(Observers{})
	if err := mgr.Connect(context.Background(), addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer mgr.Disconnect()

	resp, err := mgr.Login("alice", "wrong")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Status != authproto.StatusErr {
		t.Fatalf("resp.Status = %v, want err", resp.Status)
	}
	if mgr.State() != sessionfsm.StateUnauthenticated {
		t.Fatalf("State() = %v, want Unauthenticated after a failed login", mgr.State())
	}
}

func TestReceiveLoopRecordsChatEnvelopesAndNotifies(t *testing.T) {
	addr := fakeServer(t, func(sess *transport.Session) {
		env := chat.Envelope{Type: chat.EnvMessage, Message: &chat.MessageView{RoomID: "r1", AuthorID: "bob", Content: "hi"}}
		line, _ := env.Encode()
		sess.Send(line)
		sess.Receive() // keep the connection open until the client disconnects
	})

	received := make(chan chat.Envelope, 1)
	mgr := New(Observers{OnMessage: func(e chat.Envelope) { received <- e }})
	if err := mgr.Connect(context.Background(), addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer mgr.Disconnect()

	select {
	case env := <-received:
		if env.Type != chat.EnvMessage || env.Message == nil || env.Message.Content != "hi" {
			t.Fatalf("got envelope %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnMessage")
	}

	history := mgr.History()
	if len(history) != 1 || history[0].Message.Content != "hi" {
		t.Fatalf("History() = %+v", history)
	}
}
