// Package transport implements the TCP framing and handshake state machine
// that sits between the raw net.Conn and the post-handshake auth/chat
// protocols (spec.md §4.3). It owns the connection, the line-framing codec,
// and, once the handshake succeeds, the per-connection AEAD.
package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"lair-chat/internal/codec"
	"lair-chat/internal/crypto"
)

// State is one of the transport's three externally observable states.
type State string

const (
	StateConnected State = "connected"
	StateEncrypted State = "encrypted"
	StateClosed    State = "closed"
)

// DefaultHandshakeTimeout bounds the whole handshake exchange (spec.md
// §4.3/§6). A peer that stalls mid-handshake is disconnected rather than
// left to hold a goroutine open indefinitely.
const DefaultHandshakeTimeout = 10 * time.Second

// handshakeTimeout is the effective bound applied by runHandshake. It is a
// var, not a use of DefaultHandshakeTimeout directly, so tests can shrink it
// instead of waiting out the real default.
var handshakeTimeout = DefaultHandshakeTimeout

// HandshakeErrorKind enumerates the handshake failure taxonomy of spec.md
// §4.3.
type HandshakeErrorKind string

const (
	HandshakeMissingKey HandshakeErrorKind = "missing_key"
	HandshakeKeySize    HandshakeErrorKind = "key_size"
	HandshakeEncoding   HandshakeErrorKind = "encoding"
	HandshakeVerify     HandshakeErrorKind = "verify"
	HandshakeTimeout    HandshakeErrorKind = "timeout"
)

// HandshakeError reports why handshake() moved the session to Closed
// instead of Encrypted.
type HandshakeError struct {
	Kind HandshakeErrorKind
	Err  error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("handshake failed (%s)", e.Kind)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

func newHandshakeErr(kind HandshakeErrorKind, cause error) *HandshakeError {
	return &HandshakeError{Kind: kind, Err: cause}
}

// classifyIOErr turns a read/write failure during the handshake window into
// a HandshakeTimeout when it was the deadline firing, or HandshakeMissingKey
// for anything else (the peer went away before sending its key).
func classifyIOErr(err error) *HandshakeError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newHandshakeErr(HandshakeTimeout, err)
	}
	return newHandshakeErr(HandshakeMissingKey, err)
}

// Session owns one TCP connection plus its framing codec and, once
// handshake() succeeds, its AEAD. It mirrors the Connected -> handshake() ->
// Encrypted|Closed state machine of spec.md §4.3.
type Session struct {
	conn   net.Conn
	reader *codec.Reader

	mu    sync.Mutex
	state State
	aead  *crypto.AEAD
}

// New wraps conn in a Session in the Connected state. The caller is
// expected to have already established conn (spec.md's Unconnected ->
// connect() transition corresponds to net.Dial/the listener's Accept).
func New(conn net.Conn) *Session {
	return &Session{
		conn:   conn,
		reader: codec.NewReader(conn, codec.DefaultMaxLineSize),
		state:  StateConnected,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close transitions the session to Closed and closes the underlying
// connection. Calling Close more than once, or from any state, is safe.
func (s *Session) Close() error {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	return s.conn.Close()
}

// ServerHandshake runs the server side of the handshake (spec.md §4.3:
// "server mirror-image" of the client steps below): send the server's
// ephemeral public key first, receive the client's, derive the shared AES
// key, then send an encrypted welcome line so the client can confirm the
// exchange. welcome is typically a short human-readable greeting; its
// content carries no protocol meaning beyond "this decrypted".
func (s *Session) ServerHandshake(ctx context.Context, welcome string) error {
	return s.runHandshake(ctx, func(kp crypto.KeyPair) error {
		if err := s.writeDeadlined(ctx, codec.EncodeHandshakeKey(kp.Public)); err != nil {
			return classifyIOErr(err).asError()
		}

		peerPub, err := s.readPeerKey(ctx)
		if err != nil {
			return err
		}

		aead, err := s.deriveAEAD(kp, peerPub)
		if err != nil {
			return err
		}

		nonce, ciphertext, err := aead.Encrypt([]byte(welcome))
		if err != nil {
			return newHandshakeErr(HandshakeVerify, err)
		}
		if err := s.writeDeadlined(ctx, codec.EncodeEnvelope(nonce, ciphertext)); err != nil {
			return classifyIOErr(err).asError()
		}

		s.commit(aead)
		return nil
	})
}

// ClientHandshake runs the client side: receive the server's public key,
// send the client's own, derive the shared AES key, then receive and
// decrypt the server's welcome envelope. Successful decryption confirms
// the handshake (spec.md §4.3); the payload itself is discarded here, not
// inspected or checked for UTF-8.
func (s *Session) ClientHandshake(ctx context.Context) error {
	return s.runHandshake(ctx, func(kp crypto.KeyPair) error {
		peerPub, err := s.readPeerKey(ctx)
		if err != nil {
			return err
		}

		if err := s.writeDeadlined(ctx, codec.EncodeHandshakeKey(kp.Public)); err != nil {
			return classifyIOErr(err).asError()
		}

		aead, err := s.deriveAEAD(kp, peerPub)
		if err != nil {
			return err
		}

		line, err := s.readDeadlined(ctx)
		if err != nil {
			return classifyIOErr(err).asError()
		}
		nonce, ciphertext, err := codec.DecodeEnvelope(line)
		if err != nil {
			return newHandshakeErr(HandshakeVerify, err)
		}
		if _, err := aead.Decrypt(nonce, ciphertext); err != nil {
			return newHandshakeErr(HandshakeVerify, err)
		}

		s.commit(aead)
		return nil
	})
}

// runHandshake generates the ephemeral key pair, bounds the whole exchange
// by DefaultHandshakeTimeout, runs fn, and closes the connection on any
// failure (spec.md §4.3: a failed handshake ends in Closed).
func (s *Session) runHandshake(ctx context.Context, fn func(crypto.KeyPair) error) error {
	if s.State() != StateConnected {
		return newHandshakeErr(HandshakeVerify, errors.New("handshake called outside Connected state"))
	}

	deadline := time.Now().Add(handshakeTimeout)
	_ = s.conn.SetDeadline(deadline)
	defer s.conn.SetDeadline(time.Time{})

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		s.fail()
		return newHandshakeErr(HandshakeVerify, err)
	}

	if err := fn(kp); err != nil {
		s.fail()
		return err
	}
	return nil
}

func (s *Session) readPeerKey(ctx context.Context) ([32]byte, error) {
	var zero [32]byte
	line, err := s.readDeadlined(ctx)
	if err != nil {
		return zero, classifyIOErr(err).asError()
	}
	if line == "" {
		return zero, newHandshakeErr(HandshakeMissingKey, nil)
	}
	pub, decErr := decodeKeyStrict(line)
	if decErr != nil {
		return zero, decErr
	}
	return pub, nil
}

// decodeKeyStrict distinguishes HandshakeEncoding (malformed base64) from
// HandshakeKeySize (valid base64, wrong length) -- codec.DecodeHandshakeKey
// collapses both into one framing error, which loses the distinction
// spec.md §4.3 requires at this layer.
func decodeKeyStrict(line string) ([32]byte, *HandshakeError) {
	var zero [32]byte
	raw, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return zero, newHandshakeErr(HandshakeEncoding, err)
	}
	if len(raw) != 32 {
		return zero, newHandshakeErr(HandshakeKeySize, fmt.Errorf("got %d bytes, want 32", len(raw)))
	}
	var out [32]byte
	copy(out[:], raw)
	return out, nil
}

func (s *Session) deriveAEAD(kp crypto.KeyPair, peerPub [32]byte) (*crypto.AEAD, *HandshakeError) {
	shared, err := crypto.SharedSecret(kp.Private, peerPub)
	if err != nil {
		return nil, newHandshakeErr(HandshakeVerify, err)
	}
	aead, err := crypto.NewAEAD(crypto.DeriveAESKey(shared))
	if err != nil {
		return nil, newHandshakeErr(HandshakeVerify, err)
	}
	return aead, nil
}

func (s *Session) commit(aead *crypto.AEAD) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aead = aead
	s.state = StateEncrypted
}

func (s *Session) fail() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	_ = s.conn.Close()
}

func (s *Session) writeDeadlined(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return codec.WriteLine(s.conn, line)
}

func (s *Session) readDeadlined(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.reader.ReadLine()
}

// Send encrypts payload and writes it as one post-handshake line (spec.md
// §4.3: "Encrypted -> send(String) ... -> Encrypted"). It returns an error
// without changing state if called before the handshake completes.
func (s *Session) Send(payload string) error {
	s.mu.Lock()
	if s.state != StateEncrypted {
		s.mu.Unlock()
		return errors.New("transport: Send called outside Encrypted state")
	}
	aead := s.aead
	s.mu.Unlock()

	nonce, ciphertext, err := aead.Encrypt([]byte(payload))
	if err != nil {
		return err
	}
	return codec.WriteLine(s.conn, codec.EncodeEnvelope(nonce, ciphertext))
}

// Receive reads and decrypts one post-handshake line (spec.md §4.3:
// "receive() -> Option<String>"). A decryption failure is returned as
// crypto.ErrDecrypt and does not close the session; callers that want
// tamper-triggered disconnects should close it themselves.
func (s *Session) Receive() (string, error) {
	s.mu.Lock()
	if s.state != StateEncrypted {
		s.mu.Unlock()
		return "", errors.New("transport: Receive called outside Encrypted state")
	}
	aead := s.aead
	s.mu.Unlock()

	line, err := s.reader.ReadLine()
	if err != nil {
		return "", err
	}
	nonce, ciphertext, err := codec.DecodeEnvelope(line)
	if err != nil {
		return "", err
	}
	plaintext, err := aead.Decrypt(nonce, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// asError lets a *HandshakeError satisfy plain error-returning call sites
// without an explicit type switch at every call.
func (e *HandshakeError) asError() error { return e }
