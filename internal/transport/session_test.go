package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"lair-chat/internal/crypto"
)

func TestHandshakeRoundTripAndEncryptedExchange(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	server := New(serverConn)
	client := New(clientConn)

	var wg sync.WaitGroup
	var serverErr, clientErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		serverErr = server.ServerHandshake(context.Background(), "welcome")
	}()
	go func() {
		defer wg.Done()
		clientErr = client.ClientHandshake(context.Background())
	}()
	wg.Wait()

	if serverErr != nil {
		t.Fatalf("ServerHandshake: %v", serverErr)
	}
	if clientErr != nil {
		t.Fatalf("ClientHandshake: %v", clientErr)
	}
	if server.State() != StateEncrypted || client.State() != StateEncrypted {
		t.Fatalf("states = server:%v client:%v, want Encrypted/Encrypted", server.State(), client.State())
	}

	var recvErr error
	var got string
	wg.Add(2)
	go func() {
		defer wg.Done()
		recvErr = client.Send("hello server")
	}()
	go func() {
		defer wg.Done()
		got, _ = server.Receive()
	}()
	wg.Wait()
	if recvErr != nil {
		t.Fatalf("client.Send: %v", recvErr)
	}
	if got != "hello server" {
		t.Fatalf("got %q", got)
	}
}

func TestHandshakeMissingKeyOnEarlyClose(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	client := New(clientConn)
	serverConn.Close()

	err := client.ClientHandshake(context.Background())
	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) {
		t.Fatalf("err = %v, want *HandshakeError", err)
	}
	if hsErr.Kind != HandshakeMissingKey {
		t.Fatalf("kind = %v, want MissingKey", hsErr.Kind)
	}
	if client.State() != StateClosed {
		t.Fatalf("state = %v, want Closed", client.State())
	}
}

func TestHandshakeEncodingErrorOnBadBase64(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	client := New(clientConn)

	done := make(chan struct{})
	go func() {
		defer close(done)
		serverConn.Write([]byte("not-valid-base64!!!\n"))
	}()

	err := client.ClientHandshake(context.Background())
	<-done
	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) {
		t.Fatalf("err = %v, want *HandshakeError", err)
	}
	if hsErr.Kind != HandshakeEncoding {
		t.Fatalf("kind = %v, want Encoding", hsErr.Kind)
	}
}

func TestHandshakeKeySizeErrorOnShortKey(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	client := New(clientConn)
	short := base64.StdEncoding.EncodeToString([]byte("too-short"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		serverConn.Write([]byte(short + "\n"))
	}()

	err := client.ClientHandshake(context.Background())
	<-done
	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) {
		t.Fatalf("err = %v, want *HandshakeError", err)
	}
	if hsErr.Kind != HandshakeKeySize {
		t.Fatalf("kind = %v, want KeySize", hsErr.Kind)
	}
}

func TestHandshakeVerifyErrorOnBadWelcomeEnvelope(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	client := New(clientConn)
	server := New(serverConn)

	var wg sync.WaitGroup
	var clientErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		clientErr = client.ClientHandshake(context.Background())
	}()

	// Act as a malicious/broken server: send a real key, consume the
	// client's key, then send garbage instead of an AEAD envelope.
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if err := server.writeDeadlined(context.Background(), base64.StdEncoding.EncodeToString(kp.Public[:])); err != nil {
		t.Fatalf("write server key: %v", err)
	}
	if _, err := server.readDeadlined(context.Background()); err != nil {
		t.Fatalf("read client key: %v", err)
	}
	if err := server.writeDeadlined(context.Background(), base64.StdEncoding.EncodeToString([]byte("not an envelope"))); err != nil {
		t.Fatalf("write bogus envelope: %v", err)
	}

	wg.Wait()
	var hsErr *HandshakeError
	if !errors.As(clientErr, &hsErr) {
		t.Fatalf("err = %v, want *HandshakeError", clientErr)
	}
	if hsErr.Kind != HandshakeVerify {
		t.Fatalf("kind = %v, want Verify", hsErr.Kind)
	}
}

func TestHandshakeTimesOutWhenPeerStalls(t *testing.T) {
	old := handshakeTimeout
	handshakeTimeout = 20 * time.Millisecond
	defer func() { handshakeTimeout = old }()

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	client := New(clientConn)
	err := client.ClientHandshake(context.Background())
	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) {
		t.Fatalf("err = %v, want *HandshakeError", err)
	}
	if hsErr.Kind != HandshakeTimeout {
		t.Fatalf("kind = %v, want Timeout", hsErr.Kind)
	}
}

func TestSendReceiveRejectedBeforeHandshake(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	s := New(clientConn)
	if err := s.Send("x"); err == nil {
		t.Fatalf("expected error sending before handshake")
	}
	if _, err := s.Receive(); err == nil {
		t.Fatalf("expected error receiving before handshake")
	}
}
