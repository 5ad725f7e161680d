// Package crypto implements the cryptographic core of the transport: X25519
// ephemeral key exchange, SHA-256 key derivation with a fixed domain
// separation tag, AES-256-GCM authenticated encryption, and Argon2id
// password hashing (spec.md §4.2).
//
// The X25519 scalar multiplication is grounded in avahowell-occlude's use
// of golang.org/x/crypto for its key-exchange primitives; AES-GCM and
// SHA-256 use the standard library, which is the idiomatic choice for
// AEAD/hashing in Go (see DESIGN.md).
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/curve25519"
)

// aesKeyDomainTag is the literal ASCII domain-separation string mixed into
// the AES key derivation. It MUST be byte-exact for wire compatibility
// (spec.md §4.2/§6).
const aesKeyDomainTag = "LAIR_CHAT_AES_KEY"

// ErrWeakPublicKey is returned when a peer's X25519 public key multiplies
// to the all-zero point (a known low-order/invalid-point attack against
// curve25519 implementations).
var ErrWeakPublicKey = errors.New("crypto: peer public key produces a degenerate shared secret")

// KeyPair is an ephemeral X25519 key pair generated fresh per connection.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateKeyPair creates a fresh ephemeral X25519 key pair using
// crypto/rand as the entropy source.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return kp, err
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return kp, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret performs the X25519 Diffie-Hellman computation with the
// local private key and a peer's public key.
func SharedSecret(priv [32]byte, peerPub [32]byte) ([]byte, error) {
	shared, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return nil, err
	}
	allZero := true
	for _, b := range shared {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil, ErrWeakPublicKey
	}
	return shared, nil
}

// DeriveAESKey computes aes_key = SHA-256(shared || "LAIR_CHAT_AES_KEY"),
// exactly as spec.md §4.2/§8 requires for interoperability and test
// determinism.
func DeriveAESKey(shared []byte) [32]byte {
	buf := make([]byte, 0, len(shared)+len(aesKeyDomainTag))
	buf = append(buf, shared...)
	buf = append(buf, aesKeyDomainTag...)
	return sha256.Sum256(buf)
}
