package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
)

// ErrDecrypt is surfaced to callers when an AEAD open fails, mirroring
// spec.md §4.2's EncryptionError::Decrypt. It deliberately carries no
// detail about why (tampering vs. wrong key vs. corruption) to avoid
// leaking an oracle.
var ErrDecrypt = errors.New("crypto: decryption failed")

// AEAD wraps an AES-256-GCM cipher keyed by a derived connection key.
type AEAD struct {
	gcm cipher.AEAD
}

// NewAEAD constructs an AEAD from a 32-byte AES-256 key.
func NewAEAD(key [32]byte) (*AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AEAD{gcm: gcm}, nil
}

// Encrypt seals plaintext under a fresh random 12-byte nonce and returns
// the nonce alongside ciphertext||tag, ready for codec.EncodeEnvelope.
func (a *AEAD) Encrypt(plaintext []byte) (nonce [12]byte, ciphertext []byte, err error) {
	if _, err = rand.Read(nonce[:]); err != nil {
		return nonce, nil, err
	}
	ciphertext = a.gcm.Seal(nil, nonce[:], plaintext, nil)
	return nonce, ciphertext, nil
}

// Decrypt opens ciphertext||tag under nonce. Any tampering — including a
// single flipped bit anywhere in the envelope — causes this to fail with
// ErrDecrypt (spec.md §8).
func (a *AEAD) Decrypt(nonce [12]byte, ciphertext []byte) ([]byte, error) {
	plaintext, err := a.gcm.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
