package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2Params configures the memory-hard KDF used for password hashing
// (spec.md §4.2). Defaults below are acceptable for a single-operator
// deployment; production deployments should tune MemoryCost upward.
type Argon2Params struct {
	MemoryCost  uint32 // KiB
	TimeCost    uint32
	Parallelism uint8
	HashLength  uint32
	SaltLength  uint32
}

// DefaultArgon2Params returns conservative, operator-overridable defaults.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		MemoryCost:  64 * 1024,
		TimeCost:    3,
		Parallelism: 2,
		HashLength:  32,
		SaltLength:  16,
	}
}

// HashPassword derives a per-user random salt and Argon2id hash for
// password, returning both as base64 strings suitable for storage in the
// users table's password_hash/salt columns.
func HashPassword(password string, params Argon2Params) (hash, salt string, err error) {
	saltBytes := make([]byte, params.SaltLength)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", "", err
	}
	sum := argon2.IDKey([]byte(password), saltBytes, params.TimeCost, params.MemoryCost, params.Parallelism, params.HashLength)
	return base64.RawStdEncoding.EncodeToString(sum), base64.RawStdEncoding.EncodeToString(saltBytes), nil
}

// VerifyPassword re-derives the Argon2id hash for password using the
// stored salt and params, then compares it to the stored hash in constant
// time (spec.md §4.2's "verification is constant-time" requirement).
func VerifyPassword(password, storedHash, storedSalt string, params Argon2Params) (bool, error) {
	saltBytes, err := base64.RawStdEncoding.DecodeString(storedSalt)
	if err != nil {
		return false, fmt.Errorf("crypto: decode salt: %w", err)
	}
	wantHash, err := base64.RawStdEncoding.DecodeString(storedHash)
	if err != nil {
		return false, fmt.Errorf("crypto: decode hash: %w", err)
	}
	got := argon2.IDKey([]byte(password), saltBytes, params.TimeCost, params.MemoryCost, params.Parallelism, uint32(len(wantHash)))
	return subtle.ConstantTimeCompare(got, wantHash) == 1, nil
}
