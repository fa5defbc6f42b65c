// Package crypto provides credential hashing for the relay.
//
// Clients never send a raw password: they send a SHA-256 digest of it
// (the protocol's password_hash field). The server treats that digest as
// the credential and stores an Argon2id derivation of it, so a database
// leak exposes neither passwords nor replayable credentials.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16

	// credentialScheme prefixes stored credentials so the format can be
	// migrated later.
	credentialScheme = "argon2id"
)

// DigestPassword computes the client-side credential digest sent on the
// wire as password_hash.
func DigestPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// HashCredential derives a storable credential from the wire digest.
// Output format: "argon2id$<salt hex>$<key hex>".
func HashCredential(digest string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("crypto: generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(digest), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return credentialScheme + "$" + hex.EncodeToString(salt) + "$" + hex.EncodeToString(key), nil
}

// VerifyCredential reports whether the wire digest matches a stored
// credential. Unknown or corrupt stored formats never match.
func VerifyCredential(stored, digest string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 3 || parts[0] != credentialScheme {
		return false
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(parts[2])
	if err != nil || len(want) != argonKeyLen {
		return false
	}
	got := argon2.IDKey([]byte(digest), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(want, got) == 1
}
