package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// OpaqueTokenBytes is the entropy of verification and reset tokens (64 hex chars).
const OpaqueTokenBytes = 32

// GenerateOpaqueToken returns a random hex token for an email link together
// with the digest that gets persisted.
func GenerateOpaqueToken() (raw string, hash string, err error) {
	b := make([]byte, OpaqueTokenBytes)

	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}

	raw = hex.EncodeToString(b)

	return raw, HashOpaqueToken(raw), nil
}

// HashOpaqueToken is deterministic so stores can look tokens up by digest.
func HashOpaqueToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
