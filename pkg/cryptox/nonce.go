package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashNonce returns the lowercase hex SHA-256 digest of an OIDC nonce. The
// digest is what travels to the identity provider and comes back inside the
// id token, the raw nonce stays with the client.
func HashNonce(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}

// NonceMatches reports whether claim is the digest of nonce. Hex case is
// ignored, providers echo the value verbatim but some clients upper-case it.
func NonceMatches(nonce, claim string) bool {
	if nonce == "" || claim == "" {
		return false
	}
	want := HashNonce(nonce)
	got := strings.ToLower(claim)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
