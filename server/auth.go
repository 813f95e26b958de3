package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// bearerPrefix is matched case-sensitively with exactly one space.
const bearerPrefix = "Bearer "

// Authenticator checks the Authorization header against one shared token.
// Tokens are compared as fixed-length digests in constant time, so neither
// content nor length leaks through timing.
type Authenticator struct {
	digest [blake2b.Size256]byte
}

// NewAuthenticator creates an Authenticator for token.
func NewAuthenticator(token string) *Authenticator {
	return &Authenticator{digest: blake2b.Sum256([]byte(token))}
}

// Check reports whether header is "Bearer <token>" for the configured token.
func (a *Authenticator) Check(header string) bool {
	presented, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok {
		return false
	}
	digest := blake2b.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(digest[:], a.digest[:]) == 1
}

// CheckRequest applies Check to r's Authorization header.
func (a *Authenticator) CheckRequest(r *http.Request) bool {
	return a.Check(r.Header.Get("Authorization"))
}
