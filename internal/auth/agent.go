package auth

import "crypto/subtle"

// VerifySessionToken reports whether candidate matches the session's
// bearer token. Used by the Internal WS Hub's auth handshake;
// comparison is constant-time since the token is a bearer
// secret, not a public identifier.
func VerifySessionToken(want, candidate []byte) bool {
	if len(want) != len(candidate) {
		return false
	}
	return subtle.ConstantTimeCompare(want, candidate) == 1
}

// ManagerTokenValidator authenticates the alternate client auth path for
// manager sessions: a scoped API token instead of a user bearer JWT.
// Set once at startup; nil means the path is disabled.
type ManagerTokenValidator interface {
	// ValidateManagerToken reports whether token is a live manager API
	// token, and the session id it's scoped to.
	ValidateManagerToken(token string) (sessionID string, ok bool)
}
