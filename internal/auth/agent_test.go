package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lmdudester/clawd/internal/auth"
)

func TestVerifySessionToken(t *testing.T) {
	want := []byte("super-secret-session-token")

	assert.True(t, auth.VerifySessionToken(want, []byte("super-secret-session-token")))
	assert.False(t, auth.VerifySessionToken(want, []byte("wrong-token")))
	assert.False(t, auth.VerifySessionToken(want, []byte("short")))
	assert.False(t, auth.VerifySessionToken(want, nil))
}

type fakeManagerTokenValidator struct {
	tokens map[string]string
}

func (f fakeManagerTokenValidator) ValidateManagerToken(token string) (string, bool) {
	sessionID, ok := f.tokens[token]
	return sessionID, ok
}

func TestManagerTokenValidator(t *testing.T) {
	v := fakeManagerTokenValidator{tokens: map[string]string{"mgr-token-1": "session-123"}}

	var validator auth.ManagerTokenValidator = v

	sessionID, ok := validator.ValidateManagerToken("mgr-token-1")
	assert.True(t, ok)
	assert.Equal(t, "session-123", sessionID)

	_, ok = validator.ValidateManagerToken("unknown")
	assert.False(t, ok)
}
