package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SessionTokenRoundTrip(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	raw, sid, expiresAt, err := m.GenerateSessionToken("user-1")
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.NotEmpty(t, sid)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := m.VerifySessionToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, sid, claims.SessionID())
}

func TestManager_RejectsExpiredToken(t *testing.T) {
	m := NewManager("test-secret", time.Minute)

	raw, _, _, err := m.GenerateSessionToken("user-1")
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err = m.VerifySessionToken(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_RejectsForeignSignature(t *testing.T) {
	issuer := NewManager("other-secret", time.Hour)
	verifier := NewManager("test-secret", time.Hour)

	raw, _, _, err := issuer.GenerateSessionToken("user-1")
	require.NoError(t, err)

	_, err = verifier.VerifySessionToken(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_RejectsMalformedToken(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	_, err := m.VerifySessionToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_RejectsWrongTokenType(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	now := time.Now()
	claims := Claims{
		UserID:    "user-1",
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "sid-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = m.VerifySessionToken(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
