package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const sessionTokenType = "session"

// ErrInvalidToken covers every way a presented session token can be rejected:
// malformed, bad signature, expired, or the wrong token type.
var ErrInvalidToken = errors.New("invalid session token")

// Claims carry only the identity; the JWT id doubles as the session id.
type Claims struct {
	UserID    string `json:"id"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

func (c *Claims) SessionID() string {
	return c.ID
}

type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// GenerateSessionToken signs a new session token. The returned session id must
// be registered with the session store for the token to be accepted.
func (m *Manager) GenerateSessionToken(userID string) (raw string, sessionID string, expiresAt time.Time, err error) {
	now := m.now().UTC()
	sessionID = uuid.NewString()
	expiresAt = now.Add(m.ttl)

	claims := Claims{
		UserID:    userID,
		TokenType: sessionTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	raw, err = token.SignedString(m.secret)

	return
}

func (m *Manager) ParseAndValidate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		// Enforce HS256
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)

	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (m *Manager) VerifySessionToken(tokenStr string) (*Claims, error) {
	claims, err := m.ParseAndValidate(tokenStr)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != sessionTokenType {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrInvalidToken, claims.TokenType)
	}

	if claims.UserID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing identity", ErrInvalidToken)
	}

	return claims, nil
}
