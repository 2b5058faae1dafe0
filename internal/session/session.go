// Package session is the server-side registry of live login sessions. A
// signed session token is only honoured while its session id is registered
// here, which is what lets logout and password reset cut access immediately.
package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
}

type Store interface {
	Create(ctx context.Context, s Session) error
	// Get returns ErrNotFound for unknown, revoked or expired sessions.
	Get(ctx context.Context, id string) (Session, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}
