package middlewares

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/geocoder89/userauth/internal/actorctx"
	"github.com/geocoder89/userauth/internal/auth"
	"github.com/geocoder89/userauth/internal/session"
	"github.com/gin-gonic/gin"
)

// Keep these interfaces small so tests can fake them easily.
type TokenVerifier interface {
	VerifySessionToken(token string) (*auth.Claims, error)
}

type SessionLookup interface {
	Get(ctx context.Context, id string) (session.Session, error)
}

// SessionGuard admits a request only when its session cookie carries a
// valid token whose session is still registered.
type SessionGuard struct {
	log      *slog.Logger
	tokens   TokenVerifier
	sessions SessionLookup
}

func NewSessionGuard(log *slog.Logger, tokens TokenVerifier, sessions SessionLookup) *SessionGuard {
	if log == nil {
		log = slog.Default()
	}
	return &SessionGuard{log: log, tokens: tokens, sessions: sessions}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"message": message,
		"error": gin.H{
			"code":    "unauthorized",
			"message": message,
		},
	})
}

func (g *SessionGuard) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(SessionCookieName)
		if err != nil || raw == "" {
			unauthorized(c, "Unauthorized access")
			return
		}

		claims, err := g.tokens.VerifySessionToken(raw)
		if errors.Is(err, auth.ErrInvalidToken) {
			unauthorized(c, "Invalid or expired session")
			return
		}
		if err != nil {
			g.log.ErrorContext(c.Request.Context(), "session token verification failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"message": "Internal server error",
				"error": gin.H{
					"code":    "internal_error",
					"message": "Internal server error",
				},
			})
			return
		}

		sess, err := g.sessions.Get(c.Request.Context(), claims.SessionID())
		if errors.Is(err, session.ErrNotFound) || (err == nil && sess.UserID != claims.UserID) {
			unauthorized(c, "Session has ended")
			return
		}
		if err != nil {
			g.log.ErrorContext(c.Request.Context(), "session lookup failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"message": "Internal server error",
				"error": gin.H{
					"code":    "internal_error",
					"message": "Internal server error",
				},
			})
			return
		}

		// Stash the identity for handlers and anything below them.
		ctx := actorctx.WithUserID(c.Request.Context(), claims.UserID)
		ctx = actorctx.WithSessionID(ctx, sess.ID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
