package middlewares_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/geocoder89/userauth/internal/actorctx"
	"github.com/geocoder89/userauth/internal/auth"
	"github.com/geocoder89/userauth/internal/http/middlewares"
	"github.com/geocoder89/userauth/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeVerifier struct {
	claims *auth.Claims
	err    error
}

func (f fakeVerifier) VerifySessionToken(string) (*auth.Claims, error) {
	return f.claims, f.err
}

type fakeSessions struct {
	sess session.Session
	err  error
}

func (f fakeSessions) Get(context.Context, string) (session.Session, error) {
	return f.sess, f.err
}

func claimsFor(userID, sid string) *auth.Claims {
	return &auth.Claims{UserID: userID, TokenType: "session", RegisteredClaims: jwt.RegisteredClaims{ID: sid}}
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func guardedRouter(log *slog.Logger, v middlewares.TokenVerifier, s middlewares.SessionLookup) *gin.Engine {
	r := gin.New()
	g := middlewares.NewSessionGuard(log, v, s)

	r.GET("/me", g.RequireSession(), func(c *gin.Context) {
		uid, _ := actorctx.UserIDFrom(c.Request.Context())
		sid, _ := actorctx.SessionIDFrom(c.Request.Context())
		c.String(http.StatusOK, uid+"/"+sid)
	})
	return r
}

func TestSessionGuard(t *testing.T) {
	tests := []struct {
		name       string
		cookie     string
		verifier   fakeVerifier
		sessions   fakeSessions
		wantStatus int
		wantBody   string
		wantLog    string
	}{
		{
			name:       "missing cookie",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid token",
			cookie:     "garbage",
			verifier:   fakeVerifier{err: auth.ErrInvalidToken},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "verifier failure",
			cookie:     "tok",
			verifier:   fakeVerifier{err: errors.New("key service down")},
			wantStatus: http.StatusInternalServerError,
			wantLog:    "session token verification failed",
		},
		{
			name:       "revoked session",
			cookie:     "tok",
			verifier:   fakeVerifier{claims: claimsFor("u-1", "s-1")},
			sessions:   fakeSessions{err: session.ErrNotFound},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "session belongs to someone else",
			cookie:     "tok",
			verifier:   fakeVerifier{claims: claimsFor("u-1", "s-1")},
			sessions:   fakeSessions{sess: session.Session{ID: "s-1", UserID: "u-2"}},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "session store failure",
			cookie:     "tok",
			verifier:   fakeVerifier{claims: claimsFor("u-1", "s-1")},
			sessions:   fakeSessions{err: errors.New("redis down")},
			wantStatus: http.StatusInternalServerError,
			wantLog:    "session lookup failed",
		},
		{
			name:       "valid session",
			cookie:     "tok",
			verifier:   fakeVerifier{claims: claimsFor("u-1", "s-1")},
			sessions:   fakeSessions{sess: session.Session{ID: "s-1", UserID: "u-1", ExpiresAt: time.Now().Add(time.Hour)}},
			wantStatus: http.StatusOK,
			wantBody:   "u-1/s-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, buf := bufferLogger()
			r := guardedRouter(log, tt.verifier, tt.sessions)

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: middlewares.SessionCookieName, Value: tt.cookie})
			}

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Fatalf("got body %q, want %q", w.Body.String(), tt.wantBody)
			}
			if tt.wantLog != "" && !bytes.Contains(buf.Bytes(), []byte(tt.wantLog)) {
				t.Fatalf("log %q does not mention %q", buf.String(), tt.wantLog)
			}
		})
	}
}

func TestRequireJSON(t *testing.T) {
	r := gin.New()
	r.Use(middlewares.RequireJSON())
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`email=a`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusUnsupportedMediaType)
	}

	req = httptest.NewRequest(http.MethodPost, "/x", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("bodyless POST got status %d, want %d", w.Code, http.StatusOK)
	}
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(middlewares.CORSMiddleware([]string{"http://localhost:3000"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight got status %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("expected credentials to be allowed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin must not be allowed, got %q", got)
	}
}

func TestRequestID_EchoesOrGenerates(t *testing.T) {
	r := gin.New()
	r.Use(middlewares.RequestID())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(middlewares.CtxRequestID)) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Body.String() != "abc" || w.Header().Get("X-Request-Id") != "abc" {
		t.Fatalf("request id not propagated: body=%q header=%q", w.Body.String(), w.Header().Get("X-Request-Id"))
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected a generated request id")
	}
}

func limitedRouter(log *slog.Logger, l middlewares.Limiter) *gin.Engine {
	r := gin.New()
	r.POST("/login", middlewares.RateLimit(log, l, middlewares.KeyByIP), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func hitLogin(r *gin.Engine, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = ip + ":1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	limiters := map[string]middlewares.Limiter{
		"memory": middlewares.NewMemoryLimiter(2, time.Minute),
		"redis":  middlewares.NewRedisLimiter(rdb, 2, time.Minute),
	}

	for name, l := range limiters {
		t.Run(name, func(t *testing.T) {
			log, _ := bufferLogger()
			r := limitedRouter(log, l)

			for i := 0; i < 2; i++ {
				if w := hitLogin(r, "10.0.0.1"); w.Code != http.StatusNoContent {
					t.Fatalf("hit %d: got %d", i, w.Code)
				}
			}

			w := hitLogin(r, "10.0.0.1")
			if w.Code != http.StatusTooManyRequests {
				t.Fatalf("got %d, want 429", w.Code)
			}
			if w.Header().Get("Retry-After") == "" {
				t.Fatalf("missing Retry-After")
			}

			// other clients have their own budget
			if w := hitLogin(r, "10.0.0.2"); w.Code != http.StatusNoContent {
				t.Fatalf("second client got %d", w.Code)
			}
		})
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 0, errors.New("redis down")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	log, buf := bufferLogger()
	r := limitedRouter(log, brokenLimiter{})

	if w := hitLogin(r, "10.0.0.1"); w.Code != http.StatusNoContent {
		t.Fatalf("got %d, want request to pass", w.Code)
	}
	if !bytes.Contains(buf.Bytes(), []byte("rate limiter unavailable")) {
		t.Fatalf("limiter failure not logged: %q", buf.String())
	}
}
