//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/geocoder89/userauth/internal/auth"
	"github.com/geocoder89/userauth/internal/db"
	apphttp "github.com/geocoder89/userauth/internal/http"
	"github.com/geocoder89/userauth/internal/http/handlers"
	"github.com/geocoder89/userauth/internal/http/middlewares"
	"github.com/geocoder89/userauth/internal/notifications"
	"github.com/geocoder89/userauth/internal/observability"
	"github.com/geocoder89/userauth/internal/repo/postgres"
	"github.com/geocoder89/userauth/internal/service"
	"github.com/geocoder89/userauth/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const usersPrefix = "/api/v1/users"

type outbox struct {
	mu    sync.Mutex
	links []string
}

func (o *outbox) SendVerificationEmail(_ context.Context, in notifications.VerificationEmailInput) error {
	o.push(in.Link)
	return nil
}

func (o *outbox) SendPasswordResetEmail(_ context.Context, in notifications.PasswordResetEmailInput) error {
	o.push(in.Link)
	return nil
}

func (o *outbox) push(link string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.links = append(o.links, link)
}

func (o *outbox) lastToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.links) == 0 {
		t.Fatalf("no email sent")
	}
	return path.Base(o.links[len(o.links)-1])
}

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	pg, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("userauth"),
		tcpostgres.WithUsername("userauth"),
		tcpostgres.WithPassword("userauth"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	return dsn
}

func setupAuthTestRouter(t *testing.T) (*gin.Engine, *pgxpool.Pool, *outbox) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := startPostgres(t)

	m, err := db.NewMigrator(dsn)
	if err != nil {
		t.Fatalf("migrator: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	_ = m.Close()

	ctx := context.Background()

	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	users := postgres.NewUsersRepo(pool, prom)
	sessions := session.NewRedisStore(rdb)
	tokens := auth.NewManager("test-secret-key", time.Hour)
	mail := &outbox{}

	svc := service.NewAuthService(service.Options{
		Users:    users,
		Sessions: sessions,
		Tokens:   tokens,
		Notifier: mail,
		Log:      logger,
		Metrics:  prom,
		BaseURL:  "http://localhost:4000",
	})

	router := apphttp.NewRouter(apphttp.Deps{
		Log:      logger,
		Env:      "test",
		Auth:     svc,
		Tokens:   tokens,
		Sessions: sessions,
		Prom:     prom,
		Gatherer: reg,
		Checks: map[string]handlers.PingFunc{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})

	return router, pool, mail
}

// helpers

func doRequest(router http.Handler, method, target string, body string, cookies ...*http.Cookie) (*httptest.ResponseRecorder, *http.Response) {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	for _, c := range cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w, w.Result()
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func mustReadJSON[T any](t *testing.T, w *httptest.ResponseRecorder, out *T) {
	t.Helper()
	err := json.Unmarshal(w.Body.Bytes(), out)
	if err != nil {
		t.Fatalf("failed to unmarshal json: %v, body=%s", err, w.Body.String())
	}
}

func extractSessionCookie(t *testing.T, response *http.Response) *http.Cookie {
	t.Helper()

	for _, c := range response.Cookies() {
		if c.Name == middlewares.SessionCookieName {
			return c
		}
	}

	t.Fatalf("%s cookie not found in response", middlewares.SessionCookieName)
	return nil
}

func expectStatus(t *testing.T, step string, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("%s got status %d, want %d, body=%s", step, w.Code, want, w.Body.String())
	}
}

func TestAuthIntegration_Register_Verify_Login_Logout_Reset(t *testing.T) {
	router, pool, mail := setupAuthTestRouter(t)

	w, _ := doRequest(router, http.MethodGet, "/readyz", "")
	expectStatus(t, "readyz", w, http.StatusOK)

	// register
	w, _ = doRequest(router, http.MethodPost, usersPrefix+"/register",
		`{"email":"sam@example.com","name":"Sam Doe","password":"password123"}`)
	expectStatus(t, "register", w, http.StatusCreated)

	// the same address in another case is a duplicate
	w, _ = doRequest(router, http.MethodPost, usersPrefix+"/register",
		`{"email":"SAM@example.com","name":"Sam Again","password":"password123"}`)
	expectStatus(t, "register duplicate", w, http.StatusBadRequest)

	// the raw token never reaches the database
	var stored string
	err := pool.QueryRow(context.Background(),
		`SELECT verification_token_hash FROM users WHERE email = 'sam@example.com'`).Scan(&stored)
	if err != nil {
		t.Fatalf("read token hash: %v", err)
	}
	verifyToken := mail.lastToken(t)
	if stored == verifyToken {
		t.Fatalf("verification token stored in plain text")
	}

	// verify
	w, _ = doRequest(router, http.MethodGet, usersPrefix+"/verify/"+verifyToken, "")
	expectStatus(t, "verify", w, http.StatusOK)
	var env envelope
	mustReadJSON(t, w, &env)
	if !env.Success {
		t.Fatalf("verify expected success, body=%s", w.Body.String())
	}

	w, _ = doRequest(router, http.MethodGet, usersPrefix+"/verify/"+verifyToken, "")
	mustReadJSON(t, w, &env)
	if env.Success || env.Message != "token invalid" {
		t.Fatalf("verify replay should be soft-rejected, body=%s", w.Body.String())
	}

	// login
	w, response := doRequest(router, http.MethodPost, usersPrefix+"/login",
		`{"email":"sam@example.com","password":"password123"}`)
	expectStatus(t, "login", w, http.StatusOK)
	cookie := extractSessionCookie(t, response)

	w, _ = doRequest(router, http.MethodGet, usersPrefix+"/get-profile", "", cookie)
	expectStatus(t, "get-profile", w, http.StatusOK)

	var profile struct {
		User struct {
			Email      string `json:"email"`
			IsVerified bool   `json:"isVerified"`
		} `json:"user"`
	}
	mustReadJSON(t, w, &profile)
	if profile.User.Email != "sam@example.com" || !profile.User.IsVerified {
		t.Fatalf("unexpected profile: %s", w.Body.String())
	}

	// logout revokes the session in redis
	w, _ = doRequest(router, http.MethodPost, usersPrefix+"/logout", "", cookie)
	expectStatus(t, "logout", w, http.StatusOK)

	w, _ = doRequest(router, http.MethodGet, usersPrefix+"/get-profile", "", cookie)
	expectStatus(t, "get-profile after logout", w, http.StatusUnauthorized)

	// password reset
	w, response = doRequest(router, http.MethodPost, usersPrefix+"/login",
		`{"email":"sam@example.com","password":"password123"}`)
	expectStatus(t, "second login", w, http.StatusOK)
	liveCookie := extractSessionCookie(t, response)

	w, _ = doRequest(router, http.MethodPost, usersPrefix+"/forgot", `{"email":"sam@example.com"}`)
	expectStatus(t, "forgot", w, http.StatusCreated)
	resetToken := mail.lastToken(t)

	w, _ = doRequest(router, http.MethodPost, usersPrefix+"/reset/"+resetToken, `{"password":"brandnew1"}`)
	expectStatus(t, "reset", w, http.StatusOK)

	w, _ = doRequest(router, http.MethodPost, usersPrefix+"/reset/"+resetToken, `{"password":"another1"}`)
	expectStatus(t, "reset replay", w, http.StatusBadRequest)

	w, _ = doRequest(router, http.MethodGet, usersPrefix+"/get-profile", "", liveCookie)
	expectStatus(t, "get-profile after reset", w, http.StatusUnauthorized)

	w, _ = doRequest(router, http.MethodPost, usersPrefix+"/login",
		`{"email":"sam@example.com","password":"brandnew1"}`)
	expectStatus(t, "login with new password", w, http.StatusOK)
}

func TestAuthIntegration_ConcurrentRegistrationOneWins(t *testing.T) {
	router, pool, _ := setupAuthTestRouter(t)

	const n = 8
	codes := make([]int, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, _ := doRequest(router, http.MethodPost, usersPrefix+"/register",
				`{"email":"race@example.com","name":"Racer","password":"password123"}`)
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()

	created := 0
	for _, c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		case http.StatusBadRequest:
		default:
			t.Fatalf("unexpected status %d", c)
		}
	}
	if created != 1 {
		t.Fatalf("got %d successful registrations, want 1", created)
	}

	var count int
	err := pool.QueryRow(context.Background(), `SELECT count(*) FROM users WHERE lower(email) = 'race@example.com'`).Scan(&count)
	if err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d rows, want 1", count)
	}
}
