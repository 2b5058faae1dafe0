// Package service holds the account lifecycle: registration, email
// verification, login sessions and password reset.
//
// A user moves Unregistered -> PendingVerification -> Verified, with an
// independent Normal -> PendingReset -> Normal cycle for password resets.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/geocoder89/userauth/internal/domain/user"
	"github.com/geocoder89/userauth/internal/notifications"
	"github.com/geocoder89/userauth/internal/security"
	"github.com/geocoder89/userauth/internal/session"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// APIPrefix is where the user routes are mounted; email links point into it.
const APIPrefix = "/api/v1/users"

type UserStore interface {
	Create(ctx context.Context, u user.User) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	ConsumeVerificationToken(ctx context.Context, tokenHash string, now time.Time) (user.User, error)
	SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt, now time.Time) error
	ConsumeResetToken(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (user.User, error)
}

type SessionIssuer interface {
	GenerateSessionToken(userID string) (raw string, sessionID string, expiresAt time.Time, err error)
}

type Metrics interface {
	ObserveAuth(op, result string)
}

type Options struct {
	Users    UserStore
	Sessions session.Store
	Tokens   SessionIssuer
	Notifier notifications.Notifier
	Log      *slog.Logger
	Metrics  Metrics

	BaseURL         string
	VerificationTTL time.Duration
	ResetTTL        time.Duration

	Now func() time.Time
}

type AuthService struct {
	users    UserStore
	sessions session.Store
	tokens   SessionIssuer
	notifier notifications.Notifier
	log      *slog.Logger
	metrics  Metrics

	baseURL         string
	verificationTTL time.Duration
	resetTTL        time.Duration
	now             func() time.Time
}

func NewAuthService(opts Options) *AuthService {
	s := &AuthService{
		users:           opts.Users,
		sessions:        opts.Sessions,
		tokens:          opts.Tokens,
		notifier:        opts.Notifier,
		log:             opts.Log,
		metrics:         opts.Metrics,
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		verificationTTL: opts.VerificationTTL,
		resetTTL:        opts.ResetTTL,
		now:             opts.Now,
	}

	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.verificationTTL <= 0 {
		s.verificationTTL = 10 * time.Hour
	}
	if s.resetTTL <= 0 {
		s.resetTTL = 10 * time.Hour
	}

	return s
}

type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

type LoginResult struct {
	Token     string
	SessionID string
	ExpiresAt time.Time
	User      user.Profile
}

func (s *AuthService) record(op string, err error) {
	if s.metrics != nil {
		s.metrics.ObserveAuth(op, resultOf(err))
	}
}

// Register creates an unverified user and emails the verification link. A
// failed email is logged; the account stays pending until a later attempt.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (profile user.Profile, err error) {
	defer func() { s.record("register", err) }()

	email := normalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)

	if email == "" || name == "" || in.Password == "" {
		return user.Profile{}, invalid("All fields are required")
	}
	if err := checkPassword(in.Password); err != nil {
		return user.Profile{}, err
	}

	raw, digest, err := security.GenerateOpaqueToken()
	if err != nil {
		return user.Profile{}, oops.Code("TOKEN_GENERATE_FAILED").With("operation", "register").Wrap(err)
	}

	hash, err := security.HashPassword(in.Password)
	if err != nil {
		return user.Profile{}, oops.Code("PASSWORD_HASH_FAILED").With("operation", "register").Wrap(err)
	}

	now := s.now().UTC()
	expiry := now.Add(s.verificationTTL)

	created, err := s.users.Create(ctx, user.User{
		ID:                      uuid.NewString(),
		Email:                   email,
		PasswordHash:            hash,
		Name:                    name,
		Role:                    user.RoleUser,
		IsVerified:              false,
		VerificationTokenHash:   digest,
		VerificationTokenExpiry: &expiry,
		CreatedAt:               now,
		UpdatedAt:               now,
	})
	if errors.Is(err, user.ErrEmailTaken) {
		return user.Profile{}, ErrConflict
	}
	if err != nil {
		return user.Profile{}, oops.Code("REGISTER_FAILED").With("operation", "create user").Wrap(err)
	}

	err = s.notifier.SendVerificationEmail(ctx, notifications.VerificationEmailInput{
		Email:     created.Email,
		Name:      created.Name,
		Link:      s.link("verify", raw),
		ExpiresIn: humanizeWindow(s.verificationTTL),
	})
	if err != nil {
		s.log.ErrorContext(ctx, "verification email failed", "user_id", created.ID, "err", err)
	}

	return created.Profile(), nil
}

// VerifyEmail redeems a verification token. Wrong, used and expired tokens
// all yield ErrTokenInvalid.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (err error) {
	defer func() { s.record("verify", err) }()

	if token == "" {
		return ErrTokenInvalid
	}

	_, err = s.users.ConsumeVerificationToken(ctx, security.HashOpaqueToken(token), s.now().UTC())
	if errors.Is(err, user.ErrNotFound) {
		return ErrTokenInvalid
	}
	if err != nil {
		return oops.Code("VERIFY_FAILED").With("operation", "consume verification token").Wrap(err)
	}

	return nil
}

// Login checks credentials and opens a registered session.
func (s *AuthService) Login(ctx context.Context, email, password string) (res LoginResult, err error) {
	defer func() { s.record("login", err) }()

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, invalid("All fields are required")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, user.ErrNotFound) {
		return LoginResult{}, ErrNotFound
	}
	if err != nil {
		return LoginResult{}, oops.Code("LOGIN_FAILED").With("operation", "get user by email").Wrap(err)
	}

	if !u.IsVerified {
		return LoginResult{}, ErrUnverified
	}

	if err := security.CheckPassword(u.PasswordHash, password); err != nil {
		return LoginResult{}, ErrBadCredentials
	}

	raw, sid, expiresAt, err := s.tokens.GenerateSessionToken(u.ID)
	if err != nil {
		return LoginResult{}, oops.Code("SESSION_SIGN_FAILED").With("user_id", u.ID).Wrap(err)
	}

	err = s.sessions.Create(ctx, session.Session{ID: sid, UserID: u.ID, ExpiresAt: expiresAt})
	if err != nil {
		return LoginResult{}, oops.Code("SESSION_CREATE_FAILED").With("user_id", u.ID).Wrap(err)
	}

	return LoginResult{
		Token:     raw,
		SessionID: sid,
		ExpiresAt: expiresAt,
		User:      u.Profile(),
	}, nil
}

func (s *AuthService) GetProfile(ctx context.Context, userID string) (profile user.Profile, err error) {
	defer func() { s.record("get_profile", err) }()

	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, user.ErrNotFound) {
		return user.Profile{}, ErrNotFound
	}
	if err != nil {
		return user.Profile{}, oops.Code("PROFILE_FAILED").With("user_id", userID).Wrap(err)
	}

	return u.Profile(), nil
}

// Logout revokes the session so its token stops working immediately.
func (s *AuthService) Logout(ctx context.Context, sessionID string) (err error) {
	defer func() { s.record("logout", err) }()

	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return oops.Code("LOGOUT_FAILED").With("session_id", sessionID).Wrap(err)
	}
	return nil
}

// ForgotPassword stores a fresh reset token, replacing any earlier one, and
// emails the reset link.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (err error) {
	defer func() { s.record("forgot_password", err) }()

	email = normalizeEmail(email)
	if email == "" {
		return invalid("Email is required")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, user.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return oops.Code("FORGOT_PASSWORD_FAILED").With("operation", "get user by email").Wrap(err)
	}

	raw, digest, err := security.GenerateOpaqueToken()
	if err != nil {
		return oops.Code("TOKEN_GENERATE_FAILED").With("operation", "forgot password").Wrap(err)
	}

	now := s.now().UTC()
	err = s.users.SetResetToken(ctx, u.ID, digest, now.Add(s.resetTTL), now)
	if err != nil {
		return oops.Code("FORGOT_PASSWORD_FAILED").With("operation", "set reset token").With("user_id", u.ID).Wrap(err)
	}

	err = s.notifier.SendPasswordResetEmail(ctx, notifications.PasswordResetEmailInput{
		Email:     u.Email,
		Name:      u.Name,
		Link:      s.link("reset", raw),
		ExpiresIn: humanizeWindow(s.resetTTL),
	})
	if err != nil {
		s.log.ErrorContext(ctx, "password reset email failed", "user_id", u.ID, "err", err)
	}

	return nil
}

// ResetPassword redeems a live reset token, replaces the password and ends
// every open session of the account.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	defer func() { s.record("reset_password", err) }()

	if token == "" {
		return ErrInvalidToken
	}
	if newPassword == "" {
		return invalid("Password is required")
	}
	if err := checkPassword(newPassword); err != nil {
		return err
	}

	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return oops.Code("PASSWORD_HASH_FAILED").With("operation", "reset password").Wrap(err)
	}

	u, err := s.users.ConsumeResetToken(ctx, security.HashOpaqueToken(token), hash, s.now().UTC())
	if errors.Is(err, user.ErrNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").With("operation", "consume reset token").Wrap(err)
	}

	if err := s.sessions.RevokeAllForUser(ctx, u.ID); err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").With("user_id", u.ID).Wrap(err)
	}

	return nil
}

func (s *AuthService) link(action, token string) string {
	return s.baseURL + APIPrefix + "/" + action + "/" + token
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkPassword(password string) error {
	if utf8.RuneCountInString(password) < security.MinPasswordLength {
		return invalid(fmt.Sprintf("Password must be at least %d characters", security.MinPasswordLength))
	}
	if len(password) > security.MaxPasswordBytes {
		return invalid(fmt.Sprintf("Password must be at most %d bytes", security.MaxPasswordBytes))
	}
	return nil
}

func humanizeWindow(d time.Duration) string {
	unit := func(n int64, word string) string {
		if n == 1 {
			return "1 " + word
		}
		return fmt.Sprintf("%d %ss", n, word)
	}

	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return unit(int64(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return unit(int64(d/time.Minute), "minute")
	default:
		return d.String()
	}
}
