package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/userauth/internal/actorctx"
	"github.com/geocoder89/userauth/internal/domain/user"
	"github.com/geocoder89/userauth/internal/http/middlewares"
	"github.com/geocoder89/userauth/internal/service"
	"github.com/gin-gonic/gin"
)

type AuthService interface {
	Register(ctx context.Context, in service.RegisterInput) (user.Profile, error)
	VerifyEmail(ctx context.Context, token string) error
	Login(ctx context.Context, email, password string) (service.LoginResult, error)
	GetProfile(ctx context.Context, userID string) (user.Profile, error)
	Logout(ctx context.Context, sessionID string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

type CookieConfig struct {
	Secure bool
	Path   string
}

type AuthHandler struct {
	svc    AuthService
	cookie CookieConfig
	log    *slog.Logger
}

func NewAuthHandler(svc AuthService, cookie CookieConfig, log *slog.Logger) *AuthHandler {
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	return &AuthHandler{svc: svc, cookie: cookie, log: log}
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

type ResetPasswordRequest struct {
	Password string `json:"password" binding:"required,min=6"`
}

// opTimeout bounds the store and bcrypt work of one request. Email sends run
// on the notifier's own timeout and are not cut short by it.
const opTimeout = 5 * time.Second

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), opTimeout)
	defer cancel()

	_, err := h.svc.Register(cctx, service.RegisterInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})

	if err != nil {
		h.respondServiceError(ctx, err, "User registration failed")
		return
	}

	RespondOK(ctx, http.StatusCreated, "User registered, Verify your email", nil)
}

func (h *AuthHandler) Verify(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), opTimeout)
	defer cancel()

	err := h.svc.VerifyEmail(cctx, ctx.Param("token"))

	if errors.Is(err, service.ErrTokenInvalid) {
		// soft failure: the link was wrong, used or stale
		ctx.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": "token invalid",
		})
		return
	}

	if err != nil {
		h.respondServiceError(ctx, err, "User verification failed")
		return
	}

	RespondOK(ctx, http.StatusOK, "User verified successfully", nil)
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), opTimeout)
	defer cancel()

	res, err := h.svc.Login(cctx, req.Email, req.Password)

	if err != nil {
		h.respondServiceError(ctx, err, "User login failed")
		return
	}

	h.setSessionCookie(ctx, res.Token, res.ExpiresAt)

	RespondOK(ctx, http.StatusOK, "User logged in successfully", nil)
}

func (h *AuthHandler) GetProfile(ctx *gin.Context) {
	userID, ok := actorctx.UserIDFrom(ctx.Request.Context())

	if !ok {
		RespondUnauthorized(ctx, "Unauthorized access")
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), opTimeout)
	defer cancel()

	profile, err := h.svc.GetProfile(cctx, userID)

	if err != nil {
		h.respondServiceError(ctx, err, "Error getting user profile")
		return
	}

	RespondOK(ctx, http.StatusOK, "User profile", gin.H{"user": profile})
}

func (h *AuthHandler) Logout(ctx *gin.Context) {
	sessionID, ok := actorctx.SessionIDFrom(ctx.Request.Context())

	if !ok {
		RespondUnauthorized(ctx, "Unauthorized access")
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), opTimeout)
	defer cancel()

	if err := h.svc.Logout(cctx, sessionID); err != nil {
		h.respondServiceError(ctx, err, "User logout failed")
		return
	}

	h.clearSessionCookie(ctx)

	RespondOK(ctx, http.StatusOK, "User logged out successfully", nil)
}

func (h *AuthHandler) ForgotPassword(ctx *gin.Context) {
	var req ForgotPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), opTimeout)
	defer cancel()

	if err := h.svc.ForgotPassword(cctx, req.Email); err != nil {
		h.respondServiceError(ctx, err, "Reset password failed")
		return
	}

	RespondOK(ctx, http.StatusCreated, "Reset password mail sent!", nil)
}

func (h *AuthHandler) ResetPassword(ctx *gin.Context) {
	var req ResetPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), opTimeout)
	defer cancel()

	if err := h.svc.ResetPassword(cctx, ctx.Param("token"), req.Password); err != nil {
		h.respondServiceError(ctx, err, "Reset password failed")
		return
	}

	RespondOK(ctx, http.StatusOK, "Password changed successfully", nil)
}

// respondServiceError maps the service taxonomy onto HTTP. Client mistakes
// are 400s; anything unrecognised is logged and reported as a bare 500.
func (h *AuthHandler) respondServiceError(ctx *gin.Context, err error, internalMessage string) {
	var ve *service.ValidationError

	switch {
	case errors.As(err, &ve):
		RespondError(ctx, http.StatusBadRequest, "validation_failed", ve.Message, nil)
	case errors.Is(err, service.ErrConflict):
		RespondError(ctx, http.StatusBadRequest, "user_exists", "User already exists", nil)
	case errors.Is(err, service.ErrNotFound):
		RespondError(ctx, http.StatusBadRequest, "user_not_found", "User not found", nil)
	case errors.Is(err, service.ErrUnverified):
		RespondError(ctx, http.StatusBadRequest, "user_not_verified", "User not verified", nil)
	case errors.Is(err, service.ErrBadCredentials):
		RespondError(ctx, http.StatusBadRequest, "invalid_credentials", "Wrong password or email", nil)
	case errors.Is(err, service.ErrInvalidToken):
		RespondError(ctx, http.StatusBadRequest, "invalid_token", "Invalid token", nil)
	default:
		h.log.ErrorContext(ctx.Request.Context(), internalMessage,
			"route", ctx.FullPath(),
			"request_id", requestIDFrom(ctx),
			"err", err,
		)
		RespondInternal(ctx, internalMessage)
	}
}

func (h *AuthHandler) setSessionCookie(ctx *gin.Context, raw string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())

	ctx.SetSameSite(http.SameSiteLaxMode)

	ctx.SetCookie(
		middlewares.SessionCookieName,
		raw,
		maxAge,
		h.cookie.Path,
		"",
		h.cookie.Secure,
		true, // HttpOnly.
	)
}

func (h *AuthHandler) clearSessionCookie(ctx *gin.Context) {
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(
		middlewares.SessionCookieName,
		"",
		-1,
		h.cookie.Path,
		"",
		h.cookie.Secure,
		true,
	)
}
