package http

import (
	"log/slog"

	"github.com/geocoder89/userauth/internal/http/handlers"
	"github.com/geocoder89/userauth/internal/http/middlewares"
	"github.com/geocoder89/userauth/internal/observability"
	"github.com/geocoder89/userauth/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxBodyBytes = 1 << 20

type Deps struct {
	Log         *slog.Logger
	Env         string
	ServiceName string
	CORSOrigins []string

	Auth     handlers.AuthService
	Tokens   middlewares.TokenVerifier
	Sessions middlewares.SessionLookup

	// Prom and Gatherer are optional; without them /metrics is not mounted.
	Prom     *observability.Prom
	Gatherer prometheus.Gatherer

	// Limiter throttles the unauthenticated auth routes per client IP; nil
	// disables throttling.
	Limiter middlewares.Limiter

	Checks map[string]handlers.PingFunc
}

func NewRouter(d Deps) *gin.Engine {
	if d.Env != "dev" && d.Env != "test" {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}

	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	if d.ServiceName != "" {
		r.Use(otelgin.Middleware(d.ServiceName))
	}
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(d.Log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(d.CORSOrigins))
	r.Use(middlewares.MaxBodyBytes(maxBodyBytes))
	r.Use(middlewares.RequireJSON())
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	// health
	h := handlers.NewHealthHandler(d.Log, d.Checks)
	r.GET("/", h.Root)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	// users
	authHandler := handlers.NewAuthHandler(d.Auth, handlers.CookieConfig{
		Secure: d.Env == "prod",
		Path:   "/",
	}, d.Log)
	guard := middlewares.NewSessionGuard(d.Log, d.Tokens, d.Sessions)

	throttle := func(c *gin.Context) { c.Next() }
	if d.Limiter != nil {
		throttle = middlewares.RateLimit(d.Log, d.Limiter, middlewares.KeyByIP)
	}

	users := r.Group(service.APIPrefix)
	users.POST("/register", throttle, authHandler.Register)
	users.GET("/verify/:token", throttle, authHandler.Verify)
	users.POST("/login", throttle, authHandler.Login)
	users.GET("/get-profile", guard.RequireSession(), authHandler.GetProfile)
	users.POST("/logout", guard.RequireSession(), authHandler.Logout)
	users.POST("/forgot", throttle, authHandler.ForgotPassword)
	// the emailed link is a GET; form posts land on the same handler
	users.GET("/reset/:token", throttle, authHandler.ResetPassword)
	users.POST("/reset/:token", throttle, authHandler.ResetPassword)

	return r
}
