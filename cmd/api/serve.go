package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/userauth/internal/auth"
	"github.com/geocoder89/userauth/internal/config"
	"github.com/geocoder89/userauth/internal/db"
	httpx "github.com/geocoder89/userauth/internal/http"
	"github.com/geocoder89/userauth/internal/http/handlers"
	"github.com/geocoder89/userauth/internal/http/middlewares"
	"github.com/geocoder89/userauth/internal/notifications"
	"github.com/geocoder89/userauth/internal/observability"
	"github.com/geocoder89/userauth/internal/redisclient"
	"github.com/geocoder89/userauth/internal/repo/memory"
	"github.com/geocoder89/userauth/internal/repo/postgres"
	"github.com/geocoder89/userauth/internal/service"
	"github.com/geocoder89/userauth/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
}

// userStore is what both the auth service and the admin seed need.
type userStore interface {
	service.UserStore
	db.AdminStore
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Load the config set up
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	// start up the observability logger
	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: cfg.ServiceName,
		Env:         cfg.Env,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.OTelSampleRatio,
	})
	if err != nil {
		return oops.Code("TRACER_INIT_FAILED").Wrap(err)
	}
	defer func() {
		sctx, cancel := config.WithTimeout(5 * time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Error("tracer shutdown failed", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	checks := map[string]handlers.PingFunc{}

	// users
	var users userStore
	switch cfg.UserStore {
	case "memory":
		users = memory.NewUsersRepo()
		log.Warn("using in-memory user store; data is lost on restart")
	case "postgres":
		if cfg.AutoMigrate {
			if err := migrateUp(cfg.DBURL); err != nil {
				return err
			}
		}

		pool, err := db.NewPool(ctx, cfg.DBURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		users = postgres.NewUsersRepo(pool, prom)
		checks["postgres"] = pool.Ping
	default:
		return oops.Code("CONFIG_INVALID").Errorf("unknown STORE %q", cfg.UserStore)
	}

	// sessions and throttling share the backing store
	var (
		sessions session.Store
		limiter  middlewares.Limiter
	)
	switch cfg.SessionStore {
	case "memory":
		sessions = session.NewMemoryStore()
		if cfg.RateLimit > 0 {
			limiter = middlewares.NewMemoryLimiter(cfg.RateLimit, cfg.RateLimitWindow)
		}
	case "redis":
		rdb := redisclient.New(redisclient.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error("redis close failed", "err", err)
			}
		}()

		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pctx)
		cancel()
		if err != nil {
			return oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.Redis.Addr).Wrap(err)
		}

		sessions = session.NewRedisStore(rdb.Raw())
		if cfg.RateLimit > 0 {
			limiter = middlewares.NewRedisLimiter(rdb.Raw(), cfg.RateLimit, cfg.RateLimitWindow)
		}
		checks["redis"] = rdb.Ping
	default:
		return oops.Code("CONFIG_INVALID").Errorf("unknown SESSION_STORE %q", cfg.SessionStore)
	}

	notifier, err := newNotifier(cfg, log, prom)
	if err != nil {
		return err
	}

	tokens := auth.NewManager(cfg.JWT.Secret, cfg.JWT.Expiry)

	svc := service.NewAuthService(service.Options{
		Users:           users,
		Sessions:        sessions,
		Tokens:          tokens,
		Notifier:        notifier,
		Log:             log,
		Metrics:         prom,
		BaseURL:         cfg.BaseURL,
		VerificationTTL: cfg.VerificationTokenTTL,
		ResetTTL:        cfg.ResetTokenTTL,
	})

	err = db.EnsureAdminUser(ctx, users, db.AdminSeed{
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
		Name:     cfg.AdminName,
	})
	if err != nil {
		return err
	}

	router := httpx.NewRouter(httpx.Deps{
		Log:         log,
		Env:         cfg.Env,
		ServiceName: cfg.ServiceName,
		CORSOrigins: []string{cfg.CORSOrigin},
		Auth:        svc,
		Tokens:      tokens,
		Sessions:    sessions,
		Prom:        prom,
		Gatherer:    reg,
		Limiter:     limiter,
		Checks:      checks,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "store", cfg.UserStore, "sessions", cfg.SessionStore)
		err := srv.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err, ok := <-serveErr:
		if ok {
			return oops.Code("SERVER_FAILED").Wrap(err)
		}
		return nil
	case <-stop:
	}

	log.Info("server shutting down")

	sctx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
		return oops.Code("SHUTDOWN_FAILED").Wrap(err)
	}

	log.Info("shutdown complete")
	return nil
}

func newNotifier(cfg config.Config, log *slog.Logger, prom *observability.Prom) (notifications.Notifier, error) {
	var inner notifications.Notifier

	switch cfg.MailTransport {
	case "log":
		inner = notifications.NewLogNotifier(log)
	case "smtp":
		smtp, err := notifications.NewSMTPNotifier(notifications.SMTPConfig{
			Host:       cfg.Mail.Host,
			Port:       cfg.Mail.Port,
			Username:   cfg.Mail.User,
			Password:   cfg.Mail.Pass,
			From:       cfg.SenderEmail,
			SenderName: cfg.SenderName,
		})
		if err != nil {
			return nil, oops.Code("MAIL_INIT_FAILED").Wrap(err)
		}
		inner = smtp
	default:
		return nil, oops.Code("CONFIG_INVALID").Errorf("unknown MAIL_TRANSPORT %q", cfg.MailTransport)
	}

	return notifications.NewProtectedNotifier(inner, notifications.ProtectedNotifierConfig{
		Timeout:          10 * time.Second,
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		Observer:         prom,
	}), nil
}

func migrateUp(dbURL string) (err error) {
	m, err := db.NewMigrator(dbURL)
	if err != nil {
		return err
	}
	defer closeMigrator(m, &err)
	return m.Up()
}
