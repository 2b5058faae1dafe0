package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// PingFunc checks one dependency; nil means healthy.
type PingFunc func(ctx context.Context) error

type HealthHandler struct {
	log    *slog.Logger
	checks map[string]PingFunc
}

func NewHealthHandler(log *slog.Logger, checks map[string]PingFunc) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{log: log, checks: checks}
}

func (h *HealthHandler) Root(ctx *gin.Context) {
	ctx.String(http.StatusOK, "Hello World!")
}

func (h *HealthHandler) Healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz pings every registered dependency (Postgres, Redis). Failure
// details go to the log only.
func (h *HealthHandler) Readyz(ctx *gin.Context) {
	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(gin.H, len(h.checks))

	for name, ping := range h.checks {
		if err := ping(cctx); err != nil {
			status = http.StatusServiceUnavailable
			h.log.WarnContext(ctx.Request.Context(), "readiness check failed", "check", name, "err", err)
			results[name] = "unavailable"
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}

	ctx.JSON(status, gin.H{"status": state, "checks": results})
}
