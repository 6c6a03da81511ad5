package health

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-bff/internal/common"
)

// Handler exposes liveness and readiness probes.
type Handler struct {
	Redis *redis.Client
	// BackendProbe checks the commerce backend, typically a cheap GET.
	BackendProbe func(ctx context.Context) error
	Logger       zerolog.Logger
}

// Live reports process liveness.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports whether dependencies are reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"redis": "ok", "backend": "ok"}
	healthy := true

	if err := h.Redis.Ping(ctx).Err(); err != nil {
		h.Logger.Warn().Err(err).Msg("readiness: redis unreachable")
		checks["redis"] = err.Error()
		healthy = false
	}
	if h.BackendProbe != nil {
		if err := h.BackendProbe(ctx); err != nil {
			h.Logger.Warn().Err(err).Msg("readiness: backend unreachable")
			checks["backend"] = err.Error()
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	common.JSON(w, status, map[string]any{"status": statusWord(healthy), "checks": checks})
}

func statusWord(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}
