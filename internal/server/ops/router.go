// Package ops serves the operational HTTP surface: liveness and metrics.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is any backend whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checks names the backends probed by /healthz.
type Checks map[string]Pinger

const checkTimeout = 2 * time.Second

// NewRouter returns a chi router with /healthz and /metrics.
func NewRouter(checks Checks, gatherer prometheus.Gatherer, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthz(checks, log))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func healthz(checks Checks, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		code := http.StatusOK
		out := make(map[string]string, len(checks))
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				log.Warn("health check failed", zap.String("check", name), zap.Error(err))
				out[name] = "down"
				code = http.StatusServiceUnavailable
				continue
			}
			out[name] = "up"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(out)
	}
}
