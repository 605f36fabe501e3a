// Package httptransport assembles the feature handlers into one router.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mobility-bap/internal/platform/metrics"
	"mobility-bap/internal/platform/middleware"
	"mobility-bap/pkg/platform/httputil"
	"mobility-bap/pkg/platform/middleware/admin"
	authmw "mobility-bap/pkg/platform/middleware/auth"
	request "mobility-bap/pkg/platform/middleware/request"
	"mobility-bap/pkg/platform/middleware/requesttime"
)

// Feature is a handler with rider-facing and network-facing routes.
type Feature interface {
	RegisterLocal(r chi.Router)
	RegisterNetwork(r chi.Router)
}

// Operator is a handler mounted behind the admin token.
type Operator interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Verifier   middleware.SignatureVerifier
	JWT        authmw.JWTValidator
	AdminToken string
	Features   []Feature
	Operators  []Operator
	Health     map[string]HealthCheck
}

// NewRouter wires the local API behind rider auth, the network callbacks
// behind signature verification, and the operator routes behind the admin
// token.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(cfg.Logger))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(cfg.Logger))

	r.Get("/health", healthHandler(cfg.Health))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(local chi.Router) {
		local.Use(middleware.LatencyMiddleware(cfg.Metrics, "local"))
		local.Use(authmw.RequireAuth(cfg.JWT, cfg.Logger))
		for _, f := range cfg.Features {
			f.RegisterLocal(local)
		}
	})

	r.Group(func(network chi.Router) {
		network.Use(middleware.LatencyMiddleware(cfg.Metrics, "network"))
		network.Use(middleware.VerifySignature(cfg.Verifier, cfg.Metrics, cfg.Logger))
		for _, f := range cfg.Features {
			f.RegisterNetwork(network)
		}
	})

	r.Group(func(ops chi.Router) {
		ops.Use(admin.RequireAdminToken(cfg.AdminToken, cfg.Logger))
		for _, o := range cfg.Operators {
			o.Register(ops)
		}
	})
	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}
		httputil.WriteJSON(w, status, body)
	}
}
