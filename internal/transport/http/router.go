package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"demarches/internal/platform/metrics"
	"demarches/internal/ratelimit"
	"demarches/internal/platform/middleware"
	"demarches/pkg/platform/httputil"
	"demarches/pkg/platform/middleware/metadata"
	"demarches/pkg/platform/middleware/requesttime"
)

// HealthCheck probes one dependency, such as the cache backend.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	HealthChecks   map[string]HealthCheck
	RequestTimeout time.Duration
	Clock          func() time.Time

	// RateLimiter, when set, charges each client RateLimit units per window: one per
	// upstream lookup the route can trigger.
	RateLimiter *ratelimit.Middleware
	RateLimit   int
}

// NewRouter wires the public endpoints.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.Logger(logger))

	r.Get("/healthz", healthHandler(cfg.HealthChecks))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(middleware.Timeout(timeout))
		v1.Use(middleware.ContentTypeJSON)
		v1.Use(requesttime.WithClock(clock))
		v1.Use(middleware.LatencyMiddleware(cfg.Metrics, routePattern))

		v1.With(limit(cfg, 2)).Post("/jurisdictions/resolve", h.handleResolve)
		v1.With(limit(cfg, 3)).Post("/eligibility/evaluate", h.handleEvaluate)
		v1.With(limit(cfg, 4)).Post("/assessments", h.handleAssess)
		v1.Post("/deadlines/transition", h.handleTransition)
	})
	return r
}

func limit(cfg RouterConfig, cost int) func(http.Handler) http.Handler {
	if cfg.RateLimiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return cfg.RateLimiter.Limit(ratelimit.Class{Name: "api", Cost: cost, Limit: cfg.RateLimit})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		for _, name := range names {
			if resp.Checks == nil {
				resp.Checks = make(map[string]string, len(names))
			}
			if err := checks[name](ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
