package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/dittobundle/pkg/api/handlers"
	"github.com/marmos91/dittobundle/pkg/api/middleware"
	"github.com/marmos91/dittobundle/pkg/lifecycle"
	"github.com/marmos91/dittobundle/pkg/metrics"
)

// NewRouter creates the chi router with all middleware and routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /metrics - Prometheus scrape (only when metrics are enabled)
//   - GET /api/v1/units, /api/v1/stats, /api/v1/assets
//   - POST /api/v1/assets/load, /api/v1/assets/unload
//
// Every /api/v1 call is executed on the manager goroutine, so m must be
// running (Manager.Run) for those routes to answer.
func NewRouter(m *lifecycle.Manager, cfg APIConfig) http.Handler {
	cfg.ApplyDefaults()

	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(m)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	if reg := metrics.GetRegistry(); reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	if m != nil {
		assetHandler := handlers.NewAssetHandler(m, cfg.LoadTimeout)
		statusHandler := handlers.NewStatusHandler(m)

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(middleware.Instance(m.ID()))

			r.Get("/units", statusHandler.Units)
			r.Get("/stats", statusHandler.Stats)

			r.Route("/assets", func(r chi.Router) {
				r.Get("/", assetHandler.List)
				r.Post("/load", assetHandler.Load)
				r.Post("/unload", assetHandler.Unload)
			})
		})
	}

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}
