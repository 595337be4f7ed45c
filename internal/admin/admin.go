package admin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/angeloszaimis/edge-proxy/internal/cache"
	"github.com/angeloszaimis/edge-proxy/internal/certs"
	"github.com/angeloszaimis/edge-proxy/internal/endpoint"
	"github.com/angeloszaimis/edge-proxy/internal/health"
	"github.com/angeloszaimis/edge-proxy/internal/metrics"
	"github.com/angeloszaimis/edge-proxy/internal/router"
)

// Deps are the live components the API reads from.
type Deps struct {
	Cache     *cache.Cache
	Endpoints *endpoint.Manager
	Health    *health.Manager
	Mapper    *router.Mapper
	Certs     *certs.Store
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

// NewRouter builds the admin API. Only GET and HEAD are served.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.GetHead)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(d.Logger))

	r.Get("/", index)
	r.Get("/healthz", healthz)

	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
		r.Get("/api/metrics", d.Metrics.SnapshotHandler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/cache", d.cacheStats)
		r.Get("/config/cache", d.cacheConfig)
		r.Get("/backends", d.listBackends)
		r.Get("/backends/{id}", d.getBackend)
		r.Get("/routes", d.listRoutes)
		r.Get("/certificates", d.listCertificates)
		r.Get("/certificates/{id}", d.getCertificate)
	})

	return r
}
