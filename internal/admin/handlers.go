package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angeloszaimis/edge-proxy/internal/backend"
	"github.com/angeloszaimis/edge-proxy/internal/certs"
	"github.com/angeloszaimis/edge-proxy/internal/endpoint"
	"github.com/angeloszaimis/edge-proxy/internal/health"
	"github.com/angeloszaimis/edge-proxy/internal/router"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"endpoints": {
			"/healthz",
			"/metrics",
			"/api/metrics",
			"/api/cache",
			"/api/config/cache",
			"/api/backends",
			"/api/backends/{id}",
			"/api/routes",
			"/api/certificates",
			"/api/certificates/{id}",
		},
	})
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d Deps) cacheStats(w http.ResponseWriter, _ *http.Request) {
	if d.Cache == nil {
		writeError(w, http.StatusNotFound, "cache disabled")
		return
	}
	writeJSON(w, http.StatusOK, d.Cache.Stats())
}

func (d Deps) cacheConfig(w http.ResponseWriter, _ *http.Request) {
	if d.Cache == nil {
		writeError(w, http.StatusNotFound, "cache disabled")
		return
	}
	writeJSON(w, http.StatusOK, d.Cache.Configuration())
}

type backendView struct {
	ID       string            `json:"id"`
	URL      string            `json:"url"`
	Weight   int               `json:"weight"`
	EWMA     time.Duration     `json:"ewma_response"`
	Health   health.State      `json:"health"`
	Stats    endpoint.Snapshot `json:"stats"`
	ProbeURL string            `json:"probe_url"`
}

func (d Deps) view(b *backend.Backend) backendView {
	v := backendView{
		ID:       b.ID(),
		URL:      b.URL().String(),
		Weight:   b.Weight(),
		EWMA:     b.EWMATime(),
		ProbeURL: b.ProbeURL().String(),
		Stats:    endpoint.Snapshot{Endpoint: b.Key().String(), Host: b.Key().Host, Port: b.Key().Port},
		Health:   health.State{Endpoint: b.Key().String(), Status: health.StatusHealthy},
	}

	if d.Endpoints != nil {
		if s, ok := d.Endpoints.Lookup(b.Key()); ok {
			v.Stats = s.Snapshot()
		}
	}
	if d.Health != nil {
		v.Health = d.Health.State(b.Key())
	}
	return v
}

func (d Deps) listBackends(w http.ResponseWriter, _ *http.Request) {
	out := []backendView{}
	if d.Mapper != nil {
		for _, b := range d.Mapper.Snapshot().Backends() {
			out = append(out, d.view(b))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (d Deps) getBackend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if d.Mapper == nil {
		writeError(w, http.StatusNotFound, "unknown backend")
		return
	}

	b, ok := d.Mapper.Snapshot().Backend(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown backend")
		return
	}
	writeJSON(w, http.StatusOK, d.view(b))
}

type routesView struct {
	SystemPrefix string          `json:"system_prefix"`
	CacheAll     bool            `json:"cache_all"`
	Routes       []*router.Route `json:"routes"`
}

func (d Deps) listRoutes(w http.ResponseWriter, _ *http.Request) {
	view := routesView{Routes: []*router.Route{}}
	if d.Mapper != nil {
		s := d.Mapper.Snapshot()
		view.SystemPrefix = s.SystemPrefix()
		view.CacheAll = s.CacheAll()
		view.Routes = append(view.Routes, s.Routes()...)
	}
	writeJSON(w, http.StatusOK, view)
}

func (d Deps) listCertificates(w http.ResponseWriter, _ *http.Request) {
	out := []certs.Info{}
	if d.Certs != nil {
		out = append(out, d.Certs.List()...)
	}
	writeJSON(w, http.StatusOK, out)
}

func (d Deps) getCertificate(w http.ResponseWriter, r *http.Request) {
	if d.Certs == nil {
		writeError(w, http.StatusNotFound, "unknown certificate")
		return
	}

	info, ok := d.Certs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown certificate")
		return
	}
	writeJSON(w, http.StatusOK, info)
}
