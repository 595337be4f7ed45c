package router

import (
	"net/http"
	"sync/atomic"

	"github.com/angeloszaimis/edge-proxy/internal/backend"
	"github.com/angeloszaimis/edge-proxy/internal/endpoint"
)

// HealthView answers health queries for the router.
type HealthView interface {
	IsHealthy(key endpoint.Key) bool
}

// UserContext carries request attributes resolved before routing.
type UserContext struct {
	// ClientIP is the key hashing strategies select on.
	ClientIP  string
	RequestID string
}

// Mapper routes requests against the live Snapshot.
type Mapper struct {
	snapshot atomic.Pointer[Snapshot]
}

func NewMapper(s *Snapshot) *Mapper {
	m := &Mapper{}
	m.snapshot.Store(s)
	return m
}

// Snapshot returns the live snapshot.
func (m *Mapper) Snapshot() *Snapshot {
	return m.snapshot.Load()
}

// Swap installs s and returns the previous snapshot.
func (m *Mapper) Swap(s *Snapshot) *Snapshot {
	return m.snapshot.Swap(s)
}

// Map decides how r is handled. It reads the live snapshot and health state
// and modifies neither.
func (m *Mapper) Map(r *http.Request, uc UserContext, health HealthView) MapResult {
	return m.snapshot.Load().Map(r, uc, health)
}

// Map decides how r is handled against this snapshot.
func (s *Snapshot) Map(r *http.Request, uc UserContext, health HealthView) MapResult {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}

	if s.isSystem(path) {
		return MapResult{Action: ActionSystem}
	}

	route := s.match(normalizeHost(r.Host), path)
	if route == nil {
		return notFound(ReasonNoRoute, nil)
	}

	candidates := healthy(route.backends, health)
	if len(candidates) == 0 {
		return notFound(ReasonBackendUnavailable, route)
	}

	chosen := route.selector.SelectBackend(candidates, uc.ClientIP)
	if chosen == nil {
		return notFound(ReasonBackendUnavailable, route)
	}

	action := ActionProxy
	if route.Cache || s.cacheAll {
		action = ActionCache
	}

	return target(action, route, chosen, without(candidates, chosen))
}

func healthy(backends []*backend.Backend, health HealthView) []*backend.Backend {
	if health == nil {
		return backends
	}

	out := make([]*backend.Backend, 0, len(backends))
	for _, b := range backends {
		if health.IsHealthy(b.Key()) {
			out = append(out, b)
		}
	}
	return out
}

func without(backends []*backend.Backend, chosen *backend.Backend) []*backend.Backend {
	out := make([]*backend.Backend, 0, len(backends)-1)
	for _, b := range backends {
		if b != chosen {
			out = append(out, b)
		}
	}
	return out
}
