package router

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/angeloszaimis/edge-proxy/internal/backend"
	"github.com/angeloszaimis/edge-proxy/internal/strategy"
)

var (
	ErrUnknownBackend = errors.New("route references unknown backend")
	ErrNoBackends     = errors.New("route has no backends")
)

// RouteConfig describes one route as configured.
type RouteConfig struct {
	ID           string
	Host         string
	Path         string
	Backends     []string
	Strategy     string
	VirtualNodes int
	Cache        bool
}

// SnapshotConfig is everything a Snapshot is built from.
type SnapshotConfig struct {
	SystemPrefix string
	CacheAll     bool
	Backends     []*backend.Backend
	Routes       []RouteConfig
}

type hostKind int

const (
	hostAny hostKind = iota
	hostWildcard
	hostExact
)

// Route is a compiled route.
type Route struct {
	ID         string   `json:"id"`
	Host       string   `json:"host"`
	Path       string   `json:"path"`
	Cache      bool     `json:"cache"`
	Strategy   string   `json:"strategy"`
	BackendIDs []string `json:"backends"`
	Order      int      `json:"order"`
	backends   []*backend.Backend
	selector   strategy.Strategy
	kind       hostKind
	suffix     string
}

// Backends returns the route's backends in configuration order.
func (r *Route) Backends() []*backend.Backend {
	return r.backends
}

func (r *Route) matchHost(host string) bool {
	switch r.kind {
	case hostExact:
		return host == r.Host
	case hostWildcard:
		return strings.HasSuffix(host, r.suffix) && len(host) > len(r.suffix)
	default:
		return true
	}
}

// matchPath matches whole path segments: "/api" covers "/api" and "/api/x"
// but not "/apiary".
func (r *Route) matchPath(path string) bool {
	if !strings.HasPrefix(path, r.Path) {
		return false
	}
	return len(path) == len(r.Path) || strings.HasSuffix(r.Path, "/") || path[len(r.Path)] == '/'
}

// Snapshot is an immutable routing configuration.
type Snapshot struct {
	systemPrefix string
	cacheAll     bool
	routes       []*Route
	backends     []*backend.Backend
	byID         map[string]*backend.Backend
}

// NewSnapshot compiles cfg. Routes are ordered once here so Map only scans.
func NewSnapshot(cfg SnapshotConfig) (*Snapshot, error) {
	s := &Snapshot{
		systemPrefix: cfg.SystemPrefix,
		cacheAll:     cfg.CacheAll,
		backends:     cfg.Backends,
		byID:         make(map[string]*backend.Backend, len(cfg.Backends)),
	}

	for _, b := range cfg.Backends {
		if _, dup := s.byID[b.ID()]; dup {
			return nil, fmt.Errorf("duplicate backend %q", b.ID())
		}
		s.byID[b.ID()] = b
	}

	for i, rc := range cfg.Routes {
		route, err := s.compile(i, rc)
		if err != nil {
			return nil, err
		}
		s.routes = append(s.routes, route)
	}

	sort.SliceStable(s.routes, func(i, j int) bool {
		a, b := s.routes[i], s.routes[j]
		if len(a.Path) != len(b.Path) {
			return len(a.Path) > len(b.Path)
		}
		if a.kind != b.kind {
			return a.kind > b.kind
		}
		if a.kind == hostWildcard && len(a.suffix) != len(b.suffix) {
			return len(a.suffix) > len(b.suffix)
		}
		return a.Order < b.Order
	})

	return s, nil
}

func (s *Snapshot) compile(order int, rc RouteConfig) (*Route, error) {
	id := rc.ID
	if id == "" {
		id = fmt.Sprintf("route-%d", order)
	}

	if len(rc.Backends) == 0 {
		return nil, fmt.Errorf("route %q: %w", id, ErrNoBackends)
	}

	backends := make([]*backend.Backend, 0, len(rc.Backends))
	for _, ref := range rc.Backends {
		b, ok := s.byID[ref]
		if !ok {
			return nil, fmt.Errorf("route %q: %w: %q", id, ErrUnknownBackend, ref)
		}
		backends = append(backends, b)
	}

	selector, err := strategy.New(rc.Strategy, rc.VirtualNodes, backends)
	if err != nil {
		return nil, fmt.Errorf("route %q: %w", id, err)
	}

	path := rc.Path
	if path == "" {
		path = "/"
	}

	name := rc.Strategy
	if name == "" {
		name = strategy.Priority
	}

	route := &Route{
		ID:         id,
		Host:       normalizeHost(rc.Host),
		Path:       path,
		Cache:      rc.Cache,
		Strategy:   name,
		BackendIDs: rc.Backends,
		Order:      order,
		backends:   backends,
		selector:   selector,
	}

	switch {
	case route.Host == "" || route.Host == "*":
		route.kind = hostAny
	case strings.HasPrefix(route.Host, "*."):
		route.kind = hostWildcard
		route.suffix = route.Host[1:]
	default:
		route.kind = hostExact
	}

	return route, nil
}

// normalizeHost lower-cases host and strips any port.
func normalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}

// Routes returns the routes in evaluation order.
func (s *Snapshot) Routes() []*Route {
	return s.routes
}

// Backends returns every configured backend in configuration order.
func (s *Snapshot) Backends() []*backend.Backend {
	return s.backends
}

// Backend looks a backend up by id.
func (s *Snapshot) Backend(id string) (*backend.Backend, bool) {
	b, ok := s.byID[id]
	return b, ok
}

// SystemPrefix returns the path prefix answered by the proxy itself.
func (s *Snapshot) SystemPrefix() string {
	return s.systemPrefix
}

// CacheAll reports whether every route is cacheable.
func (s *Snapshot) CacheAll() bool {
	return s.cacheAll
}

func (s *Snapshot) isSystem(path string) bool {
	if s.systemPrefix == "" {
		return false
	}
	return strings.HasPrefix(path, s.systemPrefix) ||
		path == strings.TrimSuffix(s.systemPrefix, "/")
}

func (s *Snapshot) match(host, path string) *Route {
	for _, r := range s.routes {
		if r.matchPath(path) && r.matchHost(host) {
			return r
		}
	}
	return nil
}
