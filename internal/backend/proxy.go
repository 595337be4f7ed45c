package backend

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/angeloszaimis/edge-proxy/internal/endpoint"
)

// Backend represents an origin server with connection tracking and response
// time monitoring. Health is not stored here; it lives in the health manager.
type Backend struct {
	id               string
	url              *url.URL
	probeURL         *url.URL
	weight           int
	key              endpoint.Key
	stats            *endpoint.Manager
	transport        *http.Transport
	proxy            *httputil.ReverseProxy
	mutex            sync.Mutex
	ewmaResponseTime time.Duration
	hasEWMA          bool
}

const ewmaAlpha = 0.2

// New creates a Backend. Connections dialed through its transport are
// accounted in stats; a nil stats gets a private manager.
func New(cfg Config, opts TransportOptions, stats *endpoint.Manager, logger *slog.Logger) *Backend {
	if stats == nil {
		stats = endpoint.NewManager()
	}
	if logger == nil {
		logger = slog.Default()
	}

	weight := cfg.Weight
	if weight <= 0 {
		weight = 1
	}

	id := cfg.ID
	if id == "" {
		id = cfg.URL.String()
	}

	b := &Backend{
		id:     id,
		url:    cfg.URL,
		weight: weight,
		key:    endpoint.KeyFromURL(cfg.URL),
		stats:  stats,
	}
	b.probeURL = probeURL(cfg.URL, cfg.ProbePath)
	b.transport = newTransport(b.key, opts, stats)

	target := cfg.URL
	b.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = pr.In.Host
			pr.SetXForwarded()
		},
		Transport: b.transport,
		ErrorLog:  slog.NewLogLogger(logger.Handler(), slog.LevelDebug),
		ModifyResponse: func(res *http.Response) error {
			if ex := exchangeFrom(res.Request.Context()); ex != nil {
				return ex.OnResponse(res)
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if ex := exchangeFrom(r.Context()); ex != nil {
				ex.OnError(w, r, err)
				return
			}
			logger.Warn("Backend request failed",
				slog.String("backend", b.id),
				slog.String("error", err.Error()))
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	return b
}

func probeURL(base *url.URL, path string) *url.URL {
	if path == "" {
		path = "/health"
	}
	u := *base
	u.Path = strings.TrimSuffix(base.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.RawQuery = ""
	return &u
}

// ID returns the configured backend id.
func (b *Backend) ID() string {
	return b.id
}

// URL returns the backend server URL.
func (b *Backend) URL() *url.URL {
	return b.url
}

// ProbeURL returns the URL active health checks request.
func (b *Backend) ProbeURL() *url.URL {
	return b.probeURL
}

// Key returns the endpoint key of the backend.
func (b *Backend) Key() endpoint.Key {
	return b.key
}

// Weight returns the relative weight, at least 1.
func (b *Backend) Weight() int {
	return b.weight
}

// ReverseProxy returns the HTTP reverse proxy for this backend.
func (b *Backend) ReverseProxy() *httputil.ReverseProxy {
	return b.proxy
}

// ActiveConnections returns the number of requests in flight to this backend.
func (b *Backend) ActiveConnections() int {
	if s, ok := b.stats.Lookup(b.key); ok {
		return int(s.ActiveConnections())
	}
	return 0
}

// RecordResponse updates the exponentially weighted moving average (EWMA)
// response time using the latest request duration.
func (b *Backend) RecordResponse(duration time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		b.ewmaResponseTime = duration
		b.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	b.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(b.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns the exponentially weighted moving average response time.
// Returns 0 if no responses have been recorded yet.
func (b *Backend) EWMATime() time.Duration {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		return 0
	}

	return b.ewmaResponseTime
}

// Close drops the idle connections of the backend's transport so their open
// count returns to zero.
func (b *Backend) Close() {
	b.transport.CloseIdleConnections()
}
