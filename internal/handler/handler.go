package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/edge-proxy/internal/backend"
	"github.com/angeloszaimis/edge-proxy/internal/cache"
	"github.com/angeloszaimis/edge-proxy/internal/endpoint"
	"github.com/angeloszaimis/edge-proxy/internal/health"
	"github.com/angeloszaimis/edge-proxy/internal/metrics"
	"github.com/angeloszaimis/edge-proxy/internal/router"
)

// Options are the collaborators of a ProxyHandler. Stats must be the manager
// the backends were created with, otherwise least-conn selection and the
// admin view read different counters.
type Options struct {
	Health  *health.Manager
	Stats   *endpoint.Manager
	Cache   *cache.Cache
	Policy  cache.Policy
	Admin   http.Handler
	Metrics *metrics.Collector

	// MaxAttempts bounds how many backends an idempotent request is tried on.
	MaxAttempts int
	// CoalesceWait bounds how long a cache miss waits for a population of the
	// same key that is already in flight.
	CoalesceWait time.Duration
}

// tuning is the part of the options that can change on reload.
type tuning struct {
	policy       cache.Policy
	maxAttempts  int
	coalesceWait time.Duration
}

type ProxyHandler struct {
	logger  *slog.Logger
	mapper  *router.Mapper
	health  *health.Manager
	stats   *endpoint.Manager
	cache   *cache.Cache
	admin   http.Handler
	metrics *metrics.Collector
	tuning  atomic.Pointer[tuning]
}

func NewProxyHandler(logger *slog.Logger, mapper *router.Mapper, opts Options) *ProxyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Health == nil {
		opts.Health = health.NewManager(health.Thresholds{}, logger)
	}
	if opts.Stats == nil {
		opts.Stats = endpoint.NewManager()
	}

	h := &ProxyHandler{
		logger:  logger,
		mapper:  mapper,
		health:  opts.Health,
		stats:   opts.Stats,
		cache:   opts.Cache,
		admin:   opts.Admin,
		metrics: opts.Metrics,
	}
	h.Retune(opts.Policy, opts.MaxAttempts, opts.CoalesceWait)
	return h
}

// Retune replaces the cache policy and retry settings. Requests in flight
// keep the settings they started with.
func (h *ProxyHandler) Retune(policy cache.Policy, maxAttempts int, coalesceWait time.Duration) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	h.tuning.Store(&tuning{policy: policy, maxAttempts: maxAttempts, coalesceWait: coalesceWait})
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	id := requestID(r)
	r.Header.Set(RequestIDHeader, id)
	w.Header().Set(RequestIDHeader, id)

	clientIP := extractClientIP(r)

	h.logger.Debug("Received request",
		slog.String("request_id", id),
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto),
		slog.String("host", r.Host),
		slog.String("user_agent", r.UserAgent()))

	snapshot := h.mapper.Snapshot()
	res := snapshot.Map(r, router.UserContext{ClientIP: clientIP, RequestID: id}, h.health)

	t := h.tuning.Load()
	rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	defer func() {
		h.metrics.Emit(metrics.MetricEvent{
			Type:       metrics.EventRequestCompleted,
			Action:     res.Action.String(),
			StatusCode: rec.statusCode,
			Duration:   time.Since(start),
		})
	}()

	switch res.Action {
	case router.ActionSystem:
		h.serveSystem(rec, r, snapshot.SystemPrefix())

	case router.ActionNotFound:
		h.logger.Debug("Request not routed",
			slog.String("request_id", id),
			slog.String("host", r.Host),
			slog.String("path", r.URL.Path),
			slog.String("reason", string(res.Reason)))
		status := res.Status()
		http.Error(rec, http.StatusText(status), status)

	case router.ActionCache:
		h.serveCacheable(rec, r, res, t)

	default:
		h.forward(rec, r, res, t, "")
	}
}

func (h *ProxyHandler) serveSystem(w http.ResponseWriter, r *http.Request, prefix string) {
	if h.admin == nil {
		http.NotFound(w, r)
		return
	}
	http.StripPrefix(strings.TrimSuffix(prefix, "/"), h.admin).ServeHTTP(w, r)
}

// forward proxies r to the chosen backend, then to the alternates while the
// attempts fail before anything reached the client. A non-empty cacheKey
// populates the cache from the response.
func (h *ProxyHandler) forward(w *statusRecorder, r *http.Request, res router.MapResult, t *tuning, cacheKey string) {
	candidates := make([]*backend.Backend, 0, 1+len(res.Alternates))
	candidates = append(candidates, res.Backend)
	candidates = append(candidates, res.Alternates...)

	attempts := 1
	if retryable(r) {
		attempts = min(t.maxAttempts, len(candidates))
	}

	for i := 0; i < attempts; i++ {
		last := i == attempts-1
		err := h.attempt(w, r, candidates[i], t.policy, cacheKey, last)
		if err == nil || w.wroteHeader || r.Context().Err() != nil {
			return
		}

		if !last {
			h.logger.Info("Retrying on alternate backend",
				slog.String("request_id", r.Header.Get(RequestIDHeader)),
				slog.String("failed", candidates[i].ID()),
				slog.String("next", candidates[i+1].ID()),
				slog.String("error", err.Error()))
		}
	}
}

// attempt sends r to b once and returns the transport error, if any.
func (h *ProxyHandler) attempt(w *statusRecorder, r *http.Request, b *backend.Backend, policy cache.Policy, cacheKey string, last bool) error {
	key := b.Key()
	h.stats.OnRequestStarted(key)
	defer h.stats.OnRequestCompleted(key)

	x := &exchange{
		handler:  h,
		backend:  b,
		policy:   policy,
		cacheKey: cacheKey,
		last:     last,
		start:    time.Now(),
	}

	b.ReverseProxy().ServeHTTP(w, r.WithContext(backend.WithExchange(r.Context(), x)))
	return x.err
}

func retryable(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
	default:
		return false
	}
	return r.Body == nil || r.Body == http.NoBody
}

// exchange is the backend.Exchange of one attempt.
type exchange struct {
	handler  *ProxyHandler
	backend  *backend.Backend
	policy   cache.Policy
	cacheKey string
	last     bool
	start    time.Time
	err      error
}

func (x *exchange) OnResponse(res *http.Response) error {
	h := x.handler
	elapsed := time.Since(x.start)

	x.backend.RecordResponse(elapsed)
	if res.StatusCode >= http.StatusInternalServerError {
		h.health.ReportFailure(x.backend.Key(), fmt.Errorf("backend answered %d", res.StatusCode))
	} else {
		h.health.ReportSuccess(x.backend.Key())
	}
	h.metrics.Emit(metrics.MetricEvent{
		Type:       metrics.EventBackendAttempt,
		Backend:    x.backend.ID(),
		Duration:   elapsed,
		StatusCode: res.StatusCode,
	})

	if x.cacheKey != "" {
		h.populate(res, x.policy, x.cacheKey)
	}

	res.Header.Set(BackendHeader, x.backend.ID())
	return nil
}

func (x *exchange) OnError(w http.ResponseWriter, r *http.Request, err error) {
	h := x.handler
	x.err = err

	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		h.logger.Debug("Client went away",
			slog.String("request_id", r.Header.Get(RequestIDHeader)),
			slog.String("backend", x.backend.ID()))
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	h.health.ReportFailure(x.backend.Key(), err)
	h.metrics.Emit(metrics.MetricEvent{
		Type:     metrics.EventBackendAttempt,
		Backend:  x.backend.ID(),
		Duration: time.Since(x.start),
		Err:      true,
	})

	h.logger.Warn("Backend request failed",
		slog.String("request_id", r.Header.Get(RequestIDHeader)),
		slog.String("backend", x.backend.ID()),
		slog.String("error", err.Error()))

	if x.last {
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	}
}
