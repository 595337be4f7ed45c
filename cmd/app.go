package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/edge-proxy/config"
	"github.com/angeloszaimis/edge-proxy/internal/backend"
	"github.com/angeloszaimis/edge-proxy/internal/cache"
	"github.com/angeloszaimis/edge-proxy/internal/certs"
	"github.com/angeloszaimis/edge-proxy/internal/endpoint"
	"github.com/angeloszaimis/edge-proxy/internal/handler"
	"github.com/angeloszaimis/edge-proxy/internal/health"
	"github.com/angeloszaimis/edge-proxy/internal/httpserver"
	"github.com/angeloszaimis/edge-proxy/internal/metrics"
	"github.com/angeloszaimis/edge-proxy/internal/router"
	"github.com/angeloszaimis/edge-proxy/internal/strategy"
	"github.com/angeloszaimis/edge-proxy/pkg/logger"
)

const metricsBufferSize = 4096

// defaultStrategy balances the catch-all route used when no routes are
// configured.
const defaultStrategy = strategy.LeastConn

// liveBackend is a running backend plus what it was built from, so reloads
// can reuse it when nothing changed.
type liveBackend struct {
	backend *backend.Backend
	cfg     config.BackendConfig
	opts    backend.TransportOptions
}

// app owns every long-lived component of the proxy.
type app struct {
	logger    *slog.Logger
	stats     *endpoint.Manager
	health    *health.Manager
	prober    *health.Prober
	cache     *cache.Cache
	sweeper   *cache.Sweeper
	mapper    *router.Mapper
	certs     *certs.Store
	collector *metrics.Collector
	proxy     *handler.ProxyHandler
	admin     http.Handler

	mutex    sync.Mutex
	cfg      *config.Config
	backends map[string]liveBackend
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{
		logger:   log,
		stats:    endpoint.NewManager(),
		certs:    certs.NewStore(logger.Component(log, "certs")),
		backends: make(map[string]liveBackend),
		cfg:      cfg,
	}

	a.collector = metrics.NewCollector(metricsBufferSize, logger.Component(log, "metrics"))
	a.health = health.NewManager(thresholds(cfg), logger.Component(log, "health"))
	a.health.OnChange(func(key endpoint.Key, status health.Status) {
		for _, id := range a.backendIDs(key) {
			a.collector.Emit(metrics.MetricEvent{
				Type:    metrics.EventHealthChanged,
				Backend: id,
				Healthy: status == health.StatusHealthy,
			})
		}
	})
	a.prober = health.NewProber(a.health, cfg.HealthCheck.Interval, cfg.HealthCheck.Timeout,
		logger.Component(log, "prober"))

	a.cache = cache.New(runtimeConfiguration(cfg), logger.Component(log, "cache"))
	if cfg.Cache.SweepSchedule != "" {
		sweeper, err := cache.NewSweeper(a.cache, cfg.Cache.SweepSchedule, logger.Component(log, "sweeper"))
		if err != nil {
			return nil, err
		}
		a.sweeper = sweeper
	}

	if err := a.certs.Load(certificates(cfg)); err != nil {
		return nil, err
	}

	snapshot, built, err := a.buildSnapshot(cfg)
	if err != nil {
		return nil, err
	}
	a.backends = built
	a.mapper = router.NewMapper(snapshot)
	a.prober.Update(probeTargets(built))

	err = a.collector.Metrics().RegisterLive(metrics.LiveSources{
		Cache:     a.cache,
		Endpoints: a.stats,
		Health:    a.health,
	})
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a.admin = setupAdmin(a)
	a.proxy = handler.NewProxyHandler(logger.Component(log, "proxy"), a.mapper, handler.Options{
		Health:       a.health,
		Stats:        a.stats,
		Cache:        a.cache,
		Policy:       policy(cfg),
		Admin:        a.admin,
		Metrics:      a.collector,
		MaxAttempts:  cfg.Proxy.MaxAttempts,
		CoalesceWait: cfg.Cache.CoalesceWait,
	})

	return a, nil
}

// backendIDs returns the ids of the live backends reached through key. Health
// is tracked per endpoint while metrics are labelled by backend id.
func (a *app) backendIDs(key endpoint.Key) []string {
	if a.mapper == nil {
		return nil
	}

	var ids []string
	for _, b := range a.mapper.Snapshot().Backends() {
		if b.Key() == key {
			ids = append(ids, b.ID())
		}
	}
	return ids
}

// buildSnapshot compiles cfg into a router snapshot. Backends whose
// configuration is unchanged are reused; new ones are created but not
// registered anywhere until the caller commits them.
func (a *app) buildSnapshot(cfg *config.Config) (*router.Snapshot, map[string]liveBackend, error) {
	opts := transportOptions(cfg)
	built := make(map[string]liveBackend, len(cfg.Backends))
	backends := make([]*backend.Backend, 0, len(cfg.Backends))
	ids := make([]string, 0, len(cfg.Backends))

	for _, bc := range cfg.Backends {
		id := bc.BackendID()
		if bc.ProbePath == "" {
			bc.ProbePath = cfg.HealthCheck.Path
		}

		lb, ok := a.backends[id]
		if !ok || lb.cfg != bc || lb.opts != opts {
			u, err := url.Parse(bc.URL)
			if err != nil {
				closeNew(built, a.backends)
				return nil, nil, fmt.Errorf("backend %q: %w", id, err)
			}

			lb = liveBackend{
				backend: backend.New(backend.Config{
					ID:        id,
					URL:       u,
					Weight:    bc.Weight,
					ProbePath: bc.ProbePath,
				}, opts, a.stats, logger.Component(a.logger, "backend")),
				cfg:  bc,
				opts: opts,
			}
		}

		built[id] = lb
		backends = append(backends, lb.backend)
		ids = append(ids, id)
	}

	routes := make([]router.RouteConfig, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		routes = append(routes, router.RouteConfig{
			ID:           rc.ID,
			Host:         rc.Host,
			Path:         rc.Path,
			Backends:     rc.Backends,
			Strategy:     rc.Strategy,
			VirtualNodes: rc.VirtualNodes,
			Cache:        rc.Cache,
		})
	}
	if len(routes) == 0 {
		routes = append(routes, router.RouteConfig{ID: "default", Backends: ids, Strategy: defaultStrategy})
	}

	snapshot, err := router.NewSnapshot(router.SnapshotConfig{
		SystemPrefix: cfg.Server.SystemPrefix,
		CacheAll:     cfg.Cache.CacheAll,
		Backends:     backends,
		Routes:       routes,
	})
	if err != nil {
		closeNew(built, a.backends)
		return nil, nil, err
	}

	return snapshot, built, nil
}

// closeNew closes the backends of built that are not in live.
func closeNew(built, live map[string]liveBackend) {
	for id, lb := range built {
		if cur, ok := live[id]; !ok || cur.backend != lb.backend {
			lb.backend.Close()
		}
	}
}

// reload applies cfg to the running components. A configuration that cannot
// be applied is logged and the previous one stays live.
func (a *app) reload(cfg *config.Config) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	snapshot, built, err := a.buildSnapshot(cfg)
	if err != nil {
		a.logger.Warn("Rejected configuration reload", slog.String("error", err.Error()))
		return
	}

	if err := a.certs.Load(certificates(cfg)); err != nil {
		closeNew(built, a.backends)
		a.logger.Warn("Rejected configuration reload", slog.String("error", err.Error()))
		return
	}

	prev := a.cfg
	a.mapper.Swap(snapshot)

	if !slices.Equal(prev.Cache.KeyHeaders, cfg.Cache.KeyHeaders) {
		a.cache.Purge()
		a.logger.Info("Cache key headers changed, cache purged")
	}
	if a.cache.Reload(runtimeConfiguration(cfg)) {
		a.logger.Info("Cache limits reloaded",
			slog.Int64("max_size", cfg.Cache.MaxSize),
			slog.Int64("max_file_size", cfg.Cache.MaxFileSize))
	}
	a.proxy.Retune(policy(cfg), cfg.Proxy.MaxAttempts, cfg.Cache.CoalesceWait)

	a.health.SetThresholds(thresholds(cfg))
	keys := make([]endpoint.Key, 0, len(built))
	for _, lb := range built {
		keys = append(keys, lb.backend.Key())
	}
	a.health.Retain(keys)
	a.prober.Update(probeTargets(built))

	for id, lb := range a.backends {
		if next, ok := built[id]; ok && next.backend == lb.backend {
			continue
		}
		lb.backend.Close()
		if !slices.Contains(keys, lb.backend.Key()) {
			a.stats.Remove(lb.backend.Key())
		}
		a.logger.Info("Backend removed", slog.String("backend", id))
	}
	a.backends = built

	warnRestartOnly(a.logger, prev, cfg)
	a.cfg = cfg

	a.logger.Info("Configuration reloaded",
		slog.Int("backends", len(built)),
		slog.Int("routes", len(snapshot.Routes())))
}

// warnRestartOnly logs settings that only take effect after a restart.
func warnRestartOnly(log *slog.Logger, prev, next *config.Config) {
	changed := func(name string, differs bool) {
		if differs {
			log.Warn("Setting changes require a restart", slog.String("setting", name))
		}
	}

	changed("server", prev.Server.Address != next.Server.Address ||
		prev.Server.TLSAddress != next.Server.TLSAddress ||
		prev.Server.ReadTimeout != next.Server.ReadTimeout ||
		prev.Server.WriteTimeout != next.Server.WriteTimeout ||
		prev.Server.IdleTimeout != next.Server.IdleTimeout)
	changed("admin.address", prev.Admin.Address != next.Admin.Address)
	changed("logging", prev.Logging != next.Logging)
	changed("health_check.interval", prev.HealthCheck.Interval != next.HealthCheck.Interval ||
		prev.HealthCheck.Timeout != next.HealthCheck.Timeout)
	changed("cache.sweep_schedule", prev.Cache.SweepSchedule != next.Cache.SweepSchedule)
}

// servers creates the listeners cfg asks for.
func (a *app) servers(cfg *config.Config) ([]*httpserver.Server, error) {
	opts := httpserver.Options{
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          logger.Component(a.logger, "server"),
	}

	primary, err := httpserver.New(cfg.Server.Address, a.proxy, opts)
	if err != nil {
		return nil, fmt.Errorf("server.address: %w", err)
	}
	out := []*httpserver.Server{primary}

	if cfg.Server.TLSAddress != "" {
		tlsOpts := opts
		tlsOpts.TLSConfig = a.certs.TLSConfig()
		srv, err := httpserver.New(cfg.Server.TLSAddress, a.proxy, tlsOpts)
		if err != nil {
			return nil, fmt.Errorf("server.tls_address: %w", err)
		}
		out = append(out, srv)
	}

	if cfg.Admin.Address != "" {
		srv, err := httpserver.New(cfg.Admin.Address, a.admin, opts)
		if err != nil {
			return nil, fmt.Errorf("admin.address: %w", err)
		}
		out = append(out, srv)
	}

	return out, nil
}

// run serves until ctx is done or a component fails.
func (a *app) run(ctx context.Context, watch func(onChange func(*config.Config))) error {
	servers, err := a.servers(a.cfg)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.collector.Run(ctx) })
	g.Go(func() error { return a.prober.Run(ctx) })
	if a.sweeper != nil {
		g.Go(func() error { return a.sweeper.Run(ctx) })
	}
	for _, srv := range servers {
		g.Go(func() error { return srv.Run(ctx) })
	}

	if watch != nil {
		watch(a.reload)
	}

	err = g.Wait()
	a.close()
	return err
}

// close releases backend connections once serving has stopped.
func (a *app) close() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, lb := range a.backends {
		lb.backend.Close()
	}
	a.prober.Close()
}

func thresholds(cfg *config.Config) health.Thresholds {
	return health.Thresholds{
		Failure: cfg.HealthCheck.FailureThreshold,
		Success: cfg.HealthCheck.SuccessThreshold,
	}
}

func runtimeConfiguration(cfg *config.Config) cache.RuntimeConfiguration {
	return cache.RuntimeConfiguration{
		MaxSize:     cfg.Cache.MaxSize,
		MaxFileSize: cfg.Cache.MaxFileSize,
	}
}

func policy(cfg *config.Config) cache.Policy {
	return cache.Policy{
		DefaultTTL: cfg.Cache.DefaultTTL,
		KeyHeaders: cfg.Cache.KeyHeaders,
	}
}

func transportOptions(cfg *config.Config) backend.TransportOptions {
	opts := backend.DefaultTransportOptions()
	if cfg.Proxy.DialTimeout > 0 {
		opts.DialTimeout = cfg.Proxy.DialTimeout
	}
	if cfg.Proxy.ResponseHeaderTimeout > 0 {
		opts.ResponseHeaderTimeout = cfg.Proxy.ResponseHeaderTimeout
	}
	if cfg.Proxy.IdleConnTimeout > 0 {
		opts.IdleConnTimeout = cfg.Proxy.IdleConnTimeout
	}
	if cfg.Proxy.MaxIdleConnsPerHost > 0 {
		opts.MaxIdleConnsPerHost = cfg.Proxy.MaxIdleConnsPerHost
	}
	return opts
}

func certificates(cfg *config.Config) []certs.Definition {
	defs := make([]certs.Definition, 0, len(cfg.Certificates))
	for _, c := range cfg.Certificates {
		defs = append(defs, certs.Definition{
			ID:       c.ID,
			Hostname: c.Hostname,
			CertFile: c.CertFile,
			KeyFile:  c.KeyFile,
		})
	}
	return defs
}

func probeTargets(backends map[string]liveBackend) []health.Target {
	targets := make([]health.Target, 0, len(backends))
	for _, lb := range backends {
		targets = append(targets, health.Target{
			Key: lb.backend.Key(),
			URL: lb.backend.ProbeURL(),
		})
	}
	return targets
}
