package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angeloszaimis/edge-proxy/internal/cache"
	"github.com/angeloszaimis/edge-proxy/internal/endpoint"
	"github.com/angeloszaimis/edge-proxy/internal/health"
)

type CacheSource interface {
	Stats() cache.Stats
}

type EndpointSource interface {
	GetStats() []endpoint.Snapshot
}

type HealthSource interface {
	Snapshot() []health.State
}

// LiveSources are read on every scrape. Nil sources are skipped.
type LiveSources struct {
	Cache     CacheSource
	Endpoints EndpointSource
	Health    HealthSource
}

// RegisterLive exposes the current state of the given sources.
func (m *Metrics) RegisterLive(src LiveSources) error {
	if src.Cache != nil {
		gauges := []prometheus.Collector{
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "entries",
				Help:      "Entries stored in the cache.",
			}, func() float64 { return float64(src.Cache.Stats().Entries) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "bytes",
				Help:      "Body bytes stored in the cache.",
			}, func() float64 { return float64(src.Cache.Stats().Bytes) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "max_bytes",
				Help:      "Configured cache size limit, 0 when unbounded.",
			}, func() float64 { return float64(src.Cache.Stats().MaxSize) }),
		}
		for _, g := range gauges {
			if err := m.registry.Register(g); err != nil {
				return err
			}
		}
	}

	if src.Endpoints != nil || src.Health != nil {
		return m.registry.Register(newStateCollector(src.Endpoints, src.Health))
	}
	return nil
}

// stateCollector reports per-endpoint connection counters and health.
type stateCollector struct {
	endpoints   EndpointSource
	health      HealthSource
	connections *prometheus.Desc
	total       *prometheus.Desc
	healthy     *prometheus.Desc
}

func newStateCollector(endpoints EndpointSource, h HealthSource) *stateCollector {
	return &stateCollector{
		endpoints: endpoints,
		health:    h,
		connections: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "endpoint", "connections"),
			"Current connections per backend endpoint, by kind (active requests or open TCP sessions).",
			[]string{"endpoint", "kind"}, nil,
		),
		total: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "endpoint", "connections_total"),
			"TCP connections ever opened per backend endpoint.",
			[]string{"endpoint"}, nil,
		),
		healthy: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "endpoint", "healthy"),
			"1 when the endpoint receives traffic, 0 when marked unhealthy.",
			[]string{"endpoint"}, nil,
		),
	}
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.total
	ch <- c.healthy
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	if c.endpoints != nil {
		for _, s := range c.endpoints.GetStats() {
			ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.ActiveConnections), s.Endpoint, "active")
			ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.OpenConnections), s.Endpoint, "open")
			ch <- prometheus.MustNewConstMetric(c.total, prometheus.CounterValue, float64(s.TotalConnections), s.Endpoint)
		}
	}

	if c.health != nil {
		for _, s := range c.health.Snapshot() {
			v := 0.0
			if s.Status == health.StatusHealthy {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, v, s.Endpoint)
		}
	}
}
