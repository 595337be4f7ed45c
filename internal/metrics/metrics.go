package metrics

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "edge"

// Metrics holds the prometheus series fed by events, plus a sliding window of
// backend response times for the JSON snapshot.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	cachePopulates  *prometheus.CounterVec
	healthChanges   *prometheus.CounterVec
	dropped         prometheus.Counter

	mutex         sync.RWMutex
	backendCalls  map[string]int64
	backendErrors map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	healthStatus  map[string]bool
	startTime     time.Time
}

type Snapshot struct {
	Uptime   time.Duration             `json:"uptime"`
	Backends map[string]BackendMetrics `json:"backends"`
}

type BackendMetrics struct {
	Requests    int64         `json:"requests"`
	Errors      int64         `json:"errors"`
	Healthy     bool          `json:"healthy"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
	StatusCodes map[int]int64 `json:"status_codes"`
}

const responseWindow = 1000

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests handled, by routing action and status code.",
		}, []string{"action", "code"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time to serve a request, by routing action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),

		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_attempts_total",
			Help:      "Requests forwarded to backends, by outcome.",
		}, []string{"backend", "outcome"}),

		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_response_seconds",
			Help:      "Backend response time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),

		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups, by result.",
		}, []string{"result"}),

		cachePopulates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "populations_total",
			Help:      "Cache populations, by result.",
		}, []string{"result"}),

		healthChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_transitions_total",
			Help:      "Backend health transitions, by new state.",
		}, []string{"backend", "state"}),

		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_events_dropped_total",
			Help:      "Metric events dropped because the collector buffer was full.",
		}),

		backendCalls:  make(map[string]int64),
		backendErrors: make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		healthStatus:  make(map[string]bool),
		startTime:     time.Now(),
	}

	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.attempts,
		m.attemptDuration,
		m.cacheLookups,
		m.cachePopulates,
		m.healthChanges,
		m.dropped,
	)
	return m
}

// Registry returns the registry every series is registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordRequest(action string, statusCode int, duration time.Duration) {
	m.requests.WithLabelValues(action, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(action).Observe(duration.Seconds())
}

func (m *Metrics) RecordAttempt(backend string, duration time.Duration, statusCode int, failed bool) {
	outcome := "success"
	if failed {
		outcome = "error"
	}
	m.attempts.WithLabelValues(backend, outcome).Inc()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.backendCalls[backend]++
	if failed {
		m.backendErrors[backend]++
		return
	}

	m.attemptDuration.WithLabelValues(backend).Observe(duration.Seconds())

	m.responseTimes[backend] = append(m.responseTimes[backend], duration)
	if len(m.responseTimes[backend]) > responseWindow {
		m.responseTimes[backend] = m.responseTimes[backend][1:]
	}

	if m.statusCodes[backend] == nil {
		m.statusCodes[backend] = make(map[int]int64)
	}
	m.statusCodes[backend][statusCode]++
}

func (m *Metrics) RecordCacheLookup(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordCachePopulate(result string) {
	m.cachePopulates.WithLabelValues(result).Inc()
}

func (m *Metrics) UpdateHealthStatus(backend string, healthy bool) {
	state := "unhealthy"
	if healthy {
		state = "healthy"
	}
	m.healthChanges.WithLabelValues(backend, state).Inc()

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[backend] = healthy
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:   time.Since(m.startTime),
		Backends: make(map[string]BackendMetrics),
	}

	// Collect all unique backends
	allBackends := make(map[string]bool)
	for backend := range m.backendCalls {
		allBackends[backend] = true
	}
	for backend := range m.healthStatus {
		allBackends[backend] = true
	}

	for backend := range allBackends {
		healthy, known := m.healthStatus[backend]
		bm := BackendMetrics{
			Requests:    m.backendCalls[backend],
			Errors:      m.backendErrors[backend],
			Healthy:     healthy || !known,
			StatusCodes: make(map[int]int64, len(m.statusCodes[backend])),
		}
		for code, n := range m.statusCodes[backend] {
			bm.StatusCodes[code] = n
		}

		durations := m.responseTimes[backend]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			bm.AvgResponse = average(sorted)
			bm.P50Response = percentile(sorted, 0.50)
			bm.P95Response = percentile(sorted, 0.95)
			bm.P99Response = percentile(sorted, 0.99)
		}

		snap.Backends[backend] = bm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
