package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventRequestCompleted EventType = "request_completed"
	EventBackendAttempt   EventType = "backend_attempt"
	EventCacheLookup      EventType = "cache_lookup"
	EventCachePopulate    EventType = "cache_populate"
	EventHealthChanged    EventType = "health_changed"
)

// Cache results carried in MetricEvent.Result.
const (
	CacheHit       = "hit"
	CacheMiss      = "miss"
	CacheBypass    = "bypass"
	CacheCoalesced = "coalesced"
	CacheStored    = "stored"
	CacheRejected  = "rejected"
	CacheAborted   = "aborted"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Action     string
	Backend    string
	Duration   time.Duration
	StatusCode int
	Result     string
	Err        bool
	Healthy    bool
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

// Emit queues event without blocking. A nil collector discards it.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.metrics.dropped.Inc()
	}
}

// Run processes events until ctx is done, then drains what is queued.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return nil
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestCompleted:
		c.metrics.RecordRequest(event.Action, event.StatusCode, event.Duration)

	case EventBackendAttempt:
		c.metrics.RecordAttempt(event.Backend, event.Duration, event.StatusCode, event.Err)

	case EventCacheLookup:
		c.metrics.RecordCacheLookup(event.Result)

	case EventCachePopulate:
		c.metrics.RecordCachePopulate(event.Result)

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Backend, event.Healthy)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

// Metrics returns the underlying metric set.
func (c *Collector) Metrics() *Metrics {
	return c.metrics
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
