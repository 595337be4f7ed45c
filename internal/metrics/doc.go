// Package metrics provides metrics collection for the edge proxy.
//
// It uses a channel-based event pipeline to asynchronously collect metrics about:
//   - Requests by routing action and status code
//   - Backend attempts, failures and response times with percentiles (P50, P95, P99)
//   - Cache lookups and populations
//   - Health transitions
//
// The collector runs in a dedicated goroutine and processes events without blocking
// the request path. Events are sent via a buffered channel with non-blocking semantics;
// when the buffer is full the event is dropped and counted.
//
// Live state (cache occupancy, per-endpoint connections, health) is not sent as
// events; it is read from its owners on every scrape through RegisterLive.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	go collector.Run(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventRequestCompleted,
//		Action:     "PROXY",
//		Backend:    "api",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
//	http.Handle("/metrics", collector.Handler())
package metrics
