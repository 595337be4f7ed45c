// Package health tracks the up/down state of every backend endpoint.
//
// State changes are driven by two sources: active probes run by the Prober,
// and passive reports from the request pipeline. Both feed the same
// hysteresis: an endpoint turns UNHEALTHY after Thresholds.Failure
// consecutive failures and HEALTHY again after Thresholds.Success
// consecutive successes. Endpoints start HEALTHY.
//
// IsHealthy is called on every routing decision and never takes a lock.
package health
