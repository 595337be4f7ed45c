// Package admin serves the read-only introspection API: cache occupancy,
// backend statistics and health, routes, certificates and prometheus metrics.
// Every handler reads live state through lock-free or read-locked accessors
// and never blocks request handling.
package admin
