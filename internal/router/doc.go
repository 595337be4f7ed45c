// Package router maps inbound requests to routing decisions.
//
// A Snapshot is an immutable view of the configured backends and routes. The
// Mapper holds the live snapshot behind an atomic pointer; configuration
// reloads build a new Snapshot and Swap it in, so Map never locks and never
// sees a half-applied configuration.
//
// Map evaluates, in order, first match wins:
//
//  1. the system prefix: SYSTEM
//  2. no matching route: NOT_FOUND with reason NO_ROUTE
//  3. every backend of the route unhealthy: NOT_FOUND with reason BACKEND_UNAVAILABLE
//  4. cacheable route (or cache-all): CACHE
//  5. otherwise: PROXY
//
// Among matching routes the longest path prefix wins, then the most specific
// host pattern (exact, then the longest wildcard suffix, then any host), then
// configuration order. Path prefixes match whole segments, so "/api" covers
// "/api" and "/api/users" but not "/apiary".
package router
