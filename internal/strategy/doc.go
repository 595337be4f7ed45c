// Package strategy defines the backend selection interface and implements
// various algorithms:
//
//   - Priority: First candidate in configuration order (failover)
//   - Random: Random backend selection
//   - Least Connections: Routes to backend with fewest active connections
//   - Least Response Time: Routes based on exponentially weighted moving average (EWMA) response times
//   - Consistent Hash: Session affinity on the client key
//   - Weighted: Weighted rendezvous hashing on the client key
//
// Strategies hold no mutable state. They receive the healthy candidates of a
// route and the request key, and never modify either.
package strategy
