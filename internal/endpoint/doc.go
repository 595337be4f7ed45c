// Package endpoint tracks connection statistics per backend endpoint.
//
// Every backend is identified by a Key (host, port). The Manager lazily
// creates one Stats per key on the connection-establishment path and keeps it
// for the lifetime of the server, or until a configuration reload removes the
// backend. Readers (health checks, the admin API, metrics) use Lookup and
// Snapshot, which never create entries.
//
// Counters are updated with atomics only:
//
//   - total connections: monotonic count of TCP connections dialed
//   - open connections: TCP connections currently established
//   - active connections: requests currently in flight
//
// Decrements never take a counter below zero.
package endpoint
