// Package handler implements the request pipeline of the proxy. Each request
// is mapped to a routing decision, then answered from the cache, forwarded to
// a backend, handed to the admin API, or rejected. Connection statistics,
// passive health and cache population are updated along the way.
package handler
