// Package backend implements reverse proxy functionality for origin servers.
// It provides TCP connection accounting through a counting dialer, response
// time monitoring, and HTTP request forwarding whose response and error
// handling is delegated to a per-request Exchange.
package backend
