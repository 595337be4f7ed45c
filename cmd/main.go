// Command edge-proxy is a TLS-terminating HTTP reverse proxy with routing,
// a size-bounded response cache and backend health tracking.
//
// Usage:
//
//	# Start the proxy
//	edge-proxy serve --config /etc/edge-proxy/config.yaml
//
//	# Validate a configuration without starting
//	edge-proxy check --config config.yaml
//
//	# Show version information
//	edge-proxy version
package main

func main() {
	Execute()
}
