// Package config loads the proxy configuration from a YAML file and EDGE_
// environment variables, validates it, and watches the file for changes.
// The configuration describes listeners, backends, routes, cache limits,
// health checking and TLS certificates.
package config
