package backend

import (
	"net/url"
	"time"
)

// Config is the static description of one backend.
type Config struct {
	ID        string
	URL       *url.URL
	Weight    int
	ProbePath string
}

// TransportOptions tunes the HTTP transport each backend dials through.
type TransportOptions struct {
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConnsPerHost   int
}

// DefaultTransportOptions returns the options used when none are configured.
func DefaultTransportOptions() TransportOptions {
	return TransportOptions{
		DialTimeout:           5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   32,
	}
}
