package backend

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/angeloszaimis/edge-proxy/internal/endpoint"
)

// countedConn reports its close exactly once.
type countedConn struct {
	net.Conn
	once    sync.Once
	onClose func()
}

func (c *countedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.onClose)
	return err
}

func newTransport(key endpoint.Key, opts TransportOptions, stats *endpoint.Manager) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}

			stats.OnConnectionOpened(key)
			return &countedConn{
				Conn:    conn,
				onClose: func() { stats.OnConnectionClosed(key) },
			}, nil
		},
		MaxIdleConns:          opts.MaxIdleConnsPerHost,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       opts.IdleConnTimeout,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
