package endpoint

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Key identifies a backend endpoint by host and port.
type Key struct {
	Host string
	Port int
}

// NewKey builds a key with a lower-cased host.
func NewKey(host string, port int) Key {
	return Key{Host: strings.ToLower(host), Port: port}
}

// KeyFromURL derives the key of a backend URL, filling in the scheme's default
// port when the URL has none.
func KeyFromURL(u *url.URL) Key {
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		switch u.Scheme {
		case "https":
			port = 443
		default:
			port = 80
		}
	}
	return NewKey(u.Hostname(), port)
}

// String renders the key as host:port.
func (k Key) String() string {
	return net.JoinHostPort(k.Host, strconv.Itoa(k.Port))
}
