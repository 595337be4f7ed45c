package cache

import (
	"net"
	"net/http"
	"strings"
)

// Fingerprint derives the cache key of r: method (HEAD folded into GET),
// lower-cased host, path, query with sorted keys, and the values of
// keyHeaders in the given order.
func Fingerprint(r *http.Request, keyHeaders []string) string {
	method := r.Method
	if method == http.MethodHead {
		method = http.MethodGet
	}

	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	path := r.URL.Path
	if path == "" {
		path = "/"
	}

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(host)
	b.WriteString(path)

	if query := r.URL.Query(); len(query) > 0 {
		b.WriteByte('?')
		b.WriteString(query.Encode())
	}

	for _, name := range keyHeaders {
		b.WriteByte('\n')
		b.WriteString(http.CanonicalHeaderKey(name))
		b.WriteByte(':')
		b.WriteString(strings.Join(r.Header.Values(name), ","))
	}

	return b.String()
}
