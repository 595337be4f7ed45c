package cache_test

import (
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-proxy/internal/cache"
)

var _ = Describe("Fingerprint", func() {
	key := func(method, target string, headers ...string) string {
		req := httptest.NewRequest(method, target, nil)
		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Add(headers[i], headers[i+1])
		}
		return cache.Fingerprint(req, []string{"Accept-Language"})
	}

	It("should fold HEAD into GET", func() {
		Expect(key(http.MethodHead, "http://example.com/a")).To(Equal(key(http.MethodGet, "http://example.com/a")))
	})

	It("should ignore host case and port", func() {
		Expect(key(http.MethodGet, "http://EXAMPLE.com:8080/a")).To(Equal(key(http.MethodGet, "http://example.com/a")))
	})

	It("should sort query parameters", func() {
		Expect(key(http.MethodGet, "http://example.com/a?b=2&a=1")).To(Equal(key(http.MethodGet, "http://example.com/a?a=1&b=2")))
	})

	It("should separate paths, queries and hosts", func() {
		base := key(http.MethodGet, "http://example.com/a")
		Expect(key(http.MethodGet, "http://example.com/b")).NotTo(Equal(base))
		Expect(key(http.MethodGet, "http://example.com/a?x=1")).NotTo(Equal(base))
		Expect(key(http.MethodGet, "http://example.org/a")).NotTo(Equal(base))
		Expect(key(http.MethodPost, "http://example.com/a")).NotTo(Equal(base))
	})

	It("should include configured headers only", func() {
		base := key(http.MethodGet, "http://example.com/a")
		Expect(key(http.MethodGet, "http://example.com/a", "Accept-Language", "fr")).NotTo(Equal(base))
		Expect(key(http.MethodGet, "http://example.com/a", "User-Agent", "curl")).To(Equal(base))
	})
})
