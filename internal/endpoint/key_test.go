package endpoint_test

import (
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-proxy/internal/endpoint"
)

var _ = Describe("Key", func() {
	DescribeTable("KeyFromURL",
		func(raw string, expected endpoint.Key) {
			u, err := url.Parse(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(endpoint.KeyFromURL(u)).To(Equal(expected))
		},
		Entry("explicit port", "http://localhost:8081", endpoint.Key{Host: "localhost", Port: 8081}),
		Entry("http default", "http://example.com/path", endpoint.Key{Host: "example.com", Port: 80}),
		Entry("https default", "https://Example.COM", endpoint.Key{Host: "example.com", Port: 443}),
		Entry("ipv6", "http://[::1]:9000", endpoint.Key{Host: "::1", Port: 9000}),
	)

	It("should compare by value", func() {
		Expect(endpoint.NewKey("LOCALHOST", 80)).To(Equal(endpoint.NewKey("localhost", 80)))
		m := map[endpoint.Key]int{endpoint.NewKey("a", 1): 1}
		Expect(m).To(HaveKey(endpoint.Key{Host: "a", Port: 1}))
	})

	It("should render host:port", func() {
		Expect(endpoint.NewKey("localhost", 8080).String()).To(Equal("localhost:8080"))
		Expect(endpoint.NewKey("::1", 8080).String()).To(Equal("[::1]:8080"))
	})
})
