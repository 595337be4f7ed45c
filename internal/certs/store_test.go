package certs_test

import (
	"crypto/tls"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-proxy/internal/certs"
	"github.com/angeloszaimis/edge-proxy/pkg/logger"
)

var _ = Describe("Store", func() {
	var (
		store *certs.Store
		dir   string
	)

	BeforeEach(func() {
		store = certs.NewStore(logger.Discard())
		dir = GinkgoT().TempDir()
	})

	hello := func(name string) *tls.ClientHelloInfo {
		return &tls.ClientHelloInfo{ServerName: name}
	}

	leafName := func(c *tls.Certificate) string {
		return c.Leaf.Subject.CommonName
	}

	It("should fail handshakes without certificates", func() {
		_, err := store.GetCertificate(hello("example.com"))
		Expect(err).To(MatchError(certs.ErrNoCertificate))
	})

	Context("with certificates loaded", func() {
		BeforeEach(func() {
			Expect(store.Load([]certs.Definition{
				writeCertificate(dir, "default", "default.local"),
				writeCertificate(dir, "www", "www.example.com"),
				writeCertificate(dir, "wild", "*.example.com"),
			})).To(Succeed())
		})

		DescribeTable("GetCertificate",
			func(serverName, expected string) {
				c, err := store.GetCertificate(hello(serverName))
				Expect(err).NotTo(HaveOccurred())
				Expect(leafName(c)).To(Equal(expected))
			},
			Entry("exact", "www.example.com", "www.example.com"),
			Entry("exact ignores case", "WWW.Example.COM", "www.example.com"),
			Entry("wildcard", "api.example.com", "*.example.com"),
			Entry("wildcard covers one label only", "a.b.example.com", "default.local"),
			Entry("unknown falls back to the first", "other.org", "default.local"),
			Entry("no SNI falls back to the first", "", "default.local"),
		)

		It("should describe loaded certificates", func() {
			Expect(store.Len()).To(Equal(3))

			list := store.List()
			Expect(list).To(HaveLen(3))
			Expect(list[0].ID).To(Equal("default"))

			info, ok := store.Get("www")
			Expect(ok).To(BeTrue())
			Expect(info.Hostnames).To(Equal([]string{"www.example.com"}))
			Expect(info.NotAfter.After(info.NotBefore)).To(BeTrue())

			_, ok = store.Get("missing")
			Expect(ok).To(BeFalse())
		})

		It("should keep the previous set when a reload fails", func() {
			err := store.Load([]certs.Definition{{ID: "broken", CertFile: "/nonexistent.crt", KeyFile: "/nonexistent.key"}})
			Expect(err).To(HaveOccurred())
			Expect(store.Len()).To(Equal(3))
		})

		It("should replace the set on reload", func() {
			Expect(store.Load([]certs.Definition{writeCertificate(dir, "only", "only.example.org")})).To(Succeed())
			c, err := store.GetCertificate(hello("www.example.com"))
			Expect(err).NotTo(HaveOccurred())
			Expect(leafName(c)).To(Equal("only.example.org"))
		})
	})

	It("should prefer the configured hostname over the certificate names", func() {
		def := writeCertificate(dir, "named", "a.example.com", "b.example.com")
		def.Hostname = "c.example.com"
		Expect(store.Load([]certs.Definition{def, writeCertificate(dir, "other", "other.org")})).To(Succeed())

		c, err := store.GetCertificate(hello("c.example.com"))
		Expect(err).NotTo(HaveOccurred())
		Expect(leafName(c)).To(Equal("a.example.com"))

		c, err = store.GetCertificate(hello("b.example.com"))
		Expect(err).NotTo(HaveOccurred())
		Expect(leafName(c)).To(Equal("a.example.com"))
	})

	It("should expose a TLS config", func() {
		cfg := store.TLSConfig()
		Expect(cfg.GetCertificate).NotTo(BeNil())
		Expect(cfg.MinVersion).To(Equal(uint16(tls.VersionTLS12)))
	})
})
