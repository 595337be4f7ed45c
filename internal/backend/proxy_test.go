package backend_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-proxy/internal/backend"
	"github.com/angeloszaimis/edge-proxy/internal/endpoint"
	"github.com/angeloszaimis/edge-proxy/pkg/logger"
)

type recordingExchange struct {
	mutex     sync.Mutex
	responses int
	errs      []error
	reject    error
}

func (e *recordingExchange) OnResponse(res *http.Response) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.responses++
	res.Header.Set("X-Seen", "1")
	return e.reject
}

func (e *recordingExchange) OnError(w http.ResponseWriter, _ *http.Request, err error) {
	e.mutex.Lock()
	e.errs = append(e.errs, err)
	e.mutex.Unlock()
	w.WriteHeader(http.StatusTeapot)
}

var _ = Describe("Backend", func() {
	var (
		stats *endpoint.Manager
		b     *backend.Backend
	)

	BeforeEach(func() {
		stats = endpoint.NewManager()
		b = backend.New(backend.Config{
			ID:  "api",
			URL: mustParseURL("http://localhost:8081"),
		}, backend.DefaultTransportOptions(), stats, logger.Discard())
	})

	Describe("New", func() {
		It("should expose the configuration", func() {
			Expect(b.ID()).To(Equal("api"))
			Expect(b.URL().String()).To(Equal("http://localhost:8081"))
			Expect(b.Key()).To(Equal(endpoint.Key{Host: "localhost", Port: 8081}))
			Expect(b.Weight()).To(Equal(1))
			Expect(b.ReverseProxy()).NotTo(BeNil())
		})

		It("should default the id to the url", func() {
			other := backend.New(backend.Config{URL: mustParseURL("http://10.0.0.1:9000")},
				backend.DefaultTransportOptions(), nil, nil)
			Expect(other.ID()).To(Equal("http://10.0.0.1:9000"))
		})

		DescribeTable("probe URL",
			func(base, path, expected string) {
				other := backend.New(backend.Config{URL: mustParseURL(base), ProbePath: path},
					backend.DefaultTransportOptions(), nil, nil)
				Expect(other.ProbeURL().String()).To(Equal(expected))
			},
			Entry("default path", "http://localhost:8081", "", "http://localhost:8081/health"),
			Entry("custom path", "http://localhost:8081", "/status", "http://localhost:8081/status"),
			Entry("base with path", "http://localhost:8081/app/", "ready", "http://localhost:8081/app/ready"),
		)

		It("should keep the configured weight", func() {
			other := backend.New(backend.Config{URL: mustParseURL("http://localhost:1"), Weight: 5},
				backend.DefaultTransportOptions(), nil, nil)
			Expect(other.Weight()).To(Equal(5))
		})
	})

	Describe("ActiveConnections", func() {
		It("should read the endpoint stats", func() {
			Expect(b.ActiveConnections()).To(Equal(0))
			stats.OnRequestStarted(b.Key())
			stats.OnRequestStarted(b.Key())
			Expect(b.ActiveConnections()).To(Equal(2))
			stats.OnRequestCompleted(b.Key())
			Expect(b.ActiveConnections()).To(Equal(1))
		})
	})

	Describe("Response Time Tracking (EWMA)", func() {
		It("should start at zero", func() {
			Expect(b.EWMATime()).To(BeZero())
		})

		It("should initialise with the first sample", func() {
			b.RecordResponse(100 * time.Millisecond)
			Expect(b.EWMATime()).To(Equal(100 * time.Millisecond))
		})

		It("should smooth subsequent samples", func() {
			b.RecordResponse(100 * time.Millisecond)
			b.RecordResponse(200 * time.Millisecond)
			Expect(b.EWMATime()).To(Equal(120 * time.Millisecond))
		})

		It("should be thread-safe", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					b.RecordResponse(time.Duration(i) * time.Millisecond)
				}(i)
			}
			wg.Wait()
			Expect(b.EWMATime()).To(BeNumerically(">", 0))
		})
	})

	Describe("ReverseProxy", func() {
		var origin *httptest.Server

		BeforeEach(func() {
			origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Origin-Host", r.Host)
				_, _ = io.WriteString(w, "hello")
			}))
			b = backend.New(backend.Config{ID: "origin", URL: mustParseURL(origin.URL)},
				backend.DefaultTransportOptions(), stats, logger.Discard())
		})

		AfterEach(func() {
			b.Close()
			origin.Close()
		})

		It("should count one dialed connection across keep-alive requests", func() {
			for i := 0; i < 3; i++ {
				req := httptest.NewRequest(http.MethodGet, "http://edge.local/", nil)
				w := httptest.NewRecorder()
				b.ReverseProxy().ServeHTTP(w, req)
				Expect(w.Code).To(Equal(http.StatusOK))
				Expect(w.Body.String()).To(Equal("hello"))
			}

			s, ok := stats.Lookup(b.Key())
			Expect(ok).To(BeTrue())
			Expect(s.TotalConnections()).To(Equal(int64(1)))
			Expect(s.OpenConnections()).To(Equal(int64(1)))

			b.Close()
			Eventually(s.OpenConnections).Should(BeZero())
		})

		It("should preserve the inbound host", func() {
			req := httptest.NewRequest(http.MethodGet, "http://edge.local/", nil)
			w := httptest.NewRecorder()
			b.ReverseProxy().ServeHTTP(w, req)
			Expect(w.Header().Get("X-Origin-Host")).To(Equal("edge.local"))
		})

		It("should delegate responses to the exchange", func() {
			ex := &recordingExchange{}
			req := httptest.NewRequest(http.MethodGet, "http://edge.local/", nil)
			req = req.WithContext(backend.WithExchange(req.Context(), ex))
			w := httptest.NewRecorder()

			b.ReverseProxy().ServeHTTP(w, req)

			Expect(ex.responses).To(Equal(1))
			Expect(w.Header().Get("X-Seen")).To(Equal("1"))
		})

		It("should route rejected responses to the exchange error hook", func() {
			ex := &recordingExchange{reject: errors.New("rejected")}
			req := httptest.NewRequest(http.MethodGet, "http://edge.local/", nil)
			req = req.WithContext(backend.WithExchange(req.Context(), ex))
			w := httptest.NewRecorder()

			b.ReverseProxy().ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusTeapot))
			Expect(ex.errs).To(HaveLen(1))
		})

		It("should answer 502 without an exchange when the origin is down", func() {
			origin.Close()
			req := httptest.NewRequest(http.MethodGet, "http://edge.local/", nil)
			w := httptest.NewRecorder()

			b.ReverseProxy().ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadGateway))
		})
	})
})
