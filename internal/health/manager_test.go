package health_test

import (
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-proxy/internal/endpoint"
	"github.com/angeloszaimis/edge-proxy/internal/health"
	"github.com/angeloszaimis/edge-proxy/pkg/logger"
)

var errProbe = errors.New("connection refused")

var _ = Describe("Manager", func() {
	var (
		m   *health.Manager
		key endpoint.Key
	)

	BeforeEach(func() {
		m = health.NewManager(health.Thresholds{Failure: 3, Success: 2}, logger.Discard())
		key = endpoint.NewKey("localhost", 8081)
	})

	Describe("NewManager", func() {
		It("should treat unknown endpoints as healthy", func() {
			Expect(m.IsHealthy(key)).To(BeTrue())
			Expect(m.Status(key)).To(Equal(health.StatusHealthy))
			Expect(m.Snapshot()).To(BeEmpty())
		})

		It("should clamp thresholds to at least one", func() {
			m = health.NewManager(health.Thresholds{}, nil)
			Expect(m.Thresholds()).To(Equal(health.Thresholds{Failure: 1, Success: 1}))
		})
	})

	Describe("State transitions", func() {
		Context("when HEALTHY", func() {
			It("should remain healthy below the failure threshold", func() {
				Expect(m.ReportFailure(key, errProbe)).To(BeFalse())
				Expect(m.ReportFailure(key, errProbe)).To(BeFalse())
				Expect(m.IsHealthy(key)).To(BeTrue())
			})

			It("should turn UNHEALTHY at the failure threshold", func() {
				m.ReportFailure(key, errProbe)
				m.ReportFailure(key, errProbe)
				Expect(m.ReportFailure(key, errProbe)).To(BeTrue())
				Expect(m.IsHealthy(key)).To(BeFalse())
			})

			It("should reset the failure streak on success", func() {
				m.ReportFailure(key, errProbe)
				m.ReportFailure(key, errProbe)
				m.ReportSuccess(key)
				m.ReportFailure(key, errProbe)
				Expect(m.IsHealthy(key)).To(BeTrue())
			})
		})

		Context("when UNHEALTHY", func() {
			BeforeEach(func() {
				for i := 0; i < 3; i++ {
					m.ReportFailure(key, errProbe)
				}
				Expect(m.IsHealthy(key)).To(BeFalse())
			})

			It("should need consecutive successes to recover", func() {
				Expect(m.ReportSuccess(key)).To(BeFalse())
				Expect(m.IsHealthy(key)).To(BeFalse())
				Expect(m.ReportSuccess(key)).To(BeTrue())
				Expect(m.IsHealthy(key)).To(BeTrue())
			})

			It("should not flap on alternating results", func() {
				for i := 0; i < 10; i++ {
					m.ReportSuccess(key)
					m.ReportFailure(key, errProbe)
				}
				Expect(m.IsHealthy(key)).To(BeFalse())
			})

			It("should record the last error", func() {
				states := m.Snapshot()
				Expect(states).To(HaveLen(1))
				Expect(states[0].Endpoint).To(Equal("localhost:8081"))
				Expect(states[0].Status).To(Equal(health.StatusUnhealthy))
				Expect(states[0].LastError).To(Equal("connection refused"))
			})
		})
	})

	Describe("OnChange", func() {
		It("should be called on transitions only", func() {
			var (
				mutex   sync.Mutex
				changes []health.Status
			)
			m.OnChange(func(k endpoint.Key, s health.Status) {
				mutex.Lock()
				defer mutex.Unlock()
				Expect(k).To(Equal(key))
				changes = append(changes, s)
			})

			for i := 0; i < 5; i++ {
				m.ReportFailure(key, errProbe)
			}
			for i := 0; i < 5; i++ {
				m.ReportSuccess(key)
			}

			Expect(changes).To(Equal([]health.Status{health.StatusUnhealthy, health.StatusHealthy}))
		})
	})

	Describe("Retain", func() {
		It("should drop endpoints no longer configured", func() {
			other := endpoint.NewKey("localhost", 8082)
			for i := 0; i < 3; i++ {
				m.ReportFailure(key, errProbe)
				m.ReportFailure(other, errProbe)
			}

			m.Retain([]endpoint.Key{other})

			Expect(m.IsHealthy(key)).To(BeTrue())
			Expect(m.IsHealthy(other)).To(BeFalse())
			Expect(m.Snapshot()).To(HaveLen(1))
		})
	})

	Describe("Concurrency", func() {
		It("should serve reads while endpoints are added", func() {
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(2)
				go func(port int) {
					defer wg.Done()
					m.ReportFailure(endpoint.NewKey("localhost", port), errProbe)
				}(9000 + i)
				go func(port int) {
					defer wg.Done()
					_ = m.IsHealthy(endpoint.NewKey("localhost", port))
				}(9000 + i)
			}
			wg.Wait()
			Expect(m.Snapshot()).To(HaveLen(50))
		})
	})

	Describe("Status", func() {
		It("should render names", func() {
			Expect(health.StatusHealthy.String()).To(Equal("HEALTHY"))
			Expect(health.StatusUnhealthy.String()).To(Equal("UNHEALTHY"))
			Expect(health.Status(9).String()).To(Equal("UNKNOWN"))
		})
	})
})

var _ = Describe("Manager State", func() {
	It("should describe unknown endpoints as healthy", func() {
		m := health.NewManager(health.Thresholds{Failure: 1, Success: 1}, logger.Discard())
		key := endpoint.NewKey("localhost", 9999)

		Expect(m.State(key).Status).To(Equal(health.StatusHealthy))
		Expect(m.State(key).Endpoint).To(Equal("localhost:9999"))

		m.ReportFailure(key, errProbe)
		Expect(m.State(key).Status).To(Equal(health.StatusUnhealthy))
		Expect(m.State(key).LastError).To(Equal("connection refused"))
	})
})
