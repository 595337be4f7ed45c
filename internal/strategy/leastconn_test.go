package strategy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-proxy/internal/backend"
	"github.com/angeloszaimis/edge-proxy/internal/endpoint"
	"github.com/angeloszaimis/edge-proxy/internal/strategy"
)

var _ = Describe("Leastconn", func() {
	var (
		strat    strategy.Strategy
		stats    *endpoint.Manager
		backends []*backend.Backend
	)

	BeforeEach(func() {
		strat = strategy.NewLeastConnStrategy()
		stats = endpoint.NewManager()
		backends = newBackends(stats, 1, 1, 1)
	})

	Describe("SelectBackend", func() {
		It("should select backend with fewest connections", func() {
			stats.OnRequestStarted(backends[0].Key())
			stats.OnRequestStarted(backends[0].Key())
			stats.OnRequestStarted(backends[1].Key())

			selected := strat.SelectBackend(backends, "")
			Expect(selected).To(Equal(backends[2]))
		})

		It("should prefer configuration order on ties", func() {
			Expect(strat.SelectBackend(backends, "")).To(Equal(backends[0]))
		})
	})
})
