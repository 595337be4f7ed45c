package strategy_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-proxy/internal/backend"
	"github.com/angeloszaimis/edge-proxy/internal/endpoint"
	"github.com/angeloszaimis/edge-proxy/internal/strategy"
)

var _ = Describe("New", func() {
	DescribeTable("should build every named strategy",
		func(name string) {
			s, err := strategy.New(name, 10, newBackends(nil, 1, 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(s).NotTo(BeNil())
		},
		Entry("default", ""),
		Entry(strategy.Priority, strategy.Priority),
		Entry(strategy.Random, strategy.Random),
		Entry(strategy.LeastConn, strategy.LeastConn),
		Entry(strategy.LeastResponse, strategy.LeastResponse),
		Entry(strategy.ConsistentHash, strategy.ConsistentHash),
		Entry(strategy.Weighted, strategy.Weighted),
	)

	It("should reject unknown names", func() {
		_, err := strategy.New("round-robin", 0, nil)
		Expect(err).To(MatchError(ContainSubstring("unknown strategy")))
	})

	It("should handle empty candidates for every strategy", func() {
		for _, name := range strategy.Names() {
			s, err := strategy.New(name, 10, newBackends(nil, 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(s.SelectBackend([]*backend.Backend{}, "key")).To(BeNil(), name)
		}
	})
})

var _ = Describe("Priority", func() {
	It("should select the first candidate", func() {
		backends := newBackends(nil, 1, 1, 1)
		strat := strategy.NewPriorityStrategy()
		Expect(strat.SelectBackend(backends, "")).To(Equal(backends[0]))
		Expect(strat.SelectBackend(backends[1:], "")).To(Equal(backends[1]))
	})
})

var _ = Describe("LeastResponse", func() {
	var (
		strat    strategy.Strategy
		backends []*backend.Backend
	)

	BeforeEach(func() {
		strat = strategy.NewLeastResponseStrategy()
		backends = newBackends(nil, 1, 1, 1)
	})

	It("should select backend with lowest EWMA response time", func() {
		backends[0].RecordResponse(100 * time.Millisecond)
		backends[1].RecordResponse(50 * time.Millisecond)
		backends[2].RecordResponse(200 * time.Millisecond)

		selected := strat.SelectBackend(backends, "")
		Expect(selected).To(Equal(backends[1]))
	})

	It("should weigh in-flight requests", func() {
		stats := endpoint.NewManager()
		backends = newBackends(stats, 1, 1)
		backends[0].RecordResponse(50 * time.Millisecond)
		backends[1].RecordResponse(80 * time.Millisecond)
		stats.OnRequestStarted(backends[0].Key())
		stats.OnRequestStarted(backends[0].Key())

		Expect(strat.SelectBackend(backends, "")).To(Equal(backends[1]))
	})

	It("should select first backend when all have zero EWMA", func() {
		selected := strat.SelectBackend(backends, "")
		Expect(selected).To(Equal(backends[0]))
	})
})

var _ = Describe("Random", func() {
	var (
		strat    strategy.Strategy
		backends []*backend.Backend
	)

	BeforeEach(func() {
		strat = strategy.NewRandomStrategy()
		backends = newBackends(nil, 1, 1, 1)
	})

	It("should select a backend", func() {
		selected := strat.SelectBackend(backends, "")
		Expect(selected).NotTo(BeNil())
		Expect(backends).To(ContainElement(selected))
	})

	It("should distribute across backends over multiple calls", func() {
		backendSet := make(map[*backend.Backend]bool)
		for i := 0; i < 100; i++ {
			backendSet[strat.SelectBackend(backends, "")] = true
		}
		Expect(len(backendSet)).To(BeNumerically(">=", 2))
	})
})
