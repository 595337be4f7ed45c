package strategy

import (
	"fmt"

	"github.com/angeloszaimis/edge-proxy/internal/backend"
)

// Strategy picks one backend among the healthy candidates of a route.
// It returns nil only when candidates is empty.
type Strategy interface {
	SelectBackend(candidates []*backend.Backend, key string) *backend.Backend
}

const (
	Priority       = "priority"
	Random         = "random"
	LeastConn      = "least-conn"
	LeastResponse  = "least-response"
	ConsistentHash = "consistent-hash"
	Weighted       = "weighted"
)

// Names lists every strategy New accepts.
func Names() []string {
	return []string{Priority, Random, LeastConn, LeastResponse, ConsistentHash, Weighted}
}

// New builds the named strategy for a route whose full backend set is
// backends. An empty name selects Priority.
func New(name string, virtualNodes int, backends []*backend.Backend) (Strategy, error) {
	switch name {
	case "", Priority:
		return NewPriorityStrategy(), nil
	case Random:
		return NewRandomStrategy(), nil
	case LeastConn:
		return NewLeastConnStrategy(), nil
	case LeastResponse:
		return NewLeastResponseStrategy(), nil
	case ConsistentHash:
		return NewConsistentHashStrategy(virtualNodes, backends), nil
	case Weighted:
		return NewWeightedStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
