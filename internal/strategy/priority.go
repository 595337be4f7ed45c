package strategy

import "github.com/angeloszaimis/edge-proxy/internal/backend"

type priorityStrategy struct{}

func (p *priorityStrategy) SelectBackend(backends []*backend.Backend, _ string) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}
	return backends[0]
}

func NewPriorityStrategy() Strategy {
	return &priorityStrategy{}
}
