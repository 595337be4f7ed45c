package router

import (
	"net/http"

	"github.com/angeloszaimis/edge-proxy/internal/backend"
)

type Action int

const (
	ActionProxy Action = iota
	ActionCache
	ActionSystem
	ActionNotFound
)

func (a Action) String() string {
	switch a {
	case ActionProxy:
		return "PROXY"
	case ActionCache:
		return "CACHE"
	case ActionSystem:
		return "SYSTEM"
	case ActionNotFound:
		return "NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}

// Reason explains a NOT_FOUND decision.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonNoRoute            Reason = "NO_ROUTE"
	ReasonBackendUnavailable Reason = "BACKEND_UNAVAILABLE"
)

// MapResult is the routing decision for one request. Host, Port, Backend and
// Alternates are set for PROXY and CACHE only; Reason for NOT_FOUND only.
type MapResult struct {
	Action     Action
	Reason     Reason
	Host       string
	Port       int
	Route      *Route
	Backend    *backend.Backend
	Alternates []*backend.Backend
}

// Status returns the HTTP status a NOT_FOUND result is answered with.
func (r MapResult) Status() int {
	switch r.Reason {
	case ReasonBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusNotFound
	}
}

func target(action Action, route *Route, chosen *backend.Backend, alternates []*backend.Backend) MapResult {
	key := chosen.Key()
	return MapResult{
		Action:     action,
		Host:       key.Host,
		Port:       key.Port,
		Route:      route,
		Backend:    chosen,
		Alternates: alternates,
	}
}

func notFound(reason Reason, route *Route) MapResult {
	return MapResult{Action: ActionNotFound, Reason: reason, Route: route}
}
