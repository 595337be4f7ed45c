package health

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/angeloszaimis/edge-proxy/internal/endpoint"
)

// ChangeFunc is called after an endpoint changes state.
type ChangeFunc func(key endpoint.Key, status Status)

type trackerMap map[endpoint.Key]*tracker

// Manager holds the health state machine of every endpoint.
type Manager struct {
	// Copy-on-write: readers load the map without locking.
	trackers   atomic.Pointer[trackerMap]
	thresholds atomic.Pointer[Thresholds]
	mutex      sync.Mutex
	onChange   atomic.Pointer[ChangeFunc]
	logger     *slog.Logger
}

func NewManager(thresholds Thresholds, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{logger: logger}
	empty := make(trackerMap)
	m.trackers.Store(&empty)
	m.SetThresholds(thresholds)
	return m
}

// SetThresholds replaces the hysteresis thresholds. Counters already
// accumulated are kept.
func (m *Manager) SetThresholds(t Thresholds) {
	t = t.normalize()
	m.thresholds.Store(&t)
}

// Thresholds returns the thresholds in effect.
func (m *Manager) Thresholds() Thresholds {
	return *m.thresholds.Load()
}

// OnChange registers the hook called on every state transition.
func (m *Manager) OnChange(fn ChangeFunc) {
	m.onChange.Store(&fn)
}

// IsHealthy reports whether key may receive traffic. Unknown endpoints are
// healthy.
func (m *Manager) IsHealthy(key endpoint.Key) bool {
	return m.Status(key) == StatusHealthy
}

// Status returns the current state of key.
func (m *Manager) Status(key endpoint.Key) Status {
	t, ok := (*m.trackers.Load())[key]
	if !ok {
		return StatusHealthy
	}
	return t.load()
}

// ReportSuccess records a successful probe or exchange. It returns true when
// the endpoint became healthy.
func (m *Manager) ReportSuccess(key endpoint.Key) bool {
	changed := m.tracker(key).recordSuccess(m.Thresholds())
	if changed {
		m.notify(key, StatusHealthy, nil)
	}
	return changed
}

// ReportFailure records a failed probe or exchange. It returns true when the
// endpoint became unhealthy.
func (m *Manager) ReportFailure(key endpoint.Key, err error) bool {
	changed := m.tracker(key).recordFailure(m.Thresholds(), err)
	if changed {
		m.notify(key, StatusUnhealthy, err)
	}
	return changed
}

func (m *Manager) notify(key endpoint.Key, status Status, err error) {
	if status == StatusHealthy {
		m.logger.Info("Server is back up", slog.String("server", key.String()))
	} else {
		attrs := []any{slog.String("server", key.String())}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		m.logger.Warn("Server is down", attrs...)
	}

	if fn := m.onChange.Load(); fn != nil && *fn != nil {
		(*fn)(key, status)
	}
}

func (m *Manager) tracker(key endpoint.Key) *tracker {
	if t, ok := (*m.trackers.Load())[key]; ok {
		return t
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Double-check: another goroutine may have created it
	current := *m.trackers.Load()
	if t, ok := current[key]; ok {
		return t
	}

	next := make(trackerMap, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	t := newTracker()
	next[key] = t
	m.trackers.Store(&next)
	return t
}

// Retain drops the state of every endpoint not in keys.
func (m *Manager) Retain(keys []endpoint.Key) {
	keep := make(map[endpoint.Key]struct{}, len(keys))
	for _, k := range keys {
		keep[k] = struct{}{}
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	current := *m.trackers.Load()
	next := make(trackerMap, len(keep))
	for k, t := range current {
		if _, ok := keep[k]; ok {
			next[k] = t
		}
	}
	m.trackers.Store(&next)
}

// State returns the state of key; unknown endpoints report HEALTHY.
func (m *Manager) State(key endpoint.Key) State {
	if t, ok := (*m.trackers.Load())[key]; ok {
		return t.snapshot(key.String())
	}
	return State{Endpoint: key.String(), Status: StatusHealthy}
}

// Snapshot returns the state of every tracked endpoint ordered by address.
func (m *Manager) Snapshot() []State {
	current := *m.trackers.Load()

	out := make([]State, 0, len(current))
	for k, t := range current {
		out = append(out, t.snapshot(k.String()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}
