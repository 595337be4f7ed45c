package endpoint

import (
	"sort"
	"sync"
)

// Manager owns the Stats of every known endpoint.
type Manager struct {
	mutex     sync.RWMutex
	endpoints map[Key]*Stats
}

// NewManager creates an empty statistics registry.
func NewManager() *Manager {
	return &Manager{
		endpoints: make(map[Key]*Stats),
	}
}

// GetEndpointStats returns the stats for key, creating them if absent.
func (m *Manager) GetEndpointStats(key Key) *Stats {
	m.mutex.RLock()
	s, exists := m.endpoints[key]
	m.mutex.RUnlock()

	if exists {
		return s
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if s, exists = m.endpoints[key]; exists {
		return s
	}

	s = newStats(key)
	m.endpoints[key] = s
	return s
}

// Lookup returns the stats for key without creating them.
func (m *Manager) Lookup(key Key) (*Stats, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	s, ok := m.endpoints[key]
	return s, ok
}

// Remove forgets an endpoint. Stats already handed out keep working but are
// no longer reported.
func (m *Manager) Remove(key Key) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.endpoints, key)
}

// Endpoints returns a copy of the key to stats mapping.
func (m *Manager) Endpoints() map[Key]*Stats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make(map[Key]*Stats, len(m.endpoints))
	for k, s := range m.endpoints {
		out[k] = s
	}
	return out
}

// OnConnectionOpened records a new TCP connection to key.
func (m *Manager) OnConnectionOpened(key Key) {
	m.GetEndpointStats(key).connectionOpened()
}

// OnConnectionClosed records the close of a TCP connection to key.
func (m *Manager) OnConnectionClosed(key Key) {
	m.GetEndpointStats(key).connectionClosed()
}

// OnRequestStarted records a request dispatched to key.
func (m *Manager) OnRequestStarted(key Key) {
	m.GetEndpointStats(key).requestStarted()
}

// OnRequestCompleted records the end of a request to key, whatever its outcome.
func (m *Manager) OnRequestCompleted(key Key) {
	m.GetEndpointStats(key).requestCompleted()
}

// GetStats returns a snapshot of every endpoint ordered by endpoint address.
func (m *Manager) GetStats() []Snapshot {
	m.mutex.RLock()
	out := make([]Snapshot, 0, len(m.endpoints))
	for _, s := range m.endpoints {
		out = append(out, s.Snapshot())
	}
	m.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// AllConnectionsClosed reports whether no endpoint has open or active connections.
func (m *Manager) AllConnectionsClosed() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, s := range m.endpoints {
		if s.OpenConnections() > 0 || s.ActiveConnections() > 0 {
			return false
		}
	}
	return true
}
