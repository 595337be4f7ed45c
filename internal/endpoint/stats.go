package endpoint

import (
	"sync/atomic"
	"time"
)

// Stats holds the live counters of one endpoint.
type Stats struct {
	key          Key
	total        atomic.Int64
	active       atomic.Int64
	open         atomic.Int64
	lastActivity atomic.Int64
}

func newStats(key Key) *Stats {
	return &Stats{key: key}
}

// Key returns the endpoint this Stats belongs to.
func (s *Stats) Key() Key {
	return s.key
}

// TotalConnections returns the number of connections ever opened.
func (s *Stats) TotalConnections() int64 {
	return s.total.Load()
}

// ActiveConnections returns the number of requests in flight.
func (s *Stats) ActiveConnections() int64 {
	return s.active.Load()
}

// OpenConnections returns the number of TCP connections currently open.
func (s *Stats) OpenConnections() int64 {
	return s.open.Load()
}

// LastActivity returns the time of the last counter change, zero if none.
func (s *Stats) LastActivity() time.Time {
	ns := s.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (s *Stats) connectionOpened() {
	s.total.Add(1)
	s.open.Add(1)
	s.touch()
}

func (s *Stats) connectionClosed() {
	decrement(&s.open)
	s.touch()
}

func (s *Stats) requestStarted() {
	s.active.Add(1)
	s.touch()
}

func (s *Stats) requestCompleted() {
	decrement(&s.active)
	s.touch()
}

func (s *Stats) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// Snapshot copies the counters into a plain value.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Endpoint:          s.key.String(),
		Host:              s.key.Host,
		Port:              s.key.Port,
		TotalConnections:  s.TotalConnections(),
		ActiveConnections: s.ActiveConnections(),
		OpenConnections:   s.OpenConnections(),
		LastActivity:      s.LastActivity(),
	}
}

// decrement lowers c by one unless it is already zero.
func decrement(c *atomic.Int64) {
	for {
		cur := c.Load()
		if cur <= 0 {
			return
		}
		if c.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Snapshot is a point-in-time copy of an endpoint's counters.
type Snapshot struct {
	Endpoint          string    `json:"endpoint"`
	Host              string    `json:"host"`
	Port              int       `json:"port"`
	TotalConnections  int64     `json:"total_connections"`
	ActiveConnections int64     `json:"active_connections"`
	OpenConnections   int64     `json:"open_connections"`
	LastActivity      time.Time `json:"last_activity"`
}
