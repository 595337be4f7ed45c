package health

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type Status int32

const (
	StatusHealthy   Status = iota // Receiving traffic
	StatusUnhealthy               // Skipped by the router
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "HEALTHY"
	case StatusUnhealthy:
		return "UNHEALTHY"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status name in JSON documents.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "HEALTHY":
		*s = StatusHealthy
	case "UNHEALTHY":
		*s = StatusUnhealthy
	default:
		return fmt.Errorf("unknown health status %q", text)
	}
	return nil
}

// Thresholds configures the hysteresis of the state machine.
type Thresholds struct {
	Failure int
	Success int
}

func (t Thresholds) normalize() Thresholds {
	if t.Failure < 1 {
		t.Failure = 1
	}
	if t.Success < 1 {
		t.Success = 1
	}
	return t
}

type tracker struct {
	status     atomic.Int32
	mutex      sync.Mutex
	failures   int
	successes  int
	lastError  string
	lastChange time.Time
	lastCheck  time.Time
}

func newTracker() *tracker {
	return &tracker{lastChange: time.Now()}
}

func (t *tracker) load() Status {
	return Status(t.status.Load())
}

func (t *tracker) recordSuccess(th Thresholds) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.lastCheck = time.Now()
	t.failures = 0
	t.successes++

	if t.load() == StatusUnhealthy && t.successes >= th.Success {
		t.transition(StatusHealthy)
		return true
	}
	return false
}

func (t *tracker) recordFailure(th Thresholds, err error) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.lastCheck = time.Now()
	t.successes = 0
	t.failures++
	if err != nil {
		t.lastError = err.Error()
	}

	if t.load() == StatusHealthy && t.failures >= th.Failure {
		t.transition(StatusUnhealthy)
		return true
	}
	return false
}

// transition must be called with the mutex held.
func (t *tracker) transition(s Status) {
	t.status.Store(int32(s))
	t.failures = 0
	t.successes = 0
	t.lastChange = t.lastCheck
}

func (t *tracker) snapshot(key string) State {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return State{
		Endpoint:             key,
		Status:               t.load(),
		ConsecutiveFailures:  t.failures,
		ConsecutiveSuccesses: t.successes,
		LastError:            t.lastError,
		LastChange:           t.lastChange,
		LastCheck:            t.lastCheck,
	}
}

// State is a point-in-time view of one endpoint's health.
type State struct {
	Endpoint             string    `json:"endpoint"`
	Status               Status    `json:"status"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastError            string    `json:"last_error,omitempty"`
	LastChange           time.Time `json:"last_change"`
	LastCheck            time.Time `json:"last_check,omitzero"`
}
