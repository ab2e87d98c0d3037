// Package status provides a thread-safe status tracker for the tracker daemon.
// It is written by the control loop and read by HTTP handlers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/gps-tracker/internal/cycle"
	"github.com/sweeney/gps-tracker/internal/telemetry"
)

// ConnectionStatus reports whether the broker session is up. This is a
// local copy to avoid importing internal/mqtt from status.
type ConnectionStatus interface {
	IsConnected() bool
}

// Config contains daemon configuration for display.
type Config struct {
	Broker        string
	Topic         string
	HTTPURL       string
	HTTPAddr      string
	Sinks         []string
	FixPolicy     string
	Format        string
	CycleInterval time.Duration
	Simulated     bool
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State         cycle.State
	Cycle         int
	LastOutcome   cycle.Outcome
	LastError     string
	LastSample    *telemetry.Sample
	LastCycleAt   time.Time
	Counters      map[string]int
	BootID        string
	Restarts      int
	RestartCause  string
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	LinkUp        bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex. It implements
// cycle.Observer.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	conn ConnectionStatus
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// WatchMQTT makes every finished cycle record the session state of cs.
func (t *Tracker) WatchMQTT(cs ConnectionStatus) {
	t.mu.Lock()
	t.conn = cs
	t.mu.Unlock()
}

// NewGeneration records the start of a generation after boot or restart.
func (t *Tracker) NewGeneration(bootID string, restarts int, cause string) {
	t.mu.Lock()
	t.snap.BootID = bootID
	t.snap.Restarts = restarts
	t.snap.RestartCause = cause
	t.snap.State = cycle.StateIdle
	t.snap.Counters = nil
	t.mu.Unlock()
}

// StateChanged records the current stage.
func (t *Tracker) StateChanged(s cycle.State) {
	t.mu.Lock()
	t.snap.State = s
	t.mu.Unlock()
}

// CycleFinished records the result of a cycle. The counters map must not be
// modified afterwards.
func (t *Tracker) CycleFinished(r cycle.Result, counters map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.Cycle = r.Cycle
	t.snap.LastOutcome = r.Outcome
	t.snap.LastCycleAt = t.now()
	t.snap.Counters = counters
	t.snap.LinkUp = r.LinkUp
	t.snap.LastError = ""
	if r.Err != nil {
		t.snap.LastError = r.Err.Error()
	}
	if r.Sample != nil {
		s := *r.Sample
		t.snap.LastSample = &s
	}
	if t.conn != nil {
		t.snap.MQTTConnected = t.conn.IsConnected()
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
