package status

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/gps-tracker/internal/cycle"
	"github.com/sweeney/gps-tracker/internal/telemetry"
)

type fakeConn struct{ up bool }

func (f *fakeConn) IsConnected() bool { return f.up }

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{Broker: "tcp://localhost:1883", HTTPAddr: ":80", Sinks: []string{"local", "mqtt"}}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.HTTPAddr != ":80" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":80")
	}
	if snap.State != cycle.StateIdle {
		t.Errorf("State: got %v, want idle", snap.State)
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestObserverUpdates(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	conn := &fakeConn{up: true}
	tr.WatchMQTT(conn)

	tr.StateChanged(cycle.StateAcquiringFix)
	if got := tr.Snapshot().State; got != cycle.StateAcquiringFix {
		t.Errorf("State: got %v, want acquiring-fix", got)
	}

	s := telemetry.Sample{Latitude: 37.1, Battery: 85}
	tr.CycleFinished(cycle.Result{Cycle: 3, Outcome: cycle.OutcomeDelivered, Sample: &s, LinkUp: true},
		map[string]int{"cycle": 0, "delivery/mqtt": 1})

	snap := tr.Snapshot()
	if snap.Cycle != 3 {
		t.Errorf("Cycle: got %d, want 3", snap.Cycle)
	}
	if snap.LastOutcome != cycle.OutcomeDelivered {
		t.Errorf("LastOutcome: got %q", snap.LastOutcome)
	}
	if snap.LastSample == nil || snap.LastSample.Battery != 85 {
		t.Errorf("LastSample: got %+v", snap.LastSample)
	}
	if snap.Counters["delivery/mqtt"] != 1 {
		t.Errorf("Counters: got %v", snap.Counters)
	}
	if !snap.MQTTConnected {
		t.Error("expected MQTTConnected=true from watched session")
	}
	if snap.LastCycleAt.IsZero() {
		t.Error("expected LastCycleAt to be set")
	}
	if !snap.LinkUp {
		t.Error("expected LinkUp=true")
	}

	// Sample is copied.
	s.Battery = 10
	if tr.Snapshot().LastSample.Battery != 85 {
		t.Error("tracker should keep its own copy of the sample")
	}

	// A skipped cycle keeps the last sample and records the error.
	conn.up = false
	tr.CycleFinished(cycle.Result{Cycle: 4, Outcome: cycle.OutcomeRestart, Err: errors.New("restart required: cycle")}, nil)
	snap = tr.Snapshot()
	if snap.LastSample == nil {
		t.Error("last sample should survive a cycle without a fix")
	}
	if snap.LastError != "restart required: cycle" {
		t.Errorf("LastError: got %q", snap.LastError)
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
	if snap.LinkUp {
		t.Error("expected LinkUp=false after a cycle with the link down")
	}
}

func TestNewGeneration(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.StateChanged(cycle.StateDelivering)
	tr.CycleFinished(cycle.Result{Cycle: 1}, map[string]int{"cycle": 4})

	tr.NewGeneration("boot-2", 1, "cycle")
	snap := tr.Snapshot()
	if snap.BootID != "boot-2" || snap.Restarts != 1 || snap.RestartCause != "cycle" {
		t.Errorf("generation: got %q/%d/%q", snap.BootID, snap.Restarts, snap.RestartCause)
	}
	if snap.State != cycle.StateIdle {
		t.Errorf("State: got %v, want idle", snap.State)
	}
	if snap.Counters != nil {
		t.Errorf("Counters should be cleared, got %v", snap.Counters)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.StateChanged(cycle.StateDelivering)

	snap1 := tr.Snapshot()
	tr.StateChanged(cycle.StateCoolingDown)

	if snap1.State != cycle.StateDelivering {
		t.Error("snapshot should be a copy; State was modified")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sample := telemetry.Sample{
		Time:      start.Add(14 * time.Minute),
		Latitude:  37.1,
		Longitude: -122.4,
		SpeedKmh:  12.3,
		Altitude:  50,
		Battery:   85,
	}
	snap := Snapshot{
		State:         cycle.StateCoolingDown,
		Cycle:         12,
		LastOutcome:   cycle.OutcomeDelivered,
		LastSample:    &sample,
		Counters:      map[string]int{"fix-acquisition": 0, "cycle": 1, "delivery/mqtt": 2},
		BootID:        "b-1",
		Restarts:      2,
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		LinkUp:        true,
		Config: Config{
			Broker:        "tcp://localhost:1883",
			Sinks:         []string{"local", "mqtt"},
			FixPolicy:     "skip",
			Format:        "csv4",
			CycleInterval: time.Minute,
			HTTPAddr:      ":80",
		},
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	st := parsed.Status
	if st.State != "cooling-down" {
		t.Errorf("State: got %q", st.State)
	}
	if st.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", st.UptimeSeconds)
	}
	if st.LastSample == nil || st.LastSample.Time != "2026-01-01T00:14:00Z" || st.LastSample.Battery != 85 {
		t.Errorf("LastSample: got %+v", st.LastSample)
	}
	if len(st.Counters) != 3 || st.Counters[0].Name != "cycle" || st.Counters[1].Name != "delivery/mqtt" {
		t.Errorf("Counters should be sorted by name: %+v", st.Counters)
	}
	if st.Config.CycleIntervalMs != 60000 {
		t.Errorf("CycleIntervalMs: got %d", st.Config.CycleIntervalMs)
	}
	if !st.MQTT.Connected || st.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("MQTT: got %+v", st.MQTT)
	}
	if st.BootID != "b-1" || st.Restarts != 2 {
		t.Errorf("generation: got %q/%d", st.BootID, st.Restarts)
	}
	if st.LastCycleAt != "" {
		t.Errorf("LastCycleAt should be omitted, got %q", st.LastCycleAt)
	}
	if !st.LinkUp {
		t.Error("LinkUp: got false")
	}
}

func TestFormatJSONNoSample(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	var parsed map[string]map[string]any
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatal(err)
	}
	if _, ok := parsed["status"]["last_sample"]; ok {
		t.Error("last_sample should be omitted before the first fix")
	}
	if parsed["status"]["state"] != "idle" {
		t.Errorf("state: got %v", parsed["status"]["state"])
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.StateChanged(cycle.States()[i%5])
			tr.CycleFinished(cycle.Result{Cycle: i}, map[string]int{"cycle": i % 5})
			tr.SetMQTTConnected(i%2 == 0)
		}
	}()

	// Readers
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				snap := tr.Snapshot()
				_ = snap.Uptime()
				_ = FormatJSON(snap)
			}
		}()
	}

	wg.Wait()
}
