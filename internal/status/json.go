package status

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/sweeney/gps-tracker/internal/telemetry"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	State         string        `json:"state"`
	Cycle         int           `json:"cycle"`
	LastOutcome   string        `json:"last_outcome,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	LastCycleAt   string        `json:"last_cycle_at,omitempty"`
	LastSample    *SampleJSON   `json:"last_sample,omitempty"`
	Counters      []CounterJSON `json:"counters"`
	BootID        string        `json:"boot_id"`
	Restarts      int           `json:"restarts"`
	RestartCause  string        `json:"restart_cause,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	LinkUp        bool          `json:"link_up"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Config        ConfigJSON    `json:"config"`
}

// SampleJSON is the JSON representation of the last fix.
type SampleJSON struct {
	Time      string  `json:"time"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	SpeedKmh  float64 `json:"speed_kmh"`
	Heading   float64 `json:"heading"`
	Altitude  float64 `json:"alt"`
	Battery   uint8   `json:"battery"`
}

// CounterJSON is one failure counter.
type CounterJSON struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Topic     string `json:"topic,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Sinks           []string `json:"sinks"`
	FixPolicy       string   `json:"fix_policy"`
	Format          string   `json:"format"`
	CycleIntervalMs int64    `json:"cycle_interval_ms"`
	HTTPURL         string   `json:"http_url,omitempty"`
	HTTPAddr        string   `json:"http_addr"`
	Simulated       bool     `json:"simulated,omitempty"`
}

// SortedCounters returns the counters ordered by name.
func (s Snapshot) SortedCounters() []CounterJSON {
	out := make([]CounterJSON, 0, len(s.Counters))
	for name, n := range s.Counters {
		out = append(out, CounterJSON{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sampleJSON(s *telemetry.Sample) *SampleJSON {
	if s == nil {
		return nil
	}
	return &SampleJSON{
		Time:      s.Time.UTC().Format(telemetry.TimeLayout),
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		SpeedKmh:  s.SpeedKmh,
		Heading:   s.Heading,
		Altitude:  s.Altitude,
		Battery:   s.Battery,
	}
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	inner := StatusInner{
		State:         snap.State.String(),
		Cycle:         snap.Cycle,
		LastOutcome:   string(snap.LastOutcome),
		LastError:     snap.LastError,
		LastSample:    sampleJSON(snap.LastSample),
		Counters:      snap.SortedCounters(),
		BootID:        snap.BootID,
		Restarts:      snap.Restarts,
		RestartCause:  snap.RestartCause,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		LinkUp:        snap.LinkUp,
		MQTT: MQTTStatus{
			Connected: snap.MQTTConnected,
			Broker:    snap.Config.Broker,
			Topic:     snap.Config.Topic,
		},
		Config: ConfigJSON{
			Sinks:           snap.Config.Sinks,
			FixPolicy:       snap.Config.FixPolicy,
			Format:          snap.Config.Format,
			CycleIntervalMs: snap.Config.CycleInterval.Milliseconds(),
			HTTPURL:         snap.Config.HTTPURL,
			HTTPAddr:        snap.Config.HTTPAddr,
			Simulated:       snap.Config.Simulated,
		},
	}
	if !snap.LastCycleAt.IsZero() {
		inner.LastCycleAt = snap.LastCycleAt.UTC().Format(time.RFC3339)
	}

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}
