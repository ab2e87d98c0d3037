// Package mqtt provides the broker session used by the publish sink, with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"
)

// Client is a single broker session. The caller owns reconnection: the real
// implementation never reconnects on its own.
type Client interface {
	// Connect opens the session. Returns error on refusal or timeout.
	Connect() error

	// IsConnected reports whether the session is up.
	IsConnected() bool

	// Publish sends payload and waits for the broker's acknowledgement (for
	// QoS > 0) or for the write to complete.
	Publish(topic string, qos byte, retained bool, payload []byte) error

	// Disconnect closes the session.
	Disconnect()
}

// System event names.
const (
	EventStartup = "STARTUP"
	EventOffline = "OFFLINE"
)

// SystemEvent represents a device lifecycle event on the system topic.
type SystemEvent struct {
	Timestamp time.Time
	Event     string // e.g., "STARTUP", "OFFLINE"
	Reason    string // e.g., "deadman", "cycle" (startup after a restart)
	BootID    string
	Restarts  int
}

// SystemPayload represents the MQTT message payload for system events.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
	BootID    string `json:"boot_id,omitempty"`
	Restarts  int    `json:"restarts"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	inner := SystemPayloadInner{
		Event:    event.Event,
		Reason:   event.Reason,
		BootID:   event.BootID,
		Restarts: event.Restarts,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}
