package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestFormatSystemPayload(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Event:     EventStartup,
		Reason:    "deadman",
		BootID:    "b1",
		Restarts:  2,
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed SystemPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.System.Timestamp != "2026-02-03T10:30:45Z" {
		t.Errorf("unexpected timestamp: %s", parsed.System.Timestamp)
	}
	if parsed.System.Event != "STARTUP" {
		t.Errorf("unexpected event: %s", parsed.System.Event)
	}
	if parsed.System.Reason != "deadman" {
		t.Errorf("unexpected reason: %s", parsed.System.Reason)
	}
	if parsed.System.Restarts != 2 {
		t.Errorf("unexpected restarts: %d", parsed.System.Restarts)
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Event:     EventStartup,
		BootID:    "0f8c",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-03T10:30:45Z","event":"STARTUP","boot_id":"0f8c","restarts":0}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSystemPayloadWill(t *testing.T) {
	// The last-will is registered before connecting, so it carries no time.
	payload, err := FormatSystemPayload(SystemEvent{Event: EventOffline, BootID: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"event":"OFFLINE","boot_id":"x","restarts":0}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFakeClientConnectScript(t *testing.T) {
	f := NewFakeClient()
	f.ConnectResults = []error{errors.New("refused"), nil}

	if err := f.Connect(); err == nil {
		t.Error("expected first connect to fail")
	}
	if f.IsConnected() {
		t.Error("should not be connected after failure")
	}
	if err := f.Connect(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.IsConnected() {
		t.Error("should be connected")
	}
	if f.Connects != 2 {
		t.Errorf("expected 2 connects, got %d", f.Connects)
	}
}

func TestFakeClientPublish(t *testing.T) {
	f := NewFakeClient()

	if err := f.Publish("feeds/tracker/csv", 1, false, []byte("12.30,37.100000,-122.400000,50.00")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(f.Messages))
	}
	m := f.Messages[0]
	if m.Topic != "feeds/tracker/csv" || m.QoS != 1 || m.Retained {
		t.Errorf("unexpected message: %+v", m)
	}
}

func TestFakeClientPublishError(t *testing.T) {
	f := NewFakeClient()
	f.Connected = true
	f.DropOnPublishError = true
	f.PublishResults = []error{errors.New("simulated error")}

	if err := f.Publish("t", 0, false, nil); err == nil {
		t.Error("expected error")
	}
	if len(f.Messages) != 0 {
		t.Errorf("expected no messages recorded on error, got %d", len(f.Messages))
	}
	if f.IsConnected() {
		t.Error("session should drop after publish error")
	}
}

func TestFakeClientReset(t *testing.T) {
	f := NewFakeClient()
	f.ConnectResults = []error{errors.New("a"), nil}
	f.Connect()
	f.Connect()
	f.Publish("t", 0, false, []byte("x"))
	f.Disconnect()

	f.Reset()

	if len(f.Messages) != 0 {
		t.Error("messages should be cleared")
	}
	if f.Connects != 0 || f.Publishes != 0 || f.Disconnects != 0 {
		t.Error("counters should be cleared")
	}
	if err := f.Connect(); err == nil {
		t.Error("connect script should be rewound")
	}
}

func TestRealClientNotConnected(t *testing.T) {
	c := NewRealClient(Options{Broker: "tcp://127.0.0.1:1", ClientID: "test"})
	if c.IsConnected() {
		t.Error("new client should not be connected")
	}
}
