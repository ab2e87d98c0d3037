// Package sink delivers one telemetry sample to one destination.
package sink

import (
	"context"

	"github.com/sweeney/gps-tracker/internal/telemetry"
)

// Sink names used in configuration.
const (
	NameLocal = "local"
	NameMQTT  = "mqtt"
	NameHTTP  = "http"
)

// Sink delivers a sample to one destination.
type Sink interface {
	// Name identifies the sink in logs, counters and configuration.
	Name() string

	// Deliver sends one sample. An error wrapping a *retry.ExhaustedError
	// with ActionRestart asks for a device restart; any other error only
	// marks this sink as failed for the cycle.
	Deliver(ctx context.Context, s telemetry.Sample) error
}

// Ordered returns sinks with the durable local log first and the network
// sinks after it, otherwise keeping the given order.
func Ordered(sinks []Sink) []Sink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s.Name() == NameLocal {
			out = append(out, s)
		}
	}
	for _, s := range sinks {
		if s.Name() != NameLocal {
			out = append(out, s)
		}
	}
	return out
}

// Kicker re-arms the deadman.
type Kicker interface {
	Kick()
}

func kick(k Kicker) {
	if k != nil {
		k.Kick()
	}
}
