package cycle

import (
	"errors"
	"fmt"

	"github.com/sweeney/gps-tracker/internal/failure"
	"github.com/sweeney/gps-tracker/internal/telemetry"
)

// State is a stage of the tracking cycle.
type State int

const (
	StateIdle State = iota
	StateConnectingBearer
	StateAcquiringFix
	StateDelivering
	StateCoolingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnectingBearer:
		return "connecting-bearer"
	case StateAcquiringFix:
		return "acquiring-fix"
	case StateDelivering:
		return "delivering"
	case StateCoolingDown:
		return "cooling-down"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// States lists every state in cycle order.
func States() []State {
	return []State{StateIdle, StateConnectingBearer, StateAcquiringFix, StateDelivering, StateCoolingDown}
}

// Outcome summarises how a cycle ended.
type Outcome string

const (
	OutcomeDelivered     Outcome = "delivered"      // at least one sink delivered
	OutcomeUndelivered   Outcome = "undelivered"    // every sink failed
	OutcomeBearerSkipped Outcome = "bearer-skipped" // bearer budget spent
	OutcomeFixSkipped    Outcome = "fix-skipped"    // fix budget spent
	OutcomeRestart       Outcome = "restart"
	OutcomeCancelled     Outcome = "cancelled"
)

// Delivery is one sink's result within a cycle.
type Delivery struct {
	Sink string
	Err  error
}

// Result describes a finished cycle.
type Result struct {
	Cycle      int
	Outcome    Outcome
	Exhausted  failure.Category // set when a stage's budget ran out
	Sample     *telemetry.Sample
	Deliveries []Delivery
	LinkUp     bool // bearer state checked on entering cool-down
	Err        error
}

// ErrRestart is matched by every error that demands a device restart.
var ErrRestart = errors.New("restart required")

// RestartError is the terminal outcome of a generation.
type RestartError struct {
	Category failure.Category
	Cause    error
}

func (e *RestartError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%v: %s", ErrRestart, e.Category)
	}
	return fmt.Sprintf("%v: %s: %v", ErrRestart, e.Category, e.Cause)
}

// Unwrap exposes both ErrRestart and the cause.
func (e *RestartError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrRestart}
	}
	return []error{ErrRestart, e.Cause}
}

// AsRestart returns the RestartError in err's chain, if any.
func AsRestart(err error) (*RestartError, bool) {
	var re *RestartError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// Observer is told about every transition and every finished cycle.
// Calls come from the control goroutine and must not block.
type Observer interface {
	StateChanged(s State)
	CycleFinished(r Result, counters map[string]int)
}

// Observers fans out to several observers in order.
type Observers []Observer

func (os Observers) StateChanged(s State) {
	for _, o := range os {
		o.StateChanged(s)
	}
}

func (os Observers) CycleFinished(r Result, counters map[string]int) {
	for _, o := range os {
		o.CycleFinished(r, counters)
	}
}
