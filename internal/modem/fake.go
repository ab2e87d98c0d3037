package modem

import (
	"errors"
	"time"
)

// FixResult is one scripted answer to Fix.
type FixResult struct {
	Fix Fix
	Err error
}

// FakeDriver is a test double that returns scripted modem answers and
// records what it was asked to do.
type FakeDriver struct {
	// Registered is returned by RegistrationStatus once RegisterAfter polls
	// have been answered with false.
	Registered    bool
	RegisterAfter int

	// BearerResults scripts BearerEnable; each call consumes one entry and
	// the last entry repeats. Empty means success.
	BearerResults []error

	// BearerDisableError, if set, is returned by BearerDisable.
	BearerDisableError error

	// BearerStatusError, if set, is returned by BearerStatus.
	BearerStatusError error

	// Fixes scripts Fix; each call consumes one entry and the last repeats.
	// Empty means ErrNoFix.
	Fixes []FixResult

	// Battery and Now are returned by BatteryPercent and Clock.
	Battery    uint8
	BatteryErr error
	Now        time.Time
	ClockErr   error

	// Recorded activity.
	RegistrationPolls int
	BearerEnables     int
	BearerDisables    int
	BearerQueries     int
	FixPolls          int
	LowPower          []bool
	BearerUp          bool
	LastAPN           string
	Closed            bool

	bearerIndex int
	fixIndex    int
}

// NewFakeDriver creates a registered driver with no fix.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{Registered: true}
}

// RegistrationStatus answers false RegisterAfter times, then Registered.
func (f *FakeDriver) RegistrationStatus() (bool, error) {
	f.RegistrationPolls++
	if f.RegistrationPolls <= f.RegisterAfter {
		return false, nil
	}
	return f.Registered, nil
}

// BearerEnable returns the next scripted result.
func (f *FakeDriver) BearerEnable(apn, user, pass string) error {
	f.BearerEnables++
	f.LastAPN = apn
	var err error
	if len(f.BearerResults) > 0 {
		err = f.BearerResults[f.bearerIndex]
		if f.bearerIndex < len(f.BearerResults)-1 {
			f.bearerIndex++
		}
	}
	if err == nil {
		f.BearerUp = true
	}
	return err
}

// BearerDisable marks the bearer down.
func (f *FakeDriver) BearerDisable() error {
	f.BearerDisables++
	if f.BearerDisableError != nil {
		return f.BearerDisableError
	}
	f.BearerUp = false
	return nil
}

// BearerStatus reports BearerUp.
func (f *FakeDriver) BearerStatus() (bool, error) {
	f.BearerQueries++
	if f.BearerStatusError != nil {
		return false, f.BearerStatusError
	}
	return f.BearerUp, nil
}

// Fix returns the next scripted fix.
func (f *FakeDriver) Fix() (Fix, error) {
	f.FixPolls++
	if len(f.Fixes) == 0 {
		return Fix{}, ErrNoFix
	}
	r := f.Fixes[f.fixIndex]
	if f.fixIndex < len(f.Fixes)-1 {
		f.fixIndex++
	}
	return r.Fix, r.Err
}

// BatteryPercent returns Battery.
func (f *FakeDriver) BatteryPercent() (uint8, error) {
	return f.Battery, f.BatteryErr
}

// Clock returns Now.
func (f *FakeDriver) Clock() (time.Time, error) {
	if f.ClockErr != nil {
		return time.Time{}, f.ClockErr
	}
	if f.Now.IsZero() {
		return time.Time{}, errors.New("clock not set")
	}
	return f.Now, nil
}

// SetLowPower records the directive.
func (f *FakeDriver) SetLowPower(on bool) error {
	f.LowPower = append(f.LowPower, on)
	return nil
}

// Close marks the driver as closed.
func (f *FakeDriver) Close() error {
	f.Closed = true
	return nil
}

// Reset clears recorded activity and rewinds the scripts.
func (f *FakeDriver) Reset() {
	f.RegistrationPolls = 0
	f.BearerEnables = 0
	f.BearerDisables = 0
	f.BearerQueries = 0
	f.FixPolls = 0
	f.LowPower = nil
	f.BearerUp = false
	f.LastAPN = ""
	f.Closed = false
	f.bearerIndex = 0
	f.fixIndex = 0
}

// FixesN builds a script of n misses followed by fix.
func FixesN(misses int, fix Fix) []FixResult {
	out := make([]FixResult, 0, misses+1)
	for i := 0; i < misses; i++ {
		out = append(out, FixResult{Err: ErrNoFix})
	}
	return append(out, FixResult{Fix: fix})
}
