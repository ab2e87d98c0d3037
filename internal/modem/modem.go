// Package modem provides access to the cellular/GNSS module with
// abstraction for testing.
// The real implementation talks AT commands over a serial tty.
// The fake implementation scripts responses without hardware.
package modem

import (
	"errors"
	"time"
)

// ErrNoFix is returned by Fix when the receiver has no 3D solution yet.
var ErrNoFix = errors.New("no gnss fix")

// Fix is a raw position solution.
type Fix struct {
	Latitude  float64
	Longitude float64
	SpeedKmh  float64
	Heading   float64
	Altitude  float64
}

// Driver is the modem and positioning boundary. All calls block until the
// module answers or the driver's command timeout elapses.
type Driver interface {
	// RegistrationStatus reports whether the module is registered on the
	// home or a roaming network.
	RegistrationStatus() (bool, error)

	// BearerEnable opens the packet data bearer. user and pass may be empty.
	BearerEnable(apn, user, pass string) error

	// BearerDisable closes the bearer. Closing a closed bearer is not an error
	// the caller needs to act on.
	BearerDisable() error

	// BearerStatus reports whether the bearer is open.
	BearerStatus() (bool, error)

	// Fix returns the current 3D fix, or ErrNoFix.
	Fix() (Fix, error)

	// BatteryPercent returns the supply charge level, 0-100.
	BatteryPercent() (uint8, error)

	// Clock returns the module's wall clock.
	Clock() (time.Time, error)

	// SetLowPower sends the sleep (true) or wake (false) directive. The
	// module's acknowledgement is not read back.
	SetLowPower(on bool) error

	// Close releases the port.
	Close() error
}
