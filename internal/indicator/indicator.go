// Package indicator drives the operator status LED with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation records levels for testing without hardware.
package indicator

import (
	"context"
	"time"
)

// Output drives one on/off indicator.
type Output interface {
	// Set turns the indicator on or off.
	Set(on bool) error

	// Close releases the line.
	Close() error
}

// DefaultChip is the GPIO chip holding the LED line.
const DefaultChip = "gpiochip0"

// BlinkPeriod is the on and off time of the fault blink.
const BlinkPeriod = 100 * time.Millisecond

// Blink toggles out every period until ctx is done, then turns it off.
// Set errors are ignored: a dead LED must not stop the caller.
func Blink(ctx context.Context, out Output, period time.Duration) {
	if period <= 0 {
		period = BlinkPeriod
	}
	t := time.NewTicker(period)
	defer t.Stop()

	on := true
	_ = out.Set(on)
	for {
		select {
		case <-ctx.Done():
			_ = out.Set(false)
			return
		case <-t.C:
			on = !on
			_ = out.Set(on)
		}
	}
}

// Nop is an Output that does nothing, used when no LED line is configured.
type Nop struct{}

// Set does nothing.
func (Nop) Set(bool) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
