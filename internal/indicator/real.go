//go:build linux

package indicator

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealLED drives an LED through the Linux GPIO character device.
type RealLED struct {
	line *gpiocdev.Line
}

// NewRealLED requests offset on chip as an output, initially off.
func NewRealLED(chip string, offset int) (*RealLED, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request LED line %s/%d: %w", chip, offset, err)
	}
	return &RealLED{line: line}, nil
}

// Set drives the line high for on.
func (l *RealLED) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := l.line.SetValue(v); err != nil {
		return fmt.Errorf("set LED: %w", err)
	}
	return nil
}

// Close returns the line to an input with pull-down, matching the Pi boot
// default, then releases it.
func (l *RealLED) Close() error {
	var errs []error
	if err := l.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure LED line: %w", err))
	}
	if err := l.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close LED line: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
