//go:build !linux

package modem

import (
	"errors"
	"os"
)

// OpenSerial is not available on non-Linux platforms.
func OpenSerial(device string, baud int) (*os.File, error) {
	return nil, errors.New("modem: serial not supported on this platform (requires Linux)")
}
