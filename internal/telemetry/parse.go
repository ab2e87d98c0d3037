package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseLine decodes a line written by Line. Heading is not carried on the
// wire and is always zero in the result; fields absent from the format
// (time, battery) are left zero.
func ParseLine(f Format, fields []string) (Sample, error) {
	var s Sample
	var err error

	switch f {
	case FormatCSV4:
		if len(fields) != 4 {
			return s, fmt.Errorf("%s: want 4 fields, got %d", f, len(fields))
		}
		if s.SpeedKmh, err = parseFloat("speed", fields[0]); err != nil {
			return s, err
		}
		fields = fields[1:]
	case FormatCSV6:
		if len(fields) != 5 {
			return s, fmt.Errorf("%s: want 5 fields, got %d", f, len(fields))
		}
		if s.Time, err = time.Parse(TimeLayout, fields[0]); err != nil {
			return s, fmt.Errorf("time: %w", err)
		}
		if s.SpeedKmh, s.Battery, err = parseSpeedBattery(fields[1]); err != nil {
			return s, err
		}
		fields = fields[2:]
	case FormatCSVBattery:
		if len(fields) != 4 {
			return s, fmt.Errorf("%s: want 4 fields, got %d", f, len(fields))
		}
		if s.SpeedKmh, s.Battery, err = parseSpeedBattery(fields[0]); err != nil {
			return s, err
		}
		fields = fields[1:]
	default:
		return s, fmt.Errorf("unknown format %q", f)
	}

	if s.Latitude, err = parseFloat("lat", fields[0]); err != nil {
		return s, err
	}
	if s.Longitude, err = parseFloat("lon", fields[1]); err != nil {
		return s, err
	}
	if s.Altitude, err = parseFloat("alt", fields[2]); err != nil {
		return s, err
	}
	return s, nil
}

func parseSpeedBattery(field string) (float64, uint8, error) {
	speed, bat, ok := strings.Cut(field, ":")
	if !ok {
		return 0, 0, fmt.Errorf("speed:battery: missing separator in %q", field)
	}
	v, err := parseFloat("speed", speed)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.ParseUint(bat, 10, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("battery: %w", err)
	}
	return v, uint8(b), nil
}

func parseFloat(name, field string) (float64, error) {
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}
