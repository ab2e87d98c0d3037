// Package telemetry defines the tracker's sample and its wire formats.
package telemetry

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Sample is one position/speed/battery snapshot. It is a value type and is
// never modified after the location stage builds it.
type Sample struct {
	Time      time.Time
	Latitude  float64 // degrees, signed
	Longitude float64 // degrees, signed
	SpeedKmh  float64
	Heading   float64 // degrees
	Altitude  float64 // meters
	Battery   uint8   // percent, 0-100
}

// Format selects a delimited line layout.
type Format string

const (
	// FormatCSV4 is speed,lat,lon,alt.
	FormatCSV4 Format = "csv4"
	// FormatCSV6 is time,speed:battery,lat,lon,alt.
	FormatCSV6 Format = "csv6"
	// FormatCSVBattery is speed:battery,lat,lon,alt.
	FormatCSVBattery Format = "csv-battery"
)

// TimeLayout is used for every timestamp on the wire.
const TimeLayout = time.RFC3339

// Formats lists the supported line formats.
func Formats() []Format {
	return []Format{FormatCSV4, FormatCSV6, FormatCSVBattery}
}

// Line renders s in the given format. Field order and precision are fixed:
// speed and altitude with 2 decimals, coordinates with 6, battery as an integer.
func (s Sample) Line(f Format) (string, error) {
	speed := strconv.FormatFloat(s.SpeedKmh, 'f', 2, 64)
	lat := strconv.FormatFloat(s.Latitude, 'f', 6, 64)
	lon := strconv.FormatFloat(s.Longitude, 'f', 6, 64)
	alt := strconv.FormatFloat(s.Altitude, 'f', 2, 64)
	bat := strconv.Itoa(int(s.Battery))

	switch f {
	case FormatCSV4:
		return strings.Join([]string{speed, lat, lon, alt}, ","), nil
	case FormatCSV6:
		return strings.Join([]string{s.Time.UTC().Format(TimeLayout), speed + ":" + bat, lat, lon, alt}, ","), nil
	case FormatCSVBattery:
		return strings.Join([]string{speed + ":" + bat, lat, lon, alt}, ","), nil
	}
	return "", fmt.Errorf("unknown format %q", f)
}

// FormEncode renders s as the HTTP form body
// time=...&lat=...&lon=...&spd=...&alt=...&bat=...
// Keys keep this order; url.Values would sort them.
func (s Sample) FormEncode() string {
	var b strings.Builder
	b.WriteString("time=")
	b.WriteString(url.QueryEscape(s.Time.UTC().Format(TimeLayout)))
	fmt.Fprintf(&b, "&lat=%.6f&lon=%.6f&spd=%.2f&alt=%.2f&bat=%d",
		s.Latitude, s.Longitude, s.SpeedKmh, s.Altitude, s.Battery)
	return b.String()
}
