package modem

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// responseFields strips "+CMD: " and splits the rest on commas.
func responseFields(line, prefix string) ([]string, error) {
	rest, ok := strings.CutPrefix(line, prefix)
	if !ok {
		return nil, fmt.Errorf("unexpected response %q, want %s", line, prefix)
	}
	rest = strings.TrimSpace(rest)
	return strings.Split(rest, ","), nil
}

// parseCREG decodes "+CREG: <n>,<stat>". Registered means home (1) or
// roaming (5).
func parseCREG(line string) (bool, error) {
	f, err := responseFields(line, "+CREG:")
	if err != nil {
		return false, err
	}
	if len(f) < 2 {
		return false, fmt.Errorf("creg: short response %q", line)
	}
	stat, err := strconv.Atoi(strings.TrimSpace(f[1]))
	if err != nil {
		return false, fmt.Errorf("creg: stat: %w", err)
	}
	return stat == 1 || stat == 5, nil
}

// parseSAPBR decodes `+SAPBR: <cid>,<status>,"<ip>"`. Status 1 is
// connected; 0 connecting, 2 closing and 3 closed are all down.
func parseSAPBR(line string) (bool, error) {
	f, err := responseFields(line, "+SAPBR:")
	if err != nil {
		return false, err
	}
	if len(f) < 2 {
		return false, fmt.Errorf("sapbr: short response %q", line)
	}
	status, err := strconv.Atoi(strings.TrimSpace(f[1]))
	if err != nil {
		return false, fmt.Errorf("sapbr: status: %w", err)
	}
	return status == 1, nil
}

// parseCGNSINF decodes
// "+CGNSINF: <run>,<fix>,<utc>,<lat>,<lon>,<alt>,<speed>,<course>,...".
// Speed is already in km/h. A fix without altitude is only 2D and is
// reported as ErrNoFix.
func parseCGNSINF(line string) (Fix, error) {
	f, err := responseFields(line, "+CGNSINF:")
	if err != nil {
		return Fix{}, err
	}
	if len(f) < 8 {
		return Fix{}, fmt.Errorf("cgnsinf: short response %q", line)
	}
	if f[0] != "1" || f[1] != "1" || f[3] == "" || f[4] == "" || f[5] == "" {
		return Fix{}, ErrNoFix
	}

	var fix Fix
	vals := []struct {
		name string
		in   string
		out  *float64
	}{
		{"lat", f[3], &fix.Latitude},
		{"lon", f[4], &fix.Longitude},
		{"alt", f[5], &fix.Altitude},
		{"speed", f[6], &fix.SpeedKmh},
		{"course", f[7], &fix.Heading},
	}
	for _, v := range vals {
		if v.in == "" {
			continue
		}
		x, err := strconv.ParseFloat(v.in, 64)
		if err != nil {
			return Fix{}, fmt.Errorf("cgnsinf: %s: %w", v.name, err)
		}
		*v.out = x
	}
	return fix, nil
}

// parseCBC decodes "+CBC: <bcs>,<bcl>,<voltage>" and returns bcl.
func parseCBC(line string) (uint8, error) {
	f, err := responseFields(line, "+CBC:")
	if err != nil {
		return 0, err
	}
	if len(f) < 2 {
		return 0, fmt.Errorf("cbc: short response %q", line)
	}
	pct, err := strconv.Atoi(strings.TrimSpace(f[1]))
	if err != nil {
		return 0, fmt.Errorf("cbc: level: %w", err)
	}
	if pct < 0 || pct > 100 {
		return 0, fmt.Errorf("cbc: level %d out of range", pct)
	}
	return uint8(pct), nil
}

// parseCCLK decodes `+CCLK: "yy/MM/dd,hh:mm:ss±zz"` where zz is the offset
// in quarter hours.
func parseCCLK(line string) (time.Time, error) {
	rest, ok := strings.CutPrefix(line, "+CCLK:")
	if !ok {
		return time.Time{}, fmt.Errorf("unexpected response %q, want +CCLK:", line)
	}
	rest = strings.Trim(strings.TrimSpace(rest), `"`)
	if len(rest) != 20 {
		return time.Time{}, fmt.Errorf("cclk: malformed %q", rest)
	}

	stamp, zone := rest[:17], rest[17:]
	t, err := time.Parse("06/01/02,15:04:05", stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("cclk: %w", err)
	}
	quarters, err := strconv.Atoi(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("cclk: zone: %w", err)
	}
	loc := time.FixedZone("", quarters*15*60)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
}

// quote wraps an AT string parameter.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, "") + `"`
}
