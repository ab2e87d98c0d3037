package modem

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Port is the serial line the AT driver talks over. *os.File opened on a
// tty and net.Conn both satisfy it.
type Port interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// Default command timeouts.
const (
	DefaultCommandTimeout = 2 * time.Second
	DefaultBearerTimeout  = 15 * time.Second
)

// ErrCommand is wrapped by errors returned when the module answers ERROR.
var ErrCommand = errors.New("modem error")

// ATDriver drives a SIM808-class module with AT commands.
type ATDriver struct {
	mu            sync.Mutex
	port          Port
	r             *bufio.Reader
	timeout       time.Duration
	bearerTimeout time.Duration
	dirty         bool
}

// NewATDriver wraps an open port and runs the init sequence: echo off,
// verbose errors, GNSS power on.
func NewATDriver(p Port, timeout time.Duration) (*ATDriver, error) {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	d := &ATDriver{
		port:          p,
		r:             bufio.NewReader(p),
		timeout:       timeout,
		bearerTimeout: DefaultBearerTimeout,
	}
	for _, cmd := range []string{"ATE0", "AT+CMEE=2", "AT+CGNSPWR=1"} {
		if _, err := d.command(cmd, "", d.timeout); err != nil {
			return nil, fmt.Errorf("init %s: %w", cmd, err)
		}
	}
	return d, nil
}

// RegistrationStatus queries AT+CREG?.
func (d *ATDriver) RegistrationStatus() (bool, error) {
	line, err := d.command("AT+CREG?", "+CREG:", d.timeout)
	if err != nil {
		return false, err
	}
	return parseCREG(line)
}

// BearerEnable configures and opens bearer profile 1.
func (d *ATDriver) BearerEnable(apn, user, pass string) error {
	cmds := []string{
		`AT+SAPBR=3,1,"CONTYPE","GPRS"`,
		"AT+SAPBR=3,1,\"APN\"," + quote(apn),
	}
	if user != "" {
		cmds = append(cmds, "AT+SAPBR=3,1,\"USER\","+quote(user))
	}
	if pass != "" {
		cmds = append(cmds, "AT+SAPBR=3,1,\"PWD\","+quote(pass))
	}
	for _, cmd := range cmds {
		if _, err := d.command(cmd, "", d.timeout); err != nil {
			return fmt.Errorf("bearer settings: %w", err)
		}
	}
	if _, err := d.command("AT+SAPBR=1,1", "", d.bearerTimeout); err != nil {
		return fmt.Errorf("bearer open: %w", err)
	}
	return nil
}

// BearerDisable closes bearer profile 1.
func (d *ATDriver) BearerDisable() error {
	_, err := d.command("AT+SAPBR=0,1", "", d.timeout)
	return err
}

// BearerStatus queries bearer profile 1 with AT+SAPBR=2,1.
func (d *ATDriver) BearerStatus() (bool, error) {
	line, err := d.command("AT+SAPBR=2,1", "+SAPBR:", d.timeout)
	if err != nil {
		return false, err
	}
	return parseSAPBR(line)
}

// Fix queries AT+CGNSINF.
func (d *ATDriver) Fix() (Fix, error) {
	line, err := d.command("AT+CGNSINF", "+CGNSINF:", d.timeout)
	if err != nil {
		return Fix{}, err
	}
	return parseCGNSINF(line)
}

// BatteryPercent queries AT+CBC.
func (d *ATDriver) BatteryPercent() (uint8, error) {
	line, err := d.command("AT+CBC", "+CBC:", d.timeout)
	if err != nil {
		return 0, err
	}
	return parseCBC(line)
}

// Clock queries AT+CCLK?.
func (d *ATDriver) Clock() (time.Time, error) {
	line, err := d.command("AT+CCLK?", "+CCLK:", d.timeout)
	if err != nil {
		return time.Time{}, err
	}
	return parseCCLK(line)
}

// SetLowPower writes AT+CSCLK without waiting for the answer.
// TODO: read back AT+CSCLK? once the wake path (DTR toggle) is wired, so a
// refused sleep directive is noticed.
func (d *ATDriver) SetLowPower(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var cmds []string
	if on {
		cmds = []string{"AT+CSCLK=1"}
	} else {
		// The first AT only wakes the UART.
		cmds = []string{"AT", "AT+CSCLK=0"}
	}
	for _, cmd := range cmds {
		if _, err := io.WriteString(d.port, cmd+"\r"); err != nil {
			return fmt.Errorf("write %s: %w", cmd, err)
		}
	}
	d.dirty = true
	return nil
}

// Close releases the port.
func (d *ATDriver) Close() error {
	return d.port.Close()
}

// command sends cmd and reads until OK or an error. If prefix is set, the
// first line starting with it is returned.
func (d *ATDriver) command(cmd, prefix string, timeout time.Duration) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dirty {
		d.drain()
		d.dirty = false
	}

	if _, err := io.WriteString(d.port, cmd+"\r"); err != nil {
		return "", fmt.Errorf("write %s: %w", cmd, err)
	}
	if err := d.port.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", fmt.Errorf("set deadline: %w", err)
	}

	var match string
	for {
		raw, err := d.r.ReadString('\n')
		if err != nil {
			// The module may answer later; drop it before the next command.
			d.dirty = true
			return "", fmt.Errorf("%s: read: %w", cmd, err)
		}
		line := strings.TrimSpace(raw)
		switch {
		case line == "" || line == cmd:
			continue
		case line == "OK":
			if prefix != "" && match == "" {
				return "", fmt.Errorf("%s: no %s line", cmd, prefix)
			}
			return match, nil
		case line == "ERROR" || strings.HasPrefix(line, "+CME ERROR") || strings.HasPrefix(line, "+CMS ERROR"):
			return "", fmt.Errorf("%s: %w: %s", cmd, ErrCommand, line)
		case prefix != "" && match == "" && strings.HasPrefix(line, prefix):
			match = line
		default:
			log.WithField("cmd", cmd).Debugf("modem: unsolicited %q", line)
		}
	}
}

// drain discards whatever the module sent since the last command.
func (d *ATDriver) drain() {
	_ = d.port.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 256)
	for {
		if d.r.Buffered() > 0 {
			d.r.Discard(d.r.Buffered())
			continue
		}
		if _, err := d.port.Read(buf); err != nil {
			break
		}
	}
	d.r.Reset(d.port)
}
