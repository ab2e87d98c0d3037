// Package connectivity brings the cellular data bearer up and down.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/gps-tracker/internal/failure"
	"github.com/sweeney/gps-tracker/internal/modem"
	"github.com/sweeney/gps-tracker/internal/retry"
)

// Default stage timings.
const (
	DefaultRegistrationPoll = 500 * time.Millisecond
	DefaultSettleDelay      = 2 * time.Second
	DefaultBearerRetry      = 5 * time.Second
	DefaultStabiliseDelay   = 3 * time.Second
)

var errNotRegistered = errors.New("not registered")

// Kicker re-arms the deadman.
type Kicker interface {
	Kick()
}

// Config holds the bearer credentials and stage timings.
type Config struct {
	APN      string
	User     string
	Password string

	RegistrationPoll time.Duration
	SettleDelay      time.Duration
	BearerRetry      time.Duration
	StabiliseDelay   time.Duration
}

// Manager owns the bearer lifecycle.
type Manager struct {
	driver  modem.Driver
	cfg     Config
	counter *failure.Counter
	dog     Kicker
	sleep   retry.Sleeper
}

// NewManager creates a Manager charging bearer failures to counter.
// sleep may be nil to use retry.Sleep.
func NewManager(driver modem.Driver, cfg Config, counter *failure.Counter, dog Kicker, sleep retry.Sleeper) *Manager {
	if sleep == nil {
		sleep = retry.Sleep
	}
	return &Manager{driver: driver, cfg: cfg, counter: counter, dog: dog, sleep: sleep}
}

// EnsureNetworkRegistered blocks until the module reports registration.
// There is no local bound and the deadman is not kicked while polling; a
// modem that never registers is recovered by the deadman's restart.
func (m *Manager) EnsureNetworkRegistered(ctx context.Context) error {
	m.kick()
	log.Printf("checking for network")

	polls := 0
	r := retry.Retrier{Sleep: m.sleep}
	err := r.Do(ctx, retry.Policy{Interval: m.cfg.RegistrationPoll, Unbounded: true}, nil, func(context.Context) error {
		polls++
		ok, err := m.driver.RegistrationStatus()
		if err != nil {
			return fmt.Errorf("registration status: %w", err)
		}
		if !ok {
			return errNotRegistered
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.WithField("polls", polls).Printf("registered on network")
	return nil
}

// BearerUp drops any stale bearer, waits for the module to settle and then
// opens the bearer, retrying at a fixed interval. When the cellular-bearer
// counter is exceeded it returns a *retry.ExhaustedError with ActionSkip.
func (m *Manager) BearerUp(ctx context.Context) error {
	m.kick()
	if err := m.driver.BearerDisable(); err != nil {
		log.Debugf("stale bearer disable: %v", err)
	}
	m.kick()
	if err := m.sleep(ctx, m.cfg.SettleDelay); err != nil {
		return err
	}

	r := retry.Retrier{Sleep: m.sleep, Kick: m.kick}
	policy := retry.Policy{Interval: m.cfg.BearerRetry, OnExhausted: retry.ActionSkip}
	err := r.Do(ctx, policy, m.counter, func(context.Context) error {
		log.WithField("apn", m.cfg.APN).Printf("enabling bearer")
		return m.driver.BearerEnable(m.cfg.APN, m.cfg.User, m.cfg.Password)
	})
	if err != nil {
		return err
	}
	log.Printf("bearer up")

	// Let the link stabilise before any traffic.
	m.kick()
	err = m.sleep(ctx, m.cfg.StabiliseDelay)
	m.kick()
	return err
}

// BearerDown closes the bearer on a best-effort basis. Failures are logged
// only: the next BearerUp starts by closing it again anyway.
func (m *Manager) BearerDown() {
	m.kick()
	if err := m.driver.BearerDisable(); err != nil {
		log.Printf("bearer down: %v", err)
	}
	m.kick()
}

// LinkUp reports whether the bearer is still open. A failed query counts
// as down; it is neither retried nor charged to the bearer counter.
func (m *Manager) LinkUp() bool {
	m.kick()
	up, err := m.driver.BearerStatus()
	m.kick()
	if err != nil {
		log.Printf("bearer status: %v", err)
		return false
	}
	return up
}

// EnterLowPower asks the module to sleep. Nothing confirms it did.
func (m *Manager) EnterLowPower() {
	if err := m.driver.SetLowPower(true); err != nil {
		log.Printf("enter low power: %v", err)
	}
}

// ExitLowPower asks the module to wake. Nothing confirms it did.
func (m *Manager) ExitLowPower() {
	if err := m.driver.SetLowPower(false); err != nil {
		log.Printf("exit low power: %v", err)
	}
}

func (m *Manager) kick() {
	if m.dog != nil {
		m.dog.Kick()
	}
}
