// Package location acquires a GNSS fix and completes it into a telemetry
// sample.
package location

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/gps-tracker/internal/failure"
	"github.com/sweeney/gps-tracker/internal/modem"
	"github.com/sweeney/gps-tracker/internal/retry"
	"github.com/sweeney/gps-tracker/internal/telemetry"
)

// DefaultPollInterval is the delay between fix polls.
const DefaultPollInterval = 2 * time.Second

// Policy decides what running out of fix attempts means.
type Policy string

const (
	// PolicyRestart is for devices with no fallback sink: keep polling until
	// the threshold, then force a restart.
	PolicyRestart Policy = "restart"
	// PolicySkip is for devices with a local log: give up on this cycle only.
	PolicySkip Policy = "skip"
)

// Action maps the policy to the exhaustion action.
func (p Policy) Action() (retry.Action, error) {
	switch p {
	case PolicyRestart:
		return retry.ActionRestart, nil
	case PolicySkip:
		return retry.ActionSkip, nil
	}
	return 0, fmt.Errorf("unknown fix policy %q", p)
}

// Kicker re-arms the deadman.
type Kicker interface {
	Kick()
}

// Acquirer polls the receiver for a fix.
type Acquirer struct {
	driver   modem.Driver
	counter  *failure.Counter
	dog      Kicker
	sleep    retry.Sleeper
	interval time.Duration
	action   retry.Action
	now      func() time.Time
}

// NewAcquirer creates an Acquirer charging misses to counter.
// sleep and now may be nil.
func NewAcquirer(driver modem.Driver, policy Policy, interval time.Duration, counter *failure.Counter, dog Kicker, sleep retry.Sleeper, now func() time.Time) (*Acquirer, error) {
	action, err := policy.Action()
	if err != nil {
		return nil, err
	}
	if sleep == nil {
		sleep = retry.Sleep
	}
	if now == nil {
		now = time.Now
	}
	return &Acquirer{
		driver:   driver,
		counter:  counter,
		dog:      dog,
		sleep:    sleep,
		interval: interval,
		action:   action,
		now:      now,
	}, nil
}

// AcquireFix polls until a 3D fix is available, then reads battery and
// clock over the same link to complete the sample. On exhaustion it returns
// a *retry.ExhaustedError carrying the policy's action.
func (a *Acquirer) AcquireFix(ctx context.Context) (telemetry.Sample, error) {
	var fix modem.Fix
	r := retry.Retrier{Sleep: a.sleep, Kick: a.kick}
	err := r.Do(ctx, retry.Policy{Interval: a.interval, OnExhausted: a.action}, a.counter, func(context.Context) error {
		f, err := a.driver.Fix()
		if err != nil {
			return err
		}
		fix = f
		return nil
	})
	if err != nil {
		return telemetry.Sample{}, err
	}

	a.kick()
	battery, err := a.driver.BatteryPercent()
	if err != nil {
		log.Printf("battery read: %v", err)
	}

	a.kick()
	ts, err := a.driver.Clock()
	if err != nil {
		log.Printf("modem clock read: %v, using host clock", err)
		ts = a.now()
	}
	a.kick()

	s := telemetry.Sample{
		Time:      ts,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		SpeedKmh:  fix.SpeedKmh,
		Heading:   fix.Heading,
		Altitude:  fix.Altitude,
		Battery:   battery,
	}
	log.WithFields(log.Fields{
		"lat":     s.Latitude,
		"lon":     s.Longitude,
		"speed":   s.SpeedKmh,
		"alt":     s.Altitude,
		"battery": s.Battery,
	}).Printf("fix acquired")
	return s, nil
}

func (a *Acquirer) kick() {
	if a.dog != nil {
		a.dog.Kick()
	}
}
