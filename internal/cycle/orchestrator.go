// Package cycle runs the tracking cycle: connect, acquire a fix, deliver it
// to every sink, cool down, repeat. It owns the failure counters and turns
// exhausted budgets into skip or restart decisions.
package cycle

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/gps-tracker/internal/deadman"
	"github.com/sweeney/gps-tracker/internal/failure"
	"github.com/sweeney/gps-tracker/internal/retry"
	"github.com/sweeney/gps-tracker/internal/sink"
	"github.com/sweeney/gps-tracker/internal/telemetry"
)

// DefaultInterval is the inter-cycle sleep.
const DefaultInterval = 60 * time.Second

// Watchdog is the part of the deadman the orchestrator drives.
type Watchdog interface {
	Arm(window time.Duration)
	Kick()
	Disarm()
}

// Connectivity is the bearer stage.
type Connectivity interface {
	EnsureNetworkRegistered(ctx context.Context) error
	BearerUp(ctx context.Context) error
	BearerDown()
	LinkUp() bool
	EnterLowPower()
	ExitLowPower()
}

// Locator is the fix stage.
type Locator interface {
	AcquireFix(ctx context.Context) (telemetry.Sample, error)
}

// Config holds cycle timing and cool-down behaviour.
type Config struct {
	Interval      time.Duration
	ConnectWindow time.Duration
	Window        time.Duration

	// BearerDown closes the bearer before sleeping.
	BearerDown bool
	// LowPower puts the module to sleep between cycles.
	LowPower bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ConnectWindow <= 0 {
		c.ConnectWindow = deadman.ConnectWindow
	}
	if c.Window <= 0 {
		c.Window = deadman.DefaultWindow
	}
	return c
}

// Orchestrator sequences one generation of cycles. Not safe for concurrent
// use; it is driven by a single control goroutine.
type Orchestrator struct {
	cfg      Config
	state    *failure.DeviceState
	conn     Connectivity
	loc      Locator
	sinks    []sink.Sink
	dog      Watchdog
	sleep    retry.Sleeper
	observer Observer

	current State
	cycles  int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleeper replaces the inter-cycle sleep.
func WithSleeper(s retry.Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// WithObserver registers an observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// New creates an orchestrator. Sinks run in the order given, except that
// the local log always runs first.
func New(cfg Config, state *failure.DeviceState, conn Connectivity, loc Locator, sinks []sink.Sink, dog Watchdog, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg.withDefaults(),
		state:    state,
		conn:     conn,
		loc:      loc,
		sinks:    sink.Ordered(sinks),
		dog:      dog,
		sleep:    retry.Sleep,
		observer: Observers(nil),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current stage.
func (o *Orchestrator) State() State { return o.current }

// Cycles returns how many cycles have started.
func (o *Orchestrator) Cycles() int { return o.cycles }

// Run loops cycles until one demands a restart or ctx is cancelled.
// It returns a *RestartError or ctx's error.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if err := o.RunCycle(ctx); err != nil {
			return err
		}
	}
}

// RunCycle runs one full cycle, cool-down included. A nil return means the
// next cycle may start.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	o.cycles++
	res := Result{Cycle: o.cycles}

	err := o.cycle(ctx, &res)
	if err != nil {
		o.dog.Disarm()
		res.Outcome = OutcomeCancelled
		if errors.Is(err, ErrRestart) {
			res.Outcome = OutcomeRestart
			log.WithField("cycle", o.cycles).Printf("restart: %v", err)
		}
	}
	res.Err = err

	o.enter(StateIdle)
	o.observer.CycleFinished(res, o.state.Snapshot())
	return err
}

func (o *Orchestrator) cycle(ctx context.Context, res *Result) error {
	o.enter(StateConnectingBearer)
	o.dog.Arm(o.cfg.ConnectWindow)
	if err := o.conn.EnsureNetworkRegistered(ctx); err != nil {
		return err
	}
	if err := o.conn.BearerUp(ctx); err != nil {
		ex, ok := retry.AsExhausted(err)
		if !ok {
			return err
		}
		res.Outcome = OutcomeBearerSkipped
		res.Exhausted = ex.Category
		if err := o.cycleFailed(ex); err != nil {
			return err
		}
		return o.coolDown(ctx, res)
	}

	o.enter(StateAcquiringFix)
	o.dog.Arm(o.cfg.Window)
	sample, err := o.loc.AcquireFix(ctx)
	if err != nil {
		ex, ok := retry.AsExhausted(err)
		if !ok {
			return err
		}
		res.Outcome = OutcomeFixSkipped
		res.Exhausted = ex.Category
		cerr := o.cycleFailed(ex)
		if ex.Action == retry.ActionRestart {
			return &RestartError{Category: ex.Category, Cause: ex}
		}
		if cerr != nil {
			return cerr
		}
		return o.coolDown(ctx, res)
	}
	res.Sample = &sample

	// Delivery may open a broker session, so it gets the wide window.
	o.enter(StateDelivering)
	o.dog.Arm(o.cfg.ConnectWindow)
	if err := o.deliver(ctx, sample, res); err != nil {
		return err
	}
	return o.coolDown(ctx, res)
}

// deliver runs every sink in order. A sink asking for a restart does not
// stop the sinks after it; the restart is returned once all have run.
func (o *Orchestrator) deliver(ctx context.Context, s telemetry.Sample, res *Result) error {
	var restart error
	delivered := 0
	for _, sk := range o.sinks {
		err := sk.Deliver(ctx, s)
		res.Deliveries = append(res.Deliveries, Delivery{Sink: sk.Name(), Err: err})
		if err == nil {
			delivered++
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithField("sink", sk.Name()).Printf("delivery failed: %v", err)
		if restart == nil && retry.IsRestart(err) {
			ex, _ := retry.AsExhausted(err)
			res.Exhausted = ex.Category
			restart = &RestartError{Category: ex.Category, Cause: err}
		}
	}

	if delivered == 0 {
		res.Outcome = OutcomeUndelivered
		if err := o.cycleFailed(errors.New("no sink delivered")); err != nil && restart == nil {
			restart = err
		}
	} else {
		res.Outcome = OutcomeDelivered
		o.state.Cycle.Reset()
	}
	return restart
}

// cycleFailed charges one failure to the cycle counter and returns a
// restart once it is exceeded.
func (o *Orchestrator) cycleFailed(cause error) error {
	n := o.state.Cycle.Increment()
	log.WithFields(log.Fields{
		"category": failure.CategoryCycle,
		"count":    n,
		"max":      o.state.Cycle.Max(),
	}).Printf("cycle failed: %v", cause)
	if o.state.Cycle.Exceeded() {
		return &RestartError{Category: failure.CategoryCycle, Cause: cause}
	}
	return nil
}

func (o *Orchestrator) coolDown(ctx context.Context, res *Result) error {
	o.enter(StateCoolingDown)
	res.LinkUp = o.conn.LinkUp()
	if !res.LinkUp {
		log.WithField("cycle", o.cycles).Warn("cellular link down")
	}
	if o.cfg.BearerDown {
		o.conn.BearerDown()
	}
	if o.cfg.LowPower {
		o.conn.EnterLowPower()
	}
	o.dog.Disarm()

	log.Printf("sleeping %v", o.cfg.Interval)
	err := o.sleep(ctx, o.cfg.Interval)

	if o.cfg.LowPower {
		o.conn.ExitLowPower()
	}
	return err
}

func (o *Orchestrator) enter(s State) {
	if s == o.current {
		return
	}
	log.WithFields(log.Fields{"cycle": o.cycles, "from": o.current, "state": s}).Debug("transition")
	o.current = s
	o.observer.StateChanged(s)
}
