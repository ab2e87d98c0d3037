// Command gps-tracker reads GNSS fixes from a cellular modem and delivers
// them to a local log, an MQTT feed and an HTTP collector once per cycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sweeney/gps-tracker/internal/config"
	"github.com/sweeney/gps-tracker/internal/connectivity"
	"github.com/sweeney/gps-tracker/internal/cycle"
	"github.com/sweeney/gps-tracker/internal/deadman"
	"github.com/sweeney/gps-tracker/internal/failure"
	"github.com/sweeney/gps-tracker/internal/indicator"
	"github.com/sweeney/gps-tracker/internal/location"
	"github.com/sweeney/gps-tracker/internal/metrics"
	"github.com/sweeney/gps-tracker/internal/modem"
	"github.com/sweeney/gps-tracker/internal/mqtt"
	"github.com/sweeney/gps-tracker/internal/retry"
	"github.com/sweeney/gps-tracker/internal/sink"
	"github.com/sweeney/gps-tracker/internal/status"
	"github.com/sweeney/gps-tracker/internal/telemetry"
	"github.com/sweeney/gps-tracker/internal/web"
)

type options struct {
	configPath string
	httpAddr   string
	printFix   bool
	simulate   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "gps-tracker",
		Short:        "Cellular GPS tracker daemon",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg.Log, os.Stderr); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML config file overlaying the built-in defaults")
	f.StringVar(&opts.httpAddr, "http", "", "HTTP status address, overrides status.addr (empty to disable)")
	f.BoolVar(&opts.printFix, "print-fix", false, "Print one fix and exit")
	f.BoolVar(&opts.simulate, "simulate", false, "Run against a simulated modem")
	return cmd
}

func loadConfig(cmd *cobra.Command, opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("http") {
		cfg.Status.Addr = opts.httpAddr
	}
	return cfg, nil
}

func setupLogging(cfg config.LogConfig, out io.Writer) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)
	log.SetOutput(out)
	if cfg.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	open := func() (modem.Driver, error) { return openDriver(cfg, opts.simulate) }

	// Print fix mode
	if opts.printFix {
		driver, err := open()
		if err != nil {
			return fmt.Errorf("init modem: %w", err)
		}
		defer driver.Close()
		return printFix(ctx, cfg, driver, os.Stdout)
	}

	led := openIndicator(cfg, opts.simulate)
	defer led.Close()

	// The service manager's watchdog must outlast the inter-cycle sleep.
	notifier := deadman.NewSystemdNotifier(cfg.Timing.CycleInterval + cfg.Timing.ConnectWindow)
	dog := deadman.New(func(w time.Duration) { deadmanExpired(w, led) }, deadman.WithNotifier(notifier))
	notifier.Ready()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		Broker:        cfg.MQTT.Broker,
		Topic:         cfg.MQTT.Topic,
		HTTPURL:       cfg.HTTP.URL,
		HTTPAddr:      cfg.Status.Addr,
		Sinks:         cfg.Sinks,
		FixPolicy:     cfg.FixPolicy,
		Format:        cfg.Format,
		CycleInterval: cfg.Timing.CycleInterval,
		Simulated:     opts.simulate,
	})

	// Start HTTP status server
	if cfg.Status.Addr != "" {
		srv := web.New(cfg.Status.Addr, tracker, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.Status.Addr)
	}

	var client mqtt.Client
	if cfg.HasSink(sink.NameMQTT) {
		rc, err := newMQTTClient(cfg)
		if err != nil {
			return err
		}
		client = rc
		tracker.WatchMQTT(rc)
	}

	log.WithFields(log.Fields{
		"sinks":    cfg.Sinks,
		"interval": cfg.Timing.CycleInterval,
		"policy":   cfg.FixPolicy,
		"simulate": opts.simulate,
	}).Printf("started")

	sup := &supervisor{
		cfg:       cfg,
		openModem: open,
		client:    client,
		dog:       dog,
		led:       led,
		tracker:   tracker,
		metrics:   m,
		newBootID: uuid.NewString,
		sleep:     retry.Sleep,
	}
	return sup.loop(ctx)
}

func openDriver(cfg *config.Config, simulate bool) (modem.Driver, error) {
	if simulate {
		return simulatedDriver(), nil
	}
	port, err := modem.OpenSerial(cfg.Modem.Device, cfg.Modem.Baud)
	if err != nil {
		return nil, err
	}
	d, err := modem.NewATDriver(port, cfg.Modem.CommandTimeout)
	if err != nil {
		port.Close()
		return nil, err
	}
	return d, nil
}

// simulatedDriver is a registered modem parked at a fixed position. The
// clock is left unset so samples carry the host time.
func simulatedDriver() *modem.FakeDriver {
	d := modem.NewFakeDriver()
	d.Fixes = []modem.FixResult{{Fix: modem.Fix{
		Latitude:  51.477928,
		Longitude: -0.001545,
		SpeedKmh:  0,
		Heading:   0,
		Altitude:  46,
	}}}
	d.Battery = 100
	return d
}

func openIndicator(cfg *config.Config, simulate bool) indicator.Output {
	if simulate || cfg.Indicator.Line < 0 {
		return indicator.Nop{}
	}
	led, err := indicator.NewRealLED(cfg.Indicator.Chip, cfg.Indicator.Line)
	if err != nil {
		log.Printf("indicator disabled: %v", err)
		return indicator.Nop{}
	}
	return led
}

func newMQTTClient(cfg *config.Config) (*mqtt.RealClient, error) {
	will, err := mqtt.FormatSystemPayload(mqtt.SystemEvent{Event: mqtt.EventOffline, Reason: "lost"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}
	return mqtt.NewRealClient(mqtt.Options{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Key,
		ConnectTimeout: cfg.MQTT.Timeout,
		PublishTimeout: cfg.MQTT.Timeout,
		WillTopic:      cfg.MQTT.SystemTopic,
		WillPayload:    will,
	}), nil
}

var (
	exit        = os.Exit
	expiryBlink = 2 * time.Second
)

// deadmanExpired runs on the timer goroutine: blink for a moment so the
// fault is visible, then let the service manager restart the process.
func deadmanExpired(window time.Duration, led indicator.Output) {
	log.WithField("window", window).Error("deadman expired, restarting")
	ctx, cancel := context.WithTimeout(context.Background(), expiryBlink)
	defer cancel()
	indicator.Blink(ctx, led, indicator.BlinkPeriod)
	exit(2)
}

func printFix(ctx context.Context, cfg *config.Config, driver modem.Driver, w io.Writer) error {
	counter := failure.NewCounter(failure.CategoryFix, cfg.Thresholds.Fix)
	acq, err := location.NewAcquirer(driver, location.PolicySkip, cfg.Timing.FixPoll, counter, nil, nil, nil)
	if err != nil {
		return err
	}
	s, err := acq.AcquireFix(ctx)
	if err != nil {
		return fmt.Errorf("acquire fix: %w", err)
	}
	line, err := s.Line(telemetry.FormatCSV6)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, line)
	return nil
}

// supervisor runs generations of the cycle. Every generation starts from
// fresh counters and a new boot id; a restart outcome ends the generation.
type supervisor struct {
	cfg       *config.Config
	openModem func() (modem.Driver, error)
	client    mqtt.Client
	dog       cycle.Watchdog
	led       indicator.Output
	tracker   *status.Tracker
	metrics   *metrics.Metrics
	newBootID func() string
	sleep     retry.Sleeper

	restarts int
	bootID   string
}

func (s *supervisor) loop(ctx context.Context) error {
	cause := ""
	for {
		orch, closers, err := s.build(cause)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{"boot_id": s.bootID, "restarts": s.restarts}).Printf("starting generation")

		err = orch.Run(ctx)
		if ctx.Err() != nil {
			log.Printf("shutting down")
			s.announceOffline("shutdown")
		}
		for _, c := range closers {
			c.Close()
		}
		if s.client != nil {
			s.tracker.SetMQTTConnected(s.client.IsConnected())
		}
		if ctx.Err() != nil {
			return nil
		}
		re, ok := cycle.AsRestart(err)
		if !ok {
			return err
		}

		s.restarts++
		cause = string(re.Category)
		s.metrics.Restarted(cause)
		log.WithFields(log.Fields{"category": cause, "restarts": s.restarts}).Errorf("restarting: %v", err)

		if err := s.holdOff(ctx); err != nil {
			log.Printf("shutting down")
			return nil
		}
	}
}

// holdOff blinks the indicator for the restart hold-off.
func (s *supervisor) holdOff(ctx context.Context) error {
	bctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		indicator.Blink(bctx, s.led, indicator.BlinkPeriod)
	}()
	err := s.sleep(ctx, s.cfg.Timing.RestartHoldOff)
	cancel()
	<-done
	return err
}

func (s *supervisor) build(cause string) (*cycle.Orchestrator, []io.Closer, error) {
	cfg := s.cfg

	// Every generation re-runs the modem's init sequence.
	driver, err := s.openModem()
	if err != nil {
		return nil, nil, fmt.Errorf("init modem: %w", err)
	}

	s.bootID = s.newBootID()
	state := failure.NewDeviceState(cfg.FailureThresholds(), cfg.Sinks)

	conn := connectivity.NewManager(driver, connectivity.Config{
		APN:              cfg.Cellular.APN,
		User:             cfg.Cellular.User,
		Password:         cfg.Cellular.Password,
		RegistrationPoll: cfg.Timing.RegistrationPoll,
		SettleDelay:      cfg.Timing.SettleDelay,
		BearerRetry:      cfg.Timing.BearerRetry,
		StabiliseDelay:   cfg.Timing.StabiliseDelay,
	}, state.Bearer, s.dog, s.sleep)

	loc, err := location.NewAcquirer(driver, location.Policy(cfg.FixPolicy), cfg.Timing.FixPoll, state.Fix, s.dog, s.sleep, nil)
	if err != nil {
		driver.Close()
		return nil, nil, err
	}

	sinks, closers, err := s.buildSinks(state, cause)
	if err != nil {
		driver.Close()
		return nil, nil, err
	}
	// The broker session closes before the modem.
	closers = append(closers, driver)

	s.tracker.NewGeneration(s.bootID, s.restarts, cause)
	orch := cycle.New(cycle.Config{
		Interval:      cfg.Timing.CycleInterval,
		ConnectWindow: cfg.Timing.ConnectWindow,
		Window:        cfg.Timing.Window,
		BearerDown:    cfg.BearerDown,
		LowPower:      cfg.LowPower,
	}, state, conn, loc, sinks, s.dog,
		cycle.WithObserver(cycle.Observers{s.tracker, s.metrics}),
		cycle.WithSleeper(s.sleep))
	return orch, closers, nil
}

func (s *supervisor) buildSinks(state *failure.DeviceState, cause string) ([]sink.Sink, []io.Closer, error) {
	cfg := s.cfg
	format := telemetry.Format(cfg.Format)

	var sinks []sink.Sink
	var closers []io.Closer
	for _, name := range cfg.Sinks {
		counter := state.DeliveryCounter(name, cfg.Thresholds.Delivery)
		switch name {
		case sink.NameLocal:
			sinks = append(sinks, sink.NewLocalLog(cfg.Local.Path, format, counter))
		case sink.NameMQTT:
			if s.client == nil {
				return nil, nil, errors.New("mqtt sink enabled without a client")
			}
			p := sink.NewPublish(s.client, sink.PublishConfig{
				Topic:        cfg.MQTT.Topic,
				SystemTopic:  cfg.MQTT.SystemTopic,
				QoS:          cfg.MQTT.QoS,
				Format:       format,
				ConnectRetry: cfg.Timing.ConnectRetry,
				Startup: &mqtt.SystemEvent{
					Event:    mqtt.EventStartup,
					Reason:   cause,
					BootID:   s.bootID,
					Restarts: s.restarts,
				},
			}, state.Handshake, counter, s.dog, s.sleep)
			sinks = append(sinks, p)
			closers = append(closers, p)
		case sink.NameHTTP:
			client := &http.Client{Timeout: cfg.HTTP.Timeout}
			sinks = append(sinks, sink.NewHTTPPost(cfg.HTTP.URL, client, counter, cfg.Timing.HTTPRetry, s.dog, s.sleep))
		default:
			return nil, nil, fmt.Errorf("unknown sink %q", name)
		}
	}
	return sinks, closers, nil
}

// announceOffline publishes a retained OFFLINE event on a clean shutdown.
// Without a live session the broker's will covers it.
func (s *supervisor) announceOffline(reason string) {
	if s.client == nil || s.cfg.MQTT.SystemTopic == "" || !s.client.IsConnected() {
		return
	}

	payload, err := mqtt.FormatSystemPayload(mqtt.SystemEvent{
		Timestamp: time.Now(),
		Event:     mqtt.EventOffline,
		Reason:    reason,
		BootID:    s.bootID,
		Restarts:  s.restarts,
	})
	if err != nil {
		log.Printf("format offline event: %v", err)
		return
	}
	if err := s.client.Publish(s.cfg.MQTT.SystemTopic, 1, true, payload); err != nil {
		log.Printf("failed to publish offline event: %v", err)
	} else {
		log.Printf("published offline event")
	}
}
