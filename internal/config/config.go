// Package config holds the device configuration: compile-time defaults,
// optionally overlaid by a YAML file read once at start.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/gps-tracker/internal/failure"
	"github.com/sweeney/gps-tracker/internal/modem"
	"github.com/sweeney/gps-tracker/internal/telemetry"
)

// Config is the full device configuration.
type Config struct {
	Modem      ModemConfig     `yaml:"modem"`
	Cellular   CellularConfig  `yaml:"cellular"`
	MQTT       MQTTConfig      `yaml:"mqtt"`
	HTTP       HTTPConfig      `yaml:"http"`
	Local      LocalConfig     `yaml:"local"`
	Thresholds ThresholdConfig `yaml:"thresholds"`
	Timing     TimingConfig    `yaml:"timing"`
	Indicator  IndicatorConfig `yaml:"indicator"`
	Log        LogConfig       `yaml:"log"`
	Status     StatusConfig    `yaml:"status"`

	// FixPolicy is "restart" for devices with no fallback sink, "skip"
	// for devices with a local log.
	FixPolicy string `yaml:"fix_policy" validate:"oneof=restart skip"`

	// Sinks lists enabled sinks in delivery order. The local log, when
	// enabled, must come first.
	Sinks []string `yaml:"sinks" validate:"min=1,unique,dive,oneof=local mqtt http"`

	// Format is the CSV variant used by the local log and the publish sink.
	Format string `yaml:"format" validate:"lineformat"`

	// LowPower puts the module to sleep between cycles.
	LowPower bool `yaml:"low_power"`

	// BearerDown closes the bearer between cycles.
	BearerDown bool `yaml:"bearer_down"`
}

type ModemConfig struct {
	Device         string        `yaml:"device" validate:"required"`
	Baud           int           `yaml:"baud" validate:"oneof=9600 19200 38400 57600 115200"`
	CommandTimeout time.Duration `yaml:"command_timeout" validate:"gt=0"`
}

type CellularConfig struct {
	APN      string `yaml:"apn"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type MQTTConfig struct {
	Broker      string        `yaml:"broker" validate:"required,url"`
	ClientID    string        `yaml:"client_id"`
	Username    string        `yaml:"username"`
	Key         string        `yaml:"key"`
	Feed        string        `yaml:"feed"`
	Topic       string        `yaml:"topic"`
	SystemTopic string        `yaml:"system_topic"`
	QoS         byte          `yaml:"qos" validate:"lte=2"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
}

type HTTPConfig struct {
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type LocalConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// ThresholdConfig holds the per-category failure budgets.
type ThresholdConfig struct {
	Bearer    int `yaml:"bearer" validate:"min=1"`
	Handshake int `yaml:"handshake" validate:"min=1"`
	Fix       int `yaml:"fix" validate:"min=1"`
	Delivery  int `yaml:"delivery" validate:"min=1"`
	Cycle     int `yaml:"cycle" validate:"min=1"`
}

// TimingConfig holds stage intervals and deadman windows.
type TimingConfig struct {
	CycleInterval    time.Duration `yaml:"cycle_interval" validate:"gt=0"`
	RegistrationPoll time.Duration `yaml:"registration_poll" validate:"gt=0"`
	SettleDelay      time.Duration `yaml:"settle_delay" validate:"gte=0"`
	BearerRetry      time.Duration `yaml:"bearer_retry" validate:"gt=0"`
	StabiliseDelay   time.Duration `yaml:"stabilise_delay" validate:"gte=0"`
	FixPoll          time.Duration `yaml:"fix_poll" validate:"gt=0"`
	ConnectRetry     time.Duration `yaml:"connect_retry" validate:"gt=0"`
	HTTPRetry        time.Duration `yaml:"http_retry" validate:"gt=0"`
	Window           time.Duration `yaml:"window" validate:"gt=0"`
	ConnectWindow    time.Duration `yaml:"connect_window" validate:"gtefield=Window"`
	RestartHoldOff   time.Duration `yaml:"restart_hold_off" validate:"gte=0"`
}

type IndicatorConfig struct {
	Chip string `yaml:"chip"`
	// Line is the GPIO offset; negative disables the LED.
	Line int `yaml:"line"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=trace debug info warn warning error"`
	JSON  bool   `yaml:"json"`
}

type StatusConfig struct {
	// Addr is the status page listen address; empty disables it.
	Addr string `yaml:"addr"`
}

// Default returns the compile-time configuration.
func Default() Config {
	return Config{
		Modem: ModemConfig{
			Device:         "/dev/ttyS0",
			Baud:           115200,
			CommandTimeout: 2 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://io.adafruit.com:1883",
			ClientID: "gps-tracker",
			Feed:     "gps",
			QoS:      1,
			Timeout:  10 * time.Second,
		},
		HTTP: HTTPConfig{
			Timeout: 10 * time.Second,
		},
		Local: LocalConfig{
			Path: "/var/lib/gps-tracker/track.csv",
		},
		Thresholds: ThresholdConfig{
			Bearer:    6,
			Handshake: 5,
			Fix:       10,
			Delivery:  3,
			Cycle:     5,
		},
		Timing: TimingConfig{
			CycleInterval:    60 * time.Second,
			RegistrationPoll: 500 * time.Millisecond,
			SettleDelay:      2 * time.Second,
			BearerRetry:      5 * time.Second,
			StabiliseDelay:   3 * time.Second,
			FixPoll:          2 * time.Second,
			ConnectRetry:     5 * time.Second,
			HTTPRetry:        2 * time.Second,
			Window:           8 * time.Second,
			ConnectWindow:    21 * time.Second,
			RestartHoldOff:   5 * time.Second,
		},
		Indicator: IndicatorConfig{
			Chip: "gpiochip0",
			Line: 6,
		},
		Log: LogConfig{
			Level: "info",
		},
		Status: StatusConfig{
			Addr: ":8080",
		},
		FixPolicy:  "skip",
		Sinks:      []string{"local", "mqtt"},
		Format:     "csv4",
		BearerDown: false,
		LowPower:   false,
	}
}

// Load returns Default() overlaid with the YAML file at path. An empty
// path returns the defaults. The result is validated either way.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills fields derived from others.
func (c *Config) applyDefaults() {
	if c.MQTT.Topic == "" && c.MQTT.Feed != "" {
		c.MQTT.Topic = c.feedPrefix() + c.MQTT.Feed + "/csv"
	}
	if c.MQTT.SystemTopic == "" && c.MQTT.Feed != "" {
		c.MQTT.SystemTopic = c.feedPrefix() + c.MQTT.Feed + "-system"
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
}

func (c *Config) feedPrefix() string {
	if c.MQTT.Username == "" {
		return "feeds/"
	}
	return c.MQTT.Username + "/feeds/"
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// lineformat accepts any format the telemetry package can render.
	_ = v.RegisterValidation("lineformat", func(fl validator.FieldLevel) bool {
		for _, f := range telemetry.Formats() {
			if fl.Field().String() == string(f) {
				return true
			}
		}
		return false
	})
	return v
}

// Validate checks struct tags and the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	// A single stalled command or bearer attempt must not outlive the
	// watchdog window armed around it.
	if c.Modem.CommandTimeout >= c.Timing.Window {
		return errors.New("invalid config: modem.command_timeout must be shorter than timing.window")
	}
	if modem.DefaultBearerTimeout >= c.Timing.ConnectWindow {
		return fmt.Errorf("invalid config: timing.connect_window must exceed the %v bearer timeout", modem.DefaultBearerTimeout)
	}
	if c.MQTT.Timeout >= c.Timing.ConnectWindow || c.HTTP.Timeout >= c.Timing.ConnectWindow {
		return errors.New("invalid config: network timeouts must be shorter than timing.connect_window")
	}
	if c.HasSink("local") && c.Sinks[0] != "local" {
		return errors.New("invalid config: the local sink must be listed first")
	}
	if c.HasSink("mqtt") && c.MQTT.Topic == "" {
		return errors.New("invalid config: mqtt sink needs mqtt.topic or mqtt.feed")
	}
	if c.HasSink("http") && c.HTTP.URL == "" {
		return errors.New("invalid config: http sink needs http.url")
	}
	if c.FixPolicy == "skip" && !c.HasSink("local") {
		return errors.New("invalid config: fix_policy skip needs the local sink as fallback")
	}
	return nil
}

// HasSink reports whether name is enabled.
func (c *Config) HasSink(name string) bool {
	for _, s := range c.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// FailureThresholds converts the threshold section.
func (c *Config) FailureThresholds() failure.Thresholds {
	return failure.Thresholds{
		Bearer:    c.Thresholds.Bearer,
		Handshake: c.Thresholds.Handshake,
		Fix:       c.Thresholds.Fix,
		Delivery:  c.Thresholds.Delivery,
		Cycle:     c.Thresholds.Cycle,
	}
}
