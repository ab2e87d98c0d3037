package sink

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/gps-tracker/internal/failure"
	"github.com/sweeney/gps-tracker/internal/mqtt"
	"github.com/sweeney/gps-tracker/internal/retry"
	"github.com/sweeney/gps-tracker/internal/telemetry"
)

// DefaultConnectRetry is the delay between broker connect attempts.
const DefaultConnectRetry = 5 * time.Second

// PublishConfig configures the message-publish sink.
type PublishConfig struct {
	Topic        string
	SystemTopic  string
	QoS          byte
	Format       telemetry.Format
	ConnectRetry time.Duration

	// Startup, if set, is published retained on SystemTopic after the first
	// successful connect.
	Startup *mqtt.SystemEvent
}

// Publish sends samples to a broker feed. It has no fallback, so persistent
// failure escalates to a restart rather than failing silently forever.
type Publish struct {
	client    mqtt.Client
	cfg       PublishConfig
	handshake *failure.Counter
	delivery  *failure.Counter
	dog       Kicker
	sleep     retry.Sleeper
	announced bool
}

// NewPublish creates a publish sink. Connect failures are charged to
// handshake, publish failures to delivery.
func NewPublish(client mqtt.Client, cfg PublishConfig, handshake, delivery *failure.Counter, dog Kicker, sleep retry.Sleeper) *Publish {
	return &Publish{
		client:    client,
		cfg:       cfg,
		handshake: handshake,
		delivery:  delivery,
		dog:       dog,
		sleep:     sleep,
	}
}

// Name returns NameMQTT.
func (p *Publish) Name() string { return NameMQTT }

// Deliver connects if needed, then publishes the sample once.
func (p *Publish) Deliver(ctx context.Context, s telemetry.Sample) error {
	if err := p.ensureConnected(ctx); err != nil {
		return err
	}

	payload, err := s.Line(p.cfg.Format)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}

	kick(p.dog)
	err = p.client.Publish(p.cfg.Topic, p.cfg.QoS, false, []byte(payload))
	kick(p.dog)
	if err != nil {
		n := p.delivery.Increment()
		log.WithFields(log.Fields{"sink": NameMQTT, "count": n, "max": p.delivery.Max()}).Printf("publish failed: %v", err)
		if p.delivery.Exceeded() {
			return &retry.ExhaustedError{
				Category: failure.CategoryDelivery,
				Action:   retry.ActionRestart,
				Attempts: n,
				Last:     err,
			}
		}
		return fmt.Errorf("publish: %w", err)
	}

	p.delivery.Reset()
	log.WithFields(log.Fields{"sink": NameMQTT, "topic": p.cfg.Topic}).Printf("published %s", payload)
	return nil
}

// Close ends the broker session.
func (p *Publish) Close() error {
	if p.client.IsConnected() {
		p.client.Disconnect()
	}
	return nil
}

func (p *Publish) ensureConnected(ctx context.Context) error {
	if p.client.IsConnected() {
		return nil
	}
	log.Printf("connecting to broker")

	r := retry.Retrier{Sleep: p.sleep}
	if p.dog != nil {
		r.Kick = p.dog.Kick
	}
	policy := retry.Policy{Interval: p.cfg.ConnectRetry, OnExhausted: retry.ActionRestart}
	err := r.Do(ctx, policy, p.handshake, func(context.Context) error {
		if err := p.client.Connect(); err != nil {
			p.client.Disconnect()
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("broker connected")
	p.announce()
	return nil
}

func (p *Publish) announce() {
	if p.announced || p.cfg.Startup == nil || p.cfg.SystemTopic == "" {
		return
	}
	p.announced = true

	ev := *p.cfg.Startup
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	payload, err := mqtt.FormatSystemPayload(ev)
	if err != nil {
		log.Printf("format startup event: %v", err)
		return
	}
	kick(p.dog)
	if err := p.client.Publish(p.cfg.SystemTopic, 1, true, payload); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}
	kick(p.dog)
}
