package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Options configures a RealClient.
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	KeepAlive      time.Duration

	// WillTopic and WillPayload register a retained last-will message.
	WillTopic   string
	WillPayload []byte
}

// RealClient publishes to an actual MQTT broker.
type RealClient struct {
	client         paho.Client
	connectTimeout time.Duration
	publishTimeout time.Duration
}

// NewRealClient creates a client for the given broker. It does not connect.
func NewRealClient(o Options) *RealClient {
	paho.ERROR = log.WithField("component", "paho")
	paho.CRITICAL = log.WithField("component", "paho")

	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 5 * time.Second
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 60 * time.Second
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(o.ConnectTimeout).
		SetKeepAlive(o.KeepAlive).
		SetPingTimeout(o.PublishTimeout).
		SetWriteTimeout(o.PublishTimeout).
		SetOrderMatters(true)
	if o.WillTopic != "" {
		opts.SetBinaryWill(o.WillTopic, o.WillPayload, 1, true)
	}

	return &RealClient{
		client:         paho.NewClient(opts),
		connectTimeout: o.ConnectTimeout,
		publishTimeout: o.PublishTimeout,
	}
}

// Connect opens the session.
func (c *RealClient) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(c.connectTimeout) {
		return fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	return nil
}

// IsConnected reports whether the session is up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Publish sends a message and waits for it to complete.
func (c *RealClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Disconnect closes the session.
func (c *RealClient) Disconnect() {
	c.client.Disconnect(1000) // 1 second timeout
}
