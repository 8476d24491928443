package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// The broker delivers at-least-once; handlers downstream must tolerate
// redelivery.
const qosAtLeastOnce = 1

// ErrNotConnected is returned when a publish is attempted without a
// live broker connection. There is no outbound queueing.
var ErrNotConnected = errors.New("mqtt: not connected")

// ErrPublish is returned when the broker connection existed but the
// publish itself failed.
var ErrPublish = errors.New("mqtt: publish failed")

// MessageFunc receives an inbound message on the delivery goroutine.
type MessageFunc func(topic string, payload []byte)

// Config holds broker connection parameters.
type Config struct {
	BrokerHost     string
	BrokerPort     int
	ClientID       string
	Username       string
	Password       string
	UseTLS         bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// Client wraps the paho MQTT client with the small surface the rest of
// the process needs: publish a command, subscribe a handler.
type Client struct {
	client         paho.Client
	logger         *log.Logger
	publishTimeout time.Duration
}

// NewClient builds a client; Connect must be called before use.
func NewClient(cfg Config, logger *log.Logger) (*Client, error) {
	if cfg.BrokerHost == "" {
		return nil, errors.New("mqtt: empty broker host")
	}
	if cfg.BrokerPort <= 0 {
		return nil, errors.New("mqtt: invalid broker port")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("mqtt: empty client id")
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerHost, cfg.BrokerPort)).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOrderMatters(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Printf("mqtt: connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		logger.Printf("mqtt: connected to %s:%d", cfg.BrokerHost, cfg.BrokerPort)
	})

	return &Client{
		client:         paho.NewClient(opts),
		logger:         logger,
		publishTimeout: cfg.PublishTimeout,
	}, nil
}

// Connect establishes the broker connection.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("mqtt: connect timeout")
	}
	return token.Error()
}

// Publish sends a payload to a topic at QoS 1. Fails immediately when
// the connection is down; published commands cannot be retracted.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return errors.New("mqtt: empty topic")
	}
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qosAtLeastOnce, false, payload)
	deadline := c.publishTimeout
	if ctxDeadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(ctxDeadline); remaining < deadline {
			deadline = remaining
		}
	}
	if !token.WaitTimeout(deadline) {
		return fmt.Errorf("%w: timeout after %s", ErrPublish, deadline)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	return nil
}

// Subscribe routes every message matching the filter into handler.
// The handler runs on paho's delivery goroutine and must not panic.
func (c *Client) Subscribe(topicFilter string, handler MessageFunc) error {
	if topicFilter == "" {
		return errors.New("mqtt: empty topic filter")
	}
	if handler == nil {
		return errors.New("mqtt: nil handler")
	}
	token := c.client.Subscribe(topicFilter, qosAtLeastOnce, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("mqtt: subscribe timeout")
	}
	return token.Error()
}

// Disconnect closes the connection, letting in-flight work finish.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}
