// Package mqtt connects couriers' devices to the dispatch core: it pushes
// mailbox notifications to them and ingests their heartbeats and
// availability changes.
package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	coremon "github.com/kilianp07/courierd/core/monitoring"
	"github.com/kilianp07/courierd/infra/logger"
)

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

type subscription struct {
	qos     byte
	handler paho.MessageHandler
}

// Client wraps a Paho connection with retrying publishes and subscriptions
// that survive reconnects.
type Client struct {
	cli    pahoClient
	cfg    Config
	logger logger.Logger

	maxRetries int
	backoff    time.Duration

	mu   sync.Mutex
	subs map[string]subscription
}

// NewClient connects to the MQTT broker.
func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:        cfg,
		logger:     log,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		subs:       make(map[string]subscription),
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	if c.backoff <= 0 {
		c.backoff = 100 * time.Millisecond
	}

	opts.OnConnect = func(pc paho.Client) {
		log.Infof("MQTT connected")
		c.mu.Lock()
		defer c.mu.Unlock()
		for topic, s := range c.subs {
			if token := pc.Subscribe(topic, s.qos, s.handler); token.Wait() && token.Error() != nil {
				log.Errorf("resubscribe %s: %v", topic, token.Error())
			}
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	pc := newMQTTClient(opts)
	if token := pc.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	c.cli = pc
	return c, nil
}

// Publish sends payload with the QoS configured for kind, retrying with
// exponential backoff. The final failure is reported to the monitor.
func (c *Client) Publish(topic, kind string, payload []byte) error {
	qos := c.cfg.qos(kind)
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		token := c.cli.Publish(topic, qos, false, payload)
		token.Wait()
		if err = token.Error(); err == nil {
			c.logger.Debugf("published %s", topic)
			return nil
		}
		c.logger.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, err)
		if attempt < c.maxRetries {
			time.Sleep(c.backoff * time.Duration(1<<attempt))
		}
	}
	coremon.CaptureException(err, map[string]string{"module": "mqtt", "topic": topic})
	return fmt.Errorf("publish %s: %w", topic, err)
}

// Subscribe registers handler for topic and remembers it for reconnects.
func (c *Client) Subscribe(topic, kind string, handler paho.MessageHandler) error {
	qos := c.cfg.qos(kind)
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()
	if token := c.cli.Subscribe(topic, qos, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// Disconnect gracefully closes the MQTT connection.
func (c *Client) Disconnect() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
}
