package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/openpeerpower/core/internal/infrastructure/config"
)

// MessageHandler receives messages for a subscription. It runs on paho's
// delivery goroutine; a returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// Logger is the part of logging.Logger the client reports handler
// failures through.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Client is a broker connection that announces the hub on the status
// topic and restores its subscriptions after every reconnect. It is safe
// for concurrent use.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig
	topics  Topics

	connected atomic.Bool

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	hookMu       sync.RWMutex
	onConnect    func()
	onDisconnect func(error)
	logger       Logger
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker and waits up to connectTimeout for the first
// session. paho keeps reconnecting in the background after that.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: no answer within %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	// The connect handler may not have run yet.
	c.connected.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	c := &Client{
		cfg:           cfg,
		topics:        Topics{Base: cfg.StateStream.BaseTopic},
		subscriptions: make(map[string]subscription),
	}
	c.options = clientOptions(cfg, c.topics.Status()).
		SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	c.client = pahomqtt.NewClient(c.options)
	return c
}

func (c *Client) handleConnect() {
	c.connected.Store(true)

	c.subMu.RLock()
	for topic, sub := range c.subscriptions {
		c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
	c.subMu.RUnlock()

	c.client.Publish(c.topics.Status(), byte(c.cfg.QoS), true, payloadOnline)

	c.hookMu.RLock()
	hook := c.onConnect
	c.hookMu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.hookMu.RLock()
	hook := c.onDisconnect
	c.hookMu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// Close announces "offline" and disconnects. A nil client is a no-op.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.client.Publish(c.topics.Status(), byte(c.cfg.QoS), true, payloadOffline).WaitTimeout(ackTimeout)
	}
	c.client.Disconnect(quiesceMillis)
	c.connected.Store(false)
	return nil
}

// HealthCheck fails with ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether a broker session is currently up.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnected()
}

// Topics returns the topic builder for the configured base topic.
func (c *Client) Topics() Topics {
	return c.topics
}

// SetOnConnect registers a hook run after the first connect and every
// reconnect.
func (c *Client) SetOnConnect(hook func()) {
	c.hookMu.Lock()
	c.onConnect = hook
	c.hookMu.Unlock()
}

// SetOnDisconnect registers a hook run when the session is lost.
func (c *Client) SetOnDisconnect(hook func(error)) {
	c.hookMu.Lock()
	c.onDisconnect = hook
	c.hookMu.Unlock()
}

// SetLogger sets where handler errors and panics are reported. Without
// one they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.hookMu.Lock()
	c.logger = logger
	c.hookMu.Unlock()
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.deliver(handler, msg.Topic(), msg.Payload())
	}
}

func (c *Client) deliver(handler MessageHandler, topic string, payload []byte) {
	c.hookMu.RLock()
	logger := c.logger
	c.hookMu.RUnlock()

	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("MQTT handler panic recovered", "topic", topic, "panic", r)
		}
	}()
	if err := handler(topic, payload); err != nil && logger != nil {
		logger.Warn("MQTT handler returned error", "topic", topic, "error", err)
	}
}
