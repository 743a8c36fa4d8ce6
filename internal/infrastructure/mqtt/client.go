package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler processes one inbound message. A returned error is
// logged and otherwise ignored; the message is already acknowledged.
type MessageHandler func(topic string, payload []byte) error

type route struct {
	qos     byte
	handler MessageHandler
}

// Client is the service's connection to the broker. It is safe for
// concurrent use. Routes registered with Subscribe survive reconnects.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected atomic.Bool

	loggerMu sync.RWMutex
	logger   Logger

	routesMu sync.RWMutex
	routes   map[string]route

	hooksMu      sync.RWMutex
	onConnect    []func()
	onDisconnect func(error)
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{cfg: cfg, routes: make(map[string]route), logger: noopLogger{}}
}

// Connect dials the broker and waits for the first CONNACK, bounded by
// ctx and connectTimeout. A retained offline will is registered on the
// service status topic; the matching online status is published on every
// connect.
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Info("reconnecting to MQTT broker", "broker", brokerURL(cfg.Broker))
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()

	waitCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
	case <-waitCtx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, waitCtx.Err())
	}

	// The paho connect handler runs on its own goroutine and may lag.
	c.connected.Store(true)
	return c, nil
}

// handleConnect runs after the initial connect and after every reconnect.
func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.resubscribe()

	id := c.cfg.Broker.ClientID
	c.client.Publish(Topics{}.ServiceStatus(id), byte(c.cfg.QoS), true, statusMessage(id, "online", ""))

	c.hooksMu.RLock()
	hooks := append([]func(){}, c.onConnect...)
	c.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)
	c.log().Warn("MQTT connection lost", "error", err)

	c.hooksMu.RLock()
	fn := c.onDisconnect
	c.hooksMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.IsConnected() {
		id := c.cfg.Broker.ClientID
		msg := statusMessage(id, "offline", "graceful_shutdown")
		c.client.Publish(Topics{}.ServiceStatus(id), byte(c.cfg.QoS), true, msg).WaitTimeout(operationTimeout)
	}
	c.client.Disconnect(quiesceMillis)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether both this client and paho consider the
// link up.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// OnConnect adds a hook run after every (re)connect, once routes are
// restored. Hooks run in registration order on paho's goroutine.
func (c *Client) OnConnect(fn func()) {
	c.hooksMu.Lock()
	c.onConnect = append(c.onConnect, fn)
	c.hooksMu.Unlock()
}

// SetOnDisconnect sets the hook run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hooksMu.Lock()
	c.onDisconnect = fn
	c.hooksMu.Unlock()
}

// SetLogger replaces the default no-op logger.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho, logging handler errors and
// recovering panics so one bad message cannot kill paho's router.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
