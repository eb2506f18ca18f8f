// Package mqtt wires the alarm service onto the bus: one autopaho
// connection manager, a topic router fanning inbound messages out to many
// independent subscribers, and a last-will availability topic so other
// bus participants can tell when the service itself goes dark.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/hollowoak/alarmd/internal/config"
	"github.com/hollowoak/alarmd/internal/loop"
)

// Client manages the broker connection for one service instance. All
// inbound message dispatch is submitted through engine, so Input and group
// handlers never race with timer callbacks or each other.
type Client struct {
	cfg         config.MQTTConfig
	serviceName string
	engine      *loop.Engine
	logger      *slog.Logger

	router      *router
	rateLimiter *messageRateLimiter
	rateDone    chan struct{}

	cm *autopaho.ConnectionManager
}

// New creates a Client but does not connect. Call [Client.Start] to begin
// the connection. A nil logger is replaced with [slog.Default].
func New(cfg config.MQTTConfig, serviceName string, engine *loop.Engine, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:         cfg,
		serviceName: serviceName,
		engine:      engine,
		logger:      logger,
		router:      &router{},
	}
}

// Subscribe registers handler against filter. Safe to call before or
// after Start; the next (re)connect's SUBSCRIBE packet picks up any
// filter not already on the wire.
func (c *Client) Subscribe(filter string, handler Handler) {
	c.router.Subscribe(filter, handler)
}

// Deliver feeds a message through the router exactly as an inbound PUBLISH
// from the broker would, submitted through engine like the real dispatch
// path. It exists for tests that need to drive subscribed handlers without
// a live broker connection.
func (c *Client) Deliver(topic string, payload []byte) {
	c.engine.Submit(func() {
		c.router.Dispatch(topic, payload)
	})
}

// AvailabilityTopic is the retained LWT topic this client publishes
// "online" to on connect and "offline" to (via the broker's last will, or
// explicitly via Stop) when it goes away.
func (c *Client) AvailabilityTopic() string {
	return c.serviceName + "/availability"
}

// Start connects to the broker and blocks until ctx is cancelled. On every
// (re-)connect it publishes the availability topic and re-subscribes to
// every registered filter, since autopaho does not do so automatically.
func (c *Client) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(c.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker url: %w", err)
	}

	keepAlive := uint16(c.cfg.KeepAlive.Std() / time.Second)
	if keepAlive == 0 {
		keepAlive = 30
	}

	availTopic := c.AvailabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       keepAlive,
		ConnectUsername: c.cfg.Username,
		ConnectPassword: []byte(c.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.logger.Info("mqtt connected to broker", "broker", c.cfg.Broker)
			publishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			c.publishAvailability(publishCtx, cm, "online")
			c.resubscribe(publishCtx, cm)
		},
		OnConnectError: func(err error) {
			c.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.cm = cm

	c.rateLimiter = newMessageRateLimiter(200, time.Second, c.logger)
	c.rateDone = make(chan struct{})
	go c.rateLimiter.start(c.rateDone)

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		if !c.rateLimiter.allow() {
			return true, nil
		}
		topic := pr.Packet.Topic
		payload := pr.Packet.Payload
		c.engine.Submit(func() {
			c.router.Dispatch(topic, payload)
		})
		return true, nil
	})

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		c.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	<-ctx.Done()
	close(c.rateDone)
	return nil
}

// Stop publishes an "offline" availability message and disconnects.
func (c *Client) Stop(ctx context.Context) error {
	if c.cm == nil {
		return nil
	}
	c.publishAvailability(ctx, c.cm, "offline")
	return c.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is established or ctx
// expires. Used by connwatch as the service's broker-reachability probe.
func (c *Client) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return fmt.Errorf("mqtt client not started")
	}
	return c.cm.AwaitConnection(ctx)
}

// Publish sends payload to topic. qos 0 is fire-and-forget, matching the
// alarm domain's switch-output and text-output traffic, which always
// carries its own latest-value-wins semantics rather than relying on
// broker-level delivery guarantees.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	if c.cm == nil {
		return fmt.Errorf("mqtt client not started")
	}
	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     0,
		Retain:  retain,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   c.AvailabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		c.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		c.logger.Info("mqtt availability published", "status", status)
	}
}

func (c *Client) resubscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	filters := c.router.Filters()
	if len(filters) == 0 {
		return
	}

	opts := make([]paho.SubscribeOptions, 0, len(filters))
	for _, f := range filters {
		opts = append(opts, paho.SubscribeOptions{Topic: f, QoS: 0})
	}

	if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: opts}); err != nil {
		c.logger.Error("mqtt subscribe failed", "error", err, "filters", filters)
	} else {
		c.logger.Info("mqtt subscribed to topics", "filters", filters)
	}
}
