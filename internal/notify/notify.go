// Package notify bridges the internal event bus to an MQTT broker so
// that home automation systems can react to reminders, timers, and
// session lifecycle changes. The notifier is optional: an empty broker
// URL in the configuration disables it entirely.
package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/verbalis/verbalis/internal/config"
	"github.com/verbalis/verbalis/internal/events"
)

// DefaultTopicPrefix is used when the configuration leaves the topic
// prefix empty.
const DefaultTopicPrefix = "verbalis"

// forwarded lists the event kinds that are published to the broker.
// Utterance events stay internal; they can contain raw user speech.
var forwarded = map[string]bool{
	events.KindSessionStarted:    true,
	events.KindSessionStopped:    true,
	events.KindReminderTriggered: true,
	events.KindTimerFinished:     true,
	events.KindCommandProcessed:  true,
}

// Notifier forwards selected bus events to MQTT topics and maintains
// a retained availability topic with a last-will fallback.
type Notifier struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a Notifier but does not connect. Call [Notifier.Start]
// to begin the connection and forwarding loop.
func New(cfg config.MQTTConfig, bus *events.Bus, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	return &Notifier{cfg: cfg, bus: bus, logger: logger}
}

// Enabled reports whether a broker is configured.
func (n *Notifier) Enabled() bool { return n.cfg.Broker != "" }

// Start connects to the MQTT broker and forwards bus events until ctx
// is cancelled. Returns immediately with nil when no broker is
// configured.
func (n *Notifier) Start(ctx context.Context) error {
	if !n.Enabled() {
		n.logger.Info("mqtt notifier disabled, no broker configured")
		return nil
	}

	brokerURL, err := url.Parse(n.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := n.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: n.cfg.Username,
		ConnectPassword: []byte(n.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			n.logger.Info("mqtt connected to broker", "broker", n.cfg.Broker)
			n.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			n.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: n.cfg.TopicPrefix + "-notifier",
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	n.cm = cm

	// Wait for the initial connection before consuming the bus.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// Log but don't fail — autopaho will keep retrying in the background.
		n.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	n.runLoop(ctx)
	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection.
func (n *Notifier) Stop(ctx context.Context) error {
	if n.cm == nil {
		return nil
	}
	n.publishAvailability(ctx, n.cm, "offline")
	return n.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the MQTT broker connection is
// established or ctx expires.
func (n *Notifier) AwaitConnection(ctx context.Context) error {
	if n.cm == nil {
		return fmt.Errorf("mqtt notifier not started")
	}
	return n.cm.AwaitConnection(ctx)
}

func (n *Notifier) availabilityTopic() string {
	return n.cfg.TopicPrefix + "/availability"
}

// EventTopic returns the topic an event kind is published on.
func (n *Notifier) EventTopic(kind string) string {
	return n.cfg.TopicPrefix + "/events/" + kind
}

func (n *Notifier) runLoop(ctx context.Context) {
	ch := n.bus.Subscribe(64)
	defer n.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			n.forward(ctx, e)
		}
	}
}

func (n *Notifier) forward(ctx context.Context, e events.Event) {
	if !forwarded[e.Kind] {
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		n.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}

	if _, err := n.cm.Publish(ctx, &paho.Publish{
		Topic:   n.EventTopic(e.Kind),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		n.logger.Warn("mqtt event publish failed", "kind", e.Kind, "error", err)
	} else {
		n.logger.Debug("mqtt event published", "kind", e.Kind)
	}
}

func (n *Notifier) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   n.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		n.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		n.logger.Info("mqtt availability published", "status", status)
	}
}
