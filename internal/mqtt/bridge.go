package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/sidekick/internal/config"
	"github.com/nugget/sidekick/internal/events"
)

const (
	defaultStatusInterval = time.Minute
	publishTimeout        = 5 * time.Second
	eventBuffer           = 64
)

// publisher is the subset of *autopaho.ConnectionManager the bridge
// publishes through.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Bridge forwards bus events to an MQTT broker and, when a Submitter is
// configured, accepts image prompts on the command topic.
type Bridge struct {
	cfg            config.MQTTConfig
	instanceID     string
	bus            *events.Bus
	counters       *DailyCounters
	commands       *commandHandler
	statusInterval time.Duration
	logger         *slog.Logger
	cm             *autopaho.ConnectionManager
}

// New creates a Bridge but does not connect. Call [Bridge.Start] to
// connect and begin forwarding. submit may be nil to disable the
// command topic.
func New(cfg config.MQTTConfig, instanceID string, bus *events.Bus, submit Submitter, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt")
	if bus == nil {
		bus = events.New()
	}

	b := &Bridge{
		cfg:            cfg,
		instanceID:     instanceID,
		bus:            bus,
		counters:       NewDailyCounters(nil),
		statusInterval: defaultStatusInterval,
		logger:         logger,
	}
	if submit != nil {
		b.commands = newCommandHandler(submit, bus, logger)
	}
	return b
}

// Start connects to the broker and forwards events until ctx is
// cancelled. On every (re-)connect it publishes the birth message and
// status, and re-subscribes to the command topic.
func (b *Bridge) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	// Subscribe before connecting so nothing published during the
	// handshake is lost.
	ch := b.bus.Subscribe(eventBuffer)
	defer b.bus.Unsubscribe(ch)

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   b.AvailabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqtt connected to broker", "broker", b.cfg.Broker)
			b.publishAvailability(ctx, cm, "online")
			b.publishStatus(ctx, cm)
			b.subscribeCommands(ctx, cm)
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: b.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				b.onPublishReceived,
			},
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
	b.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		b.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	if b.commands != nil {
		go b.commands.limiter.start(ctx)
	}

	b.forward(ctx, cm, ch)
	return nil
}

// Stop publishes an "offline" availability message and disconnects. The
// provided context bounds both steps.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.cm == nil {
		return nil
	}
	b.publishAvailability(ctx, b.cm, "offline")
	return b.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is established or
// ctx expires.
func (b *Bridge) AwaitConnection(ctx context.Context) error {
	if b.cm == nil {
		return fmt.Errorf("mqtt bridge not started")
	}
	return b.cm.AwaitConnection(ctx)
}

// Counters returns the bridge's daily activity counters.
func (b *Bridge) Counters() *DailyCounters {
	return b.counters
}

// --- Topic helpers ---

func (b *Bridge) baseTopic() string {
	return strings.TrimRight(b.cfg.BaseTopic, "/")
}

// AvailabilityTopic is where online/offline is published.
func (b *Bridge) AvailabilityTopic() string {
	return b.baseTopic() + "/availability"
}

// StatusTopic is where the retained status document is published.
func (b *Bridge) StatusTopic() string {
	return b.baseTopic() + "/status"
}

// EventTopic returns the topic for events of the given source and kind.
func (b *Bridge) EventTopic(source, kind string) string {
	return b.baseTopic() + "/events/" + source + "/" + kind
}

// CommandTopic is the inbound topic for image prompts.
func (b *Bridge) CommandTopic() string {
	return b.baseTopic() + "/images/submit"
}

// --- Forwarding ---

// forward publishes every event from ch until ctx is cancelled or ch
// closes, refreshing the status document every status interval.
func (b *Bridge) forward(ctx context.Context, pub publisher, ch <-chan events.Event) {
	ticker := time.NewTicker(b.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			b.counters.Observe(e)
			b.publishEvent(ctx, pub, e)
		case <-ticker.C:
			b.publishStatus(ctx, pub)
		}
	}
}

// eventPayload is the JSON body of an event message.
type eventPayload struct {
	events.Event
	Instance string `json:"instance,omitempty"`
}

func (b *Bridge) publishEvent(ctx context.Context, pub publisher, e events.Event) {
	payload, err := json.Marshal(eventPayload{Event: e, Instance: b.instanceID})
	if err != nil {
		b.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	topic := b.EventTopic(e.Source, e.Kind)
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     0,
	}); err != nil {
		b.logger.Debug("mqtt event publish failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) publishStatus(ctx context.Context, pub publisher) {
	payload, err := json.Marshal(NewStatus(b.instanceID, b.counters.Snapshot()))
	if err != nil {
		b.logger.Error("mqtt marshal status", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   b.StatusTopic(),
		Payload: payload,
		QoS:     0,
		Retain:  true,
	}); err != nil {
		b.logger.Debug("mqtt status publish failed", "error", err)
	}
}

func (b *Bridge) publishAvailability(ctx context.Context, pub publisher, status string) {
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   b.AvailabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		b.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		b.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Commands ---

func (b *Bridge) subscribeCommands(ctx context.Context, cm *autopaho.ConnectionManager) {
	if b.commands == nil {
		return
	}
	topic := b.CommandTopic()
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
	}); err != nil {
		b.logger.Warn("mqtt subscribe failed", "topic", topic, "error", err)
		return
	}
	b.logger.Debug("mqtt subscribed", "topic", topic)
}

func (b *Bridge) onPublishReceived(pr paho.PublishReceived) (bool, error) {
	if b.commands == nil || pr.Packet == nil || pr.Packet.Topic != b.CommandTopic() {
		return false, nil
	}
	if err := b.commands.handle(pr.Packet.Topic, pr.Packet.Payload); err != nil {
		b.logger.Warn("mqtt command rejected", "topic", pr.Packet.Topic, "error", err)
	}
	return true, nil
}
