// Package mqttbridge relays Event Socket events onto an MQTT broker,
// with Home-Assistant-style discovery so a "last event" sensor appears
// automatically in Home Assistant once the bridge connects. It is
// itself just another subscriber of the engine's event fan-out — it
// holds no special access to the connection.
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/go-eventsocket/internal/esl"
)

// Config configures a Bridge.
type Config struct {
	Broker          string
	DeviceName      string
	DiscoveryPrefix string
	TopicPrefix     string
}

// Bridge republishes matched packets from an esl.Engine onto MQTT.
type Bridge struct {
	cfg        Config
	instanceID string
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
}

// New constructs a Bridge. instanceID identifies this client instance
// in its discovery unique_id and MQTT client id.
func New(cfg Config, instanceID string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{cfg: cfg, instanceID: instanceID, logger: logger}
}

func (b *Bridge) availabilityTopic() string {
	return fmt.Sprintf("%s/%s/availability", b.cfg.TopicPrefix, b.instanceID)
}

func (b *Bridge) stateTopic() string {
	return fmt.Sprintf("%s/%s/last_event/state", b.cfg.TopicPrefix, b.instanceID)
}

func (b *Bridge) discoveryTopic() string {
	return fmt.Sprintf("%s/sensor/%s/last_event/config", b.cfg.DiscoveryPrefix, b.instanceID)
}

// Run connects to the broker and republishes every event sub delivers
// until ctx is cancelled. It re-publishes discovery and availability
// on every (re)connection, including after an MQTT-side reconnect —
// the same caller-side re-subscription idiom the connection engine
// expects of callers whose server-side state doesn't survive a drop.
func (b *Bridge) Run(ctx context.Context, sub *esl.Subscription) error {
	brokerURL, err := url.Parse(b.cfg.Broker)
	if err != nil {
		return fmt.Errorf("mqttbridge: parse broker url: %w", err)
	}

	availTopic := b.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{brokerURL},
		KeepAlive:  30,
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqttbridge: connected", "broker", b.cfg.Broker)
			pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			b.publishDiscovery(pubCtx, cm)
			b.publishAvailability(pubCtx, cm, "online")
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqttbridge: connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "go-eventsocket-" + shortID(b.instanceID),
		},
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqttbridge: connect: %w", err)
	}
	b.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		b.logger.Warn("mqttbridge: initial connection timed out, retrying in background", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			b.publishAvailability(context.Background(), cm, "offline")
			return ctx.Err()
		case p, ok := <-sub.Events():
			if !ok {
				return nil
			}
			b.publishEvent(ctx, cm, p)
		}
	}
}

func (b *Bridge) publishEvent(ctx context.Context, cm *autopaho.ConnectionManager, p *esl.Packet) {
	payload, err := json.Marshal(map[string]string{
		"event_name": p.Field("Event-Name"),
		"unique_id":  p.Field("Unique-ID"),
	})
	if err != nil {
		return
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   b.stateTopic(),
		Payload: payload,
		QoS:     0,
		Retain:  true,
	}); err != nil {
		b.logger.Warn("mqttbridge: publish failed", "error", err)
	}
}

func (b *Bridge) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, state string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   b.availabilityTopic(),
		Payload: []byte(state),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		b.logger.Warn("mqttbridge: publish availability failed", "error", err)
	}
}

// discoveryConfig is the Home Assistant MQTT discovery payload for the
// single "last event" sensor this bridge exposes.
type discoveryConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	ValueTemplate     string     `json:"value_template"`
	Device            deviceInfo `json:"device"`
}

type deviceInfo struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
}

func (b *Bridge) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	cfg := discoveryConfig{
		Name:              b.cfg.DeviceName + " Last Event",
		UniqueID:          b.instanceID + "_last_event",
		StateTopic:        b.stateTopic(),
		AvailabilityTopic: b.availabilityTopic(),
		ValueTemplate:     "{{ value_json.event_name }}",
		Device: deviceInfo{
			Identifiers: []string{b.instanceID},
			Name:        b.cfg.DeviceName,
		},
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   b.discoveryTopic(),
		Payload: payload,
		QoS:     1,
		Retain:  true,
	}); err != nil {
		b.logger.Warn("mqttbridge: publish discovery failed", "error", err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
