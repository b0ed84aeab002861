package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/nugget/ha-config-assistant/internal/config"
	"github.com/nugget/ha-config-assistant/internal/events"
)

const (
	discoveryPrefix = "homeassistant"
	eventBuffer     = 64
)

// Publisher forwards bus events to an MQTT broker and keeps the
// assistant's discovery sensors current.
type Publisher struct {
	cfg    config.MQTTConfig
	device DeviceInfo
	bus    *events.Bus
	logger *slog.Logger
	cm     *autopaho.ConnectionManager

	generations atomic.Int64
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin forwarding.
func New(cfg config.MQTTConfig, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		device: NewDeviceInfo(cfg.ClientID),
		bus:    bus,
		logger: logger,
	}
}

// Start connects to the broker and forwards events until ctx is
// cancelled. Discovery and the birth message are republished on every
// (re-)connect.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.ClientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	sub := p.bus.Subscribe(eventBuffer)
	defer p.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub:
			if !ok {
				return nil
			}
			p.forward(ctx, e)
		}
	}
}

// Stop publishes "offline" and closes the connection.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is established or
// ctx expires.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	if p.cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	return p.cm.AwaitConnection(ctx)
}

// --- Topic helpers ---

func (p *Publisher) availabilityTopic() string {
	return p.cfg.BaseTopic + "/availability"
}

func (p *Publisher) eventTopic(eventType string) string {
	return p.cfg.BaseTopic + "/events/" + eventType
}

func (p *Publisher) stateTopic(entity string) string {
	return p.cfg.BaseTopic + "/" + entity + "/state"
}

func (p *Publisher) attributesTopic(entity string) string {
	return p.cfg.BaseTopic + "/" + entity + "/attributes"
}

func (p *Publisher) discoveryTopic(entity string) string {
	return discoveryPrefix + "/sensor/" + p.cfg.ClientID + "/" + entity + "/config"
}

// --- Discovery ---

type sensorDef struct {
	entitySuffix string
	config       SensorConfig
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	avail := p.availabilityTopic()
	return []sensorDef{
		{
			entitySuffix: "last_event",
			config: SensorConfig{
				Name:                "Last Event",
				ObjectID:            "last_event",
				HasEntityName:       true,
				UniqueID:            p.cfg.ClientID + "_last_event",
				StateTopic:          p.stateTopic("last_event"),
				AvailabilityTopic:   avail,
				JsonAttributesTopic: p.attributesTopic("last_event"),
				Device:              p.device,
				Icon:                "mdi:robot-outline",
				EntityCategory:      "diagnostic",
			},
		},
		{
			entitySuffix: "generations",
			config: SensorConfig{
				Name:              "Generations",
				ObjectID:          "generations",
				HasEntityName:     true,
				UniqueID:          p.cfg.ClientID + "_generations",
				StateTopic:        p.stateTopic("generations"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:counter",
				StateClass:        "total_increasing",
			},
		},
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic(s.entitySuffix)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload",
				"entity", s.entitySuffix, "error", err)
			continue
		}

		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed",
				"entity", s.entitySuffix, "topic", topic, "error", err)
		} else {
			p.logger.Debug("mqtt discovery published",
				"entity", s.entitySuffix, "topic", topic)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Event forwarding ---

// messages renders one event into the publishes that carry it: the raw
// event on its own topic plus the sensor state updates it implies.
func (p *Publisher) messages(e events.Event) ([]*paho.Publish, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Type, err)
	}

	msgs := []*paho.Publish{
		{Topic: p.eventTopic(e.Type), Payload: payload, QoS: 1},
		{Topic: p.stateTopic("last_event"), Payload: []byte(e.Type), Retain: true},
		{Topic: p.attributesTopic("last_event"), Payload: payload, Retain: true},
	}

	if g, ok := e.Data.(events.ConfigGenerated); ok && g.Success {
		n := p.generations.Add(1)
		msgs = append(msgs, &paho.Publish{
			Topic:   p.stateTopic("generations"),
			Payload: []byte(strconv.FormatInt(n, 10)),
			Retain:  true,
		})
	}
	return msgs, nil
}

func (p *Publisher) forward(ctx context.Context, e events.Event) {
	if p.cm == nil {
		return
	}
	msgs, err := p.messages(e)
	if err != nil {
		p.logger.Error("mqtt event dropped", "event_type", e.Type, "error", err)
		return
	}
	for _, m := range msgs {
		if _, err := p.cm.Publish(ctx, m); err != nil {
			p.logger.Debug("mqtt event publish failed",
				"topic", m.Topic, "error", err)
		}
	}
	p.logger.Log(ctx, config.LevelTrace, "mqtt event forwarded",
		"event_type", e.Type, "messages", len(msgs))
}
