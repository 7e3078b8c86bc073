//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zwave-go-home/internal/cc/classes"
	"zwave-go-home/internal/driver"
	"zwave-go-home/internal/scales"
	"zwave-go-home/internal/store"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// client is the part of pahomqtt.Client the bridge uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Bridge publishes cached command class values to MQTT and accepts a small
// set of commands on <prefix>/node_<id>/set.
type Bridge struct {
	client client
	drv    *driver.Driver
	scales *scales.Table
	prefix string
	logger *slog.Logger
	unsub  func()

	mu         sync.Mutex
	discovered map[string]bool // discovery topics already published
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(drv *driver.Driver, table *scales.Table, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(drv, table, cfg.TopicPrefix, logger)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("zwave-go-home").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(stateTopic(b.prefix), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishAllValues()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c := pahomqtt.NewClient(opts)
	b.client = c
	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func newBridge(drv *driver.Driver, table *scales.Table, prefix string, logger *slog.Logger) *Bridge {
	if table == nil {
		table = scales.Default()
	}
	return &Bridge{
		drv:        drv,
		scales:     table,
		prefix:     prefix,
		logger:     logger.With("component", "mqtt"),
		discovered: make(map[string]bool),
	}
}

// Start subscribes to driver events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.drv.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event driver.Event) {
	switch event.Type {
	case driver.EventValueUpdated:
		if ev, ok := event.Data.(driver.ValueEvent); ok {
			b.publishValue(ev.NodeID, ev.ValueRecord)
		}
	case driver.EventWakeUp:
		if ev, ok := event.Data.(driver.WakeUpEvent); ok {
			b.publish(nodeTopic(b.prefix, ev.NodeID)+"/wake_up", mustJSON(map[string]any{
				"time": ev.At.Format(time.RFC3339),
			}), false)
		}
	}
}

// valuePayload is the retained JSON published for a cached value.
type valuePayload struct {
	Value     any    `json:"value"`
	Label     string `json:"label,omitempty"`
	Unit      string `json:"unit,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

func (b *Bridge) publishValue(node uint8, rec store.ValueRecord) {
	if rec.Internal {
		return
	}
	p := valuePayload{Value: rec.Value, UpdatedAt: rec.UpdatedAt.Format(time.RFC3339)}
	if s, ok := b.meterScale(rec); ok {
		p.Label, p.Unit = s.Label, s.Unit
	}
	b.publish(valueTopic(b.prefix, node, rec.ValueID), mustJSON(p), true)

	if msg, ok := buildMeterDiscovery(b.prefix, node, rec, b.scales); ok {
		b.mu.Lock()
		seen := b.discovered[msg.Topic]
		b.discovered[msg.Topic] = true
		b.mu.Unlock()
		if !seen {
			b.publish(msg.Topic, msg.Payload, true)
			b.logger.Info("published HA discovery", "node", node, "value", rec.ValueID.String())
		}
	}
}

func (b *Bridge) meterScale(rec store.ValueRecord) (scales.Scale, bool) {
	if rec.ClassID != classes.MeterID {
		return scales.Scale{}, false
	}
	mt, _, scale, ok := classes.ParseMeterValueKey(rec.PropertyKey)
	if !ok {
		return scales.Scale{}, false
	}
	return b.scales.Resolve(mt, scale)
}

// publishAllValues republishes the cache after a (re)connect.
func (b *Bridge) publishAllValues() {
	nodes, err := b.drv.Store().ListNodes()
	if err != nil {
		b.logger.Error("list nodes for publish", "err", err)
		return
	}
	for _, n := range nodes {
		recs, err := b.drv.Store().ListValues(n.ID)
		if err != nil {
			b.logger.Error("list values for publish", "node", n.ID, "err", err)
			continue
		}
		for _, rec := range recs {
			b.publishValue(n.ID, *rec)
		}
	}
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(stateTopic(b.prefix), []byte(state), true)
}

func (b *Bridge) subscribeCommands() {
	b.client.Subscribe(b.prefix+"/+/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		node, ok := parseNodeTopic(b.prefix, msg.Topic())
		if !ok {
			b.logger.Warn("command on unexpected topic", "topic", msg.Topic())
			return
		}
		ctx, cancel := context.WithTimeout(b.drv.Context(), 30*time.Second)
		defer cancel()
		if err := b.handleCommand(ctx, node, msg.Payload()); err != nil {
			b.logger.Warn("command failed", "node", node, "err", err)
		}
	})
}

// command is the JSON accepted on a node's set topic.
type command struct {
	Command  string  `json:"command"`
	Scale    *uint16 `json:"scale,omitempty"`
	RateType string  `json:"rate_type,omitempty"`
	Seconds  uint32  `json:"seconds,omitempty"`
}

func (b *Bridge) handleCommand(ctx context.Context, node uint8, payload []byte) error {
	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("invalid command JSON: %w", err)
	}

	switch cmd.Command {
	case "meter_get":
		var rate *classes.RateType
		if cmd.RateType != "" {
			rt, err := classes.ParseRateType(cmd.RateType)
			if err != nil {
				return err
			}
			rate = &rt
		}
		// The report updates the cache, which publishes the value.
		_, err := b.drv.Meter(ctx, node, cmd.Scale, rate)
		return err
	case "meter_reset":
		return b.drv.MeterReset(ctx, node)
	case "wake_up_interval":
		return b.drv.SetWakeUpInterval(ctx, node, cmd.Seconds)
	case "forget":
		return b.forget(node)
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
}

// forget drops a node from the cache and removes its HA entities.
func (b *Bridge) forget(node uint8) error {
	if err := b.drv.Store().DeleteNode(node); err != nil {
		return err
	}
	b.mu.Lock()
	topics := make([]string, 0, len(b.discovered))
	for t := range b.discovered {
		topics = append(topics, t)
	}
	msgs := buildRemoveDiscovery(node, topics)
	for _, m := range msgs {
		delete(b.discovered, m.Topic)
	}
	b.mu.Unlock()

	for _, m := range msgs {
		b.publish(m.Topic, m.Payload, true)
	}
	b.logger.Info("node forgotten", "node", node, "entities", len(msgs))
	return nil
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func stateTopic(prefix string) string {
	return prefix + "/bridge/state"
}

func nodeTopic(prefix string, node uint8) string {
	return fmt.Sprintf("%s/node_%d", prefix, node)
}

// valueTopic returns <prefix>/node_<id>/<class>/<property>[/<key>].
func valueTopic(prefix string, node uint8, id store.ValueID) string {
	topic := nodeTopic(prefix, node) + "/" + classTopicName(id.ClassID) + "/" + id.Property
	if id.PropertyKey != "" {
		topic += "/" + id.PropertyKey
	}
	return topic
}

// classTopicName names a class in topics; unknown classes use their hex ID.
func classTopicName(classID uint8) string {
	switch classID {
	case classes.MeterID:
		return "meter"
	case classes.WakeUpID:
		return "wake_up"
	}
	return fmt.Sprintf("0x%02x", classID)
}

// parseNodeTopic extracts the node ID from <prefix>/node_<id>/set.
func parseNodeTopic(prefix, topic string) (uint8, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return 0, false
	}
	seg, ok := strings.CutSuffix(rest, "/set")
	if !ok {
		return 0, false
	}
	idStr, ok := strings.CutPrefix(seg, "node_")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(idStr, 10, 8)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint8(id), true
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
