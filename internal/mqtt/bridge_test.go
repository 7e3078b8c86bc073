//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zwave-go-home/internal/cc"
	"zwave-go-home/internal/cc/classes"
	"zwave-go-home/internal/driver"
	"zwave-go-home/internal/scales"
	"zwave-go-home/internal/store"
	"zwave-go-home/internal/transport"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu   sync.Mutex
	msgs []published
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) Subscribe(string, byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {}

func (c *fakeClient) find(topic string) (published, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].topic == topic {
			return c.msgs[i], true
		}
	}
	return published{}, false
}

func (c *fakeClient) count(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if m.topic == topic {
			n++
		}
	}
	return n
}

type nopTransport struct {
	mu   sync.Mutex
	sent []transport.Frame
}

func (t *nopTransport) Send(_ context.Context, f transport.Frame) error {
	t.mu.Lock()
	t.sent = append(t.sent, f)
	t.mu.Unlock()
	return nil
}
func (t *nopTransport) OnFrame(func(transport.Frame)) {}
func (t *nopTransport) Close() error                  { return nil }

func newTestBridge(t *testing.T) (*Bridge, *fakeClient, *driver.Driver, *nopTransport) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	reg := cc.NewRegistry(logger)
	classes.RegisterStandard(reg)
	tr := &nopTransport{}
	drv := driver.New(tr, reg, st, driver.NewEventBus(logger), driver.Config{RequestTimeout: 50 * time.Millisecond}, logger)
	t.Cleanup(drv.Stop)

	fc := &fakeClient{}
	b := newBridge(drv, scales.Default(), "zwave", logger)
	b.client = fc
	b.Start()
	return b, fc, drv, tr
}

func meterReport(node uint8) transport.Frame {
	// Electric, consumed, 2 bytes precision 2 scale 0: 12.34 kWh.
	return transport.Frame{NodeID: node, ClassID: classes.MeterID, CommandID: classes.MeterCmdReport, Payload: []byte{0x21, 0x50, 0x04, 0xD2}}
}

func TestValueTopic(t *testing.T) {
	tests := []struct {
		id   store.ValueID
		want string
	}{
		{store.ValueID{ClassID: classes.MeterID, Property: "value", PropertyKey: "1/1/0"}, "zwave/node_5/meter/value/1/1/0"},
		{store.ValueID{ClassID: classes.WakeUpID, Property: "wakeUpInterval"}, "zwave/node_5/wake_up/wakeUpInterval"},
		{store.ValueID{ClassID: 0x25, Property: "state"}, "zwave/node_5/0x25/state"},
	}
	for _, tt := range tests {
		if got := valueTopic("zwave", 5, tt.id); got != tt.want {
			t.Errorf("valueTopic(%v) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestParseNodeTopic(t *testing.T) {
	tests := []struct {
		topic string
		node  uint8
		ok    bool
	}{
		{"zwave/node_5/set", 5, true},
		{"zwave/node_232/set", 232, true},
		{"zwave/node_0/set", 0, false},
		{"zwave/node_300/set", 0, false},
		{"zwave/bridge/set", 0, false},
		{"other/node_5/set", 0, false},
		{"zwave/node_5/get", 0, false},
	}
	for _, tt := range tests {
		node, ok := parseNodeTopic("zwave", tt.topic)
		if node != tt.node || ok != tt.ok {
			t.Errorf("parseNodeTopic(%q) = %d, %v; want %d, %v", tt.topic, node, ok, tt.node, tt.ok)
		}
	}
}

func TestPublishesMeterValue(t *testing.T) {
	_, fc, drv, _ := newTestBridge(t)

	drv.HandleFrame(meterReport(5))

	msg, ok := fc.find("zwave/node_5/meter/value/1/1/0")
	if !ok {
		t.Fatal("value not published")
	}
	if !msg.retained {
		t.Error("value should be retained")
	}
	var p valuePayload
	if err := json.Unmarshal(msg.payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Value != 12.34 {
		t.Errorf("value = %v, want 12.34", p.Value)
	}
	if p.Unit != "kWh" || p.Label != "Electric (kWh)" {
		t.Errorf("label/unit = %q %q", p.Label, p.Unit)
	}
}

func TestInternalValuesNotPublished(t *testing.T) {
	_, fc, drv, _ := newTestBridge(t)

	drv.HandleFrame(transport.Frame{NodeID: 5, ClassID: classes.MeterID, CommandID: classes.MeterCmdSupportedReport, Payload: []byte{0xA1, 0x05}})

	if _, ok := fc.find("zwave/node_5/meter/supportsReset"); ok {
		t.Error("internal value was published")
	}
	if _, ok := fc.find("zwave/node_5/meter/supportedScales"); !ok {
		t.Error("public value missing")
	}
}

func TestDiscoveryPublishedOnce(t *testing.T) {
	_, fc, drv, _ := newTestBridge(t)

	drv.HandleFrame(meterReport(5))
	drv.HandleFrame(meterReport(5))

	topic := "homeassistant/sensor/zwave_node_5/meter_1_1_0/config"
	if n := fc.count(topic); n != 1 {
		t.Fatalf("discovery published %d times, want 1", n)
	}
	msg, _ := fc.find(topic)
	var d haDiscovery
	if err := json.Unmarshal(msg.payload, &d); err != nil {
		t.Fatal(err)
	}
	if d.StateTopic != "zwave/node_5/meter/value/1/1/0" {
		t.Errorf("state_topic = %q", d.StateTopic)
	}
	if d.DeviceClass != "energy" || d.StateClass != "total_increasing" {
		t.Errorf("classes = %q %q", d.DeviceClass, d.StateClass)
	}
	if d.AvailabilityTopic != "zwave/bridge/state" {
		t.Errorf("availability_topic = %q", d.AvailabilityTopic)
	}
}

func TestBuildMeterDiscovery(t *testing.T) {
	table := scales.Default()
	tests := []struct {
		key         string
		deviceClass string
		unit        string
	}{
		{"1/0/2", "power", "W"},
		{"2/0/0", "gas", "m³"},
		{"3/0/2", "water", "gal"},
		{"1/0/3", "", ""},
		{"1/0/200", "", ""},
	}
	for _, tt := range tests {
		rec := store.ValueRecord{ValueID: store.ValueID{ClassID: classes.MeterID, Property: "value", PropertyKey: tt.key}}
		msg, ok := buildMeterDiscovery("zwave", 3, rec, table)
		if !ok {
			t.Errorf("%s: no discovery", tt.key)
			continue
		}
		var d haDiscovery
		json.Unmarshal(msg.Payload, &d)
		if d.DeviceClass != tt.deviceClass || d.UnitOfMeasurement != tt.unit {
			t.Errorf("%s: class=%q unit=%q, want %q %q", tt.key, d.DeviceClass, d.UnitOfMeasurement, tt.deviceClass, tt.unit)
		}
	}

	rec := store.ValueRecord{ValueID: store.ValueID{ClassID: classes.MeterID, Property: "deltaTime", PropertyKey: "1/0/0"}}
	if _, ok := buildMeterDiscovery("zwave", 3, rec, table); ok {
		t.Error("delta time should not be announced")
	}
}

func TestWakeUpPublished(t *testing.T) {
	_, fc, drv, _ := newTestBridge(t)

	drv.HandleFrame(transport.Frame{NodeID: 9, ClassID: classes.WakeUpID, CommandID: classes.WakeUpCmdNotification})

	msg, ok := fc.find("zwave/node_9/wake_up")
	if !ok {
		t.Fatal("wake up not published")
	}
	if msg.retained {
		t.Error("wake up should not be retained")
	}
}

func TestPublishAllValues(t *testing.T) {
	b, fc, drv, _ := newTestBridge(t)
	drv.HandleFrame(meterReport(5))
	before := fc.count("zwave/node_5/meter/value/1/1/0")

	b.publishAllValues()

	if after := fc.count("zwave/node_5/meter/value/1/1/0"); after != before+1 {
		t.Errorf("republished %d times, want 1", after-before)
	}
}

func TestHandleCommand(t *testing.T) {
	b, _, drv, tr := newTestBridge(t)
	ctx := context.Background()

	if err := b.handleCommand(ctx, 4, []byte(`{"command":"wake_up_interval","seconds":600}`)); err != nil {
		t.Fatal(err)
	}
	n, err := drv.Store().GetNode(4)
	if err != nil {
		t.Fatal(err)
	}
	if n.WakeUpInterval != 600 {
		t.Errorf("interval = %d, want 600", n.WakeUpInterval)
	}

	// Nobody answers the Get; the request times out after the frame went out.
	err = b.handleCommand(ctx, 4, []byte(`{"command":"meter_get","rate_type":"consumed"}`))
	if err == nil {
		t.Error("expected timeout")
	}
	tr.mu.Lock()
	last := tr.sent[len(tr.sent)-1]
	tr.mu.Unlock()
	if last.ClassID != classes.MeterID || last.CommandID != classes.MeterCmdGet {
		t.Errorf("last frame = %v", last)
	}

	for _, bad := range []string{`not json`, `{"command":"dance"}`, `{"command":"meter_get","rate_type":"sideways"}`} {
		if err := b.handleCommand(ctx, 4, []byte(bad)); err == nil {
			t.Errorf("%s: expected error", bad)
		}
	}
}

func TestForgetRemovesDiscovery(t *testing.T) {
	b, fc, drv, _ := newTestBridge(t)
	drv.HandleFrame(meterReport(5))
	drv.HandleFrame(meterReport(6))

	if err := b.handleCommand(context.Background(), 5, []byte(`{"command":"forget"}`)); err != nil {
		t.Fatal(err)
	}

	msg, _ := fc.find("homeassistant/sensor/zwave_node_5/meter_1_1_0/config")
	if len(msg.payload) != 0 {
		t.Error("discovery of node 5 not cleared")
	}
	if msg, _ := fc.find("homeassistant/sensor/zwave_node_6/meter_1_1_0/config"); len(msg.payload) == 0 {
		t.Error("discovery of node 6 should be untouched")
	}
	if _, err := drv.Store().GetNode(5); err == nil {
		t.Error("node 5 still stored")
	}
}
