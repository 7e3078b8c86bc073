//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"

	"zwave-go-home/internal/cc/classes"
	"zwave-go-home/internal/scales"
	"zwave-go-home/internal/store"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/zwave_node_5/meter_1_0_0/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
}

// haDiscovery is a sensor discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	Device            haDevice `json:"device"`
}

func nodeIdentifier(node uint8) string {
	return fmt.Sprintf("zwave_node_%d", node)
}

// haClasses returns the HA device and state class for a meter unit.
func haClasses(unit string) (deviceClass, stateClass string) {
	switch unit {
	case "kWh":
		return "energy", "total_increasing"
	case "kVAh", "kVarh", "m³", "ft³", "gal":
		return "", "total_increasing"
	case "W":
		return "power", "measurement"
	case "V":
		return "voltage", "measurement"
	case "A":
		return "current", "measurement"
	}
	return "", "measurement"
}

// buildMeterDiscovery returns the discovery message for a meter reading.
// Other values are not announced.
func buildMeterDiscovery(prefix string, node uint8, rec store.ValueRecord, table *scales.Table) (discoveryMsg, bool) {
	if rec.ClassID != classes.MeterID || rec.Property != "value" {
		return discoveryMsg{}, false
	}
	mt, rate, scale, ok := classes.ParseMeterValueKey(rec.PropertyKey)
	if !ok {
		return discoveryMsg{}, false
	}

	nodeID := nodeIdentifier(node)
	objectID := fmt.Sprintf("meter_%d_%d_%d", mt, rate, scale)
	label := fmt.Sprintf("Meter %d scale %d", mt, scale)
	var unit string
	if s, ok := table.Resolve(mt, scale); ok {
		label, unit = s.Label, s.Unit
	}
	if rate != classes.RateUnspecified {
		label += " " + rate.String()
	}

	deviceClass, stateClass := haClasses(unit)
	switch mt {
	case 2:
		if unit == "m³" || unit == "ft³" {
			deviceClass = "gas"
		}
	case 3:
		if unit != "" {
			deviceClass = "water"
		}
	}

	payload := haDiscovery{
		Name:              fmt.Sprintf("Node %d %s", node, label),
		UniqueID:          nodeID + "_" + objectID,
		StateTopic:        valueTopic(prefix, node, rec.ValueID),
		AvailabilityTopic: stateTopic(prefix),
		ValueTemplate:     "{{ value_json.value }}",
		UnitOfMeasurement: unit,
		DeviceClass:       deviceClass,
		StateClass:        stateClass,
		Device: haDevice{
			Identifiers: []string{nodeID},
			Name:        fmt.Sprintf("Z-Wave node %d", node),
		},
	}
	return discoveryMsg{
		Topic:   fmt.Sprintf("homeassistant/sensor/%s/%s/config", nodeID, objectID),
		Payload: mustJSON(payload),
	}, true
}

// buildRemoveDiscovery returns empty retained messages for the given
// discovery topics of a node.
func buildRemoveDiscovery(node uint8, topics []string) []discoveryMsg {
	prefix := fmt.Sprintf("homeassistant/sensor/%s/", nodeIdentifier(node))
	var msgs []discoveryMsg
	for _, t := range topics {
		if strings.HasPrefix(t, prefix) {
			msgs = append(msgs, discoveryMsg{Topic: t})
		}
	}
	return msgs
}
