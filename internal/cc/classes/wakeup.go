package classes

import (
	"fmt"

	"zwave-go-home/internal/cc"
)

// WakeUpID is the Wake Up command class.
const WakeUpID uint8 = 0x84

// Wake Up command IDs.
const (
	WakeUpCmdIntervalSet                uint8 = 0x04
	WakeUpCmdIntervalGet                uint8 = 0x05
	WakeUpCmdIntervalReport             uint8 = 0x06
	WakeUpCmdNotification               uint8 = 0x07
	WakeUpCmdNoMoreInformation          uint8 = 0x08
	WakeUpCmdIntervalCapabilitiesGet    uint8 = 0x09
	WakeUpCmdIntervalCapabilitiesReport uint8 = 0x0A
)

// MaxWakeUpInterval is the largest interval a 24-bit field can carry.
const MaxWakeUpInterval = 0xFFFFFF

// WakeUp is the Wake Up command class definition.
var WakeUp = cc.ClassDef{
	ID:                 WakeUpID,
	Name:               "Wake Up",
	ImplementedVersion: 3,
	Commands: []cc.CommandDef{
		{ID: WakeUpCmdIntervalSet, Name: "IntervalSet", Decode: decodeWakeUpIntervalSet, Encode: encodeWakeUpIntervalSet},
		{ID: WakeUpCmdIntervalGet, Name: "IntervalGet", Encode: encodeEmpty, ExpectedResponse: cc.Expects(WakeUpCmdIntervalReport)},
		{ID: WakeUpCmdIntervalReport, Name: "IntervalReport", Decode: decodeWakeUpIntervalReport},
		{ID: WakeUpCmdNotification, Name: "Notification", Decode: decodeWakeUpNotification},
		{ID: WakeUpCmdNoMoreInformation, Name: "NoMoreInformation", Encode: encodeEmpty},
		{ID: WakeUpCmdIntervalCapabilitiesGet, Name: "IntervalCapabilitiesGet", Encode: encodeWakeUpCapabilitiesGet,
			ExpectedResponse: cc.Expects(WakeUpCmdIntervalCapabilitiesReport)},
		{ID: WakeUpCmdIntervalCapabilitiesReport, Name: "IntervalCapabilitiesReport", Decode: decodeWakeUpCapabilitiesReport},
	},
}

func get24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func put24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// WakeUpIntervalSet configures how often a sleeping node wakes up and which
// node it notifies.
type WakeUpIntervalSet struct {
	cc.Header
	Seconds          uint32 `json:"seconds"`
	ControllerNodeID uint8  `json:"controller_node_id"`
}

// NewWakeUpIntervalSet builds an IntervalSet. Intervals above
// MaxWakeUpInterval fail to encode.
func NewWakeUpIntervalSet(seconds uint32, controller uint8) *WakeUpIntervalSet {
	return &WakeUpIntervalSet{
		Header:           cc.NewHeader(WakeUpID, WakeUpCmdIntervalSet, 0),
		Seconds:          seconds,
		ControllerNodeID: controller,
	}
}

func encodeWakeUpIntervalSet(c cc.Command, v uint8) ([]byte, error) {
	s, ok := c.(*WakeUpIntervalSet)
	if !ok {
		return nil, fmt.Errorf("%w: expected *WakeUpIntervalSet, got %T", cc.ErrEncodeContract, c)
	}
	if s.Seconds > MaxWakeUpInterval {
		return nil, &cc.EncodeError{ClassID: WakeUpID, CommandID: WakeUpCmdIntervalSet, Version: v,
			Reason: fmt.Sprintf("interval %d exceeds %d", s.Seconds, MaxWakeUpInterval)}
	}
	buf := make([]byte, 4)
	put24(buf, s.Seconds)
	buf[3] = s.ControllerNodeID
	return buf, nil
}

func decodeWakeUpIntervalSet(p []byte, v uint8) (cc.Command, error) {
	if err := cc.RequireMinLength(p, 4); err != nil {
		return nil, err
	}
	return &WakeUpIntervalSet{
		Header:           cc.NewHeader(WakeUpID, WakeUpCmdIntervalSet, v),
		Seconds:          get24(p),
		ControllerNodeID: p[3],
	}, nil
}

// WakeUpIntervalGet asks for the configured interval.
type WakeUpIntervalGet struct {
	cc.Header
}

func NewWakeUpIntervalGet() *WakeUpIntervalGet {
	return &WakeUpIntervalGet{Header: cc.NewHeader(WakeUpID, WakeUpCmdIntervalGet, 0)}
}

// WakeUpIntervalReport is the answer to IntervalGet.
type WakeUpIntervalReport struct {
	cc.Header
	Seconds          uint32 `json:"seconds"`
	ControllerNodeID uint8  `json:"controller_node_id"`
}

func (r *WakeUpIntervalReport) Values() []cc.Value {
	return []cc.Value{
		{Property: "wakeUpInterval", Value: int64(r.Seconds)},
		{Property: "controllerNodeId", Value: int64(r.ControllerNodeID)},
	}
}

func decodeWakeUpIntervalReport(p []byte, v uint8) (cc.Command, error) {
	if err := cc.RequireMinLength(p, 4); err != nil {
		return nil, err
	}
	return &WakeUpIntervalReport{
		Header:           cc.NewHeader(WakeUpID, WakeUpCmdIntervalReport, v),
		Seconds:          get24(p),
		ControllerNodeID: p[3],
	}, nil
}

// WakeUpNotification is sent unsolicited by a node that just woke up.
type WakeUpNotification struct {
	cc.Header
}

func decodeWakeUpNotification(_ []byte, v uint8) (cc.Command, error) {
	return &WakeUpNotification{Header: cc.NewHeader(WakeUpID, WakeUpCmdNotification, v)}, nil
}

// WakeUpNoMoreInformation tells a node it may go back to sleep.
type WakeUpNoMoreInformation struct {
	cc.Header
}

func NewWakeUpNoMoreInformation() *WakeUpNoMoreInformation {
	return &WakeUpNoMoreInformation{Header: cc.NewHeader(WakeUpID, WakeUpCmdNoMoreInformation, 0)}
}

// WakeUpIntervalCapabilitiesGet asks for the allowed interval range (v2+).
type WakeUpIntervalCapabilitiesGet struct {
	cc.Header
}

func NewWakeUpIntervalCapabilitiesGet() *WakeUpIntervalCapabilitiesGet {
	return &WakeUpIntervalCapabilitiesGet{Header: cc.NewHeader(WakeUpID, WakeUpCmdIntervalCapabilitiesGet, 0)}
}

func encodeWakeUpCapabilitiesGet(_ cc.Command, v uint8) ([]byte, error) {
	if v < 2 {
		return nil, &cc.EncodeError{ClassID: WakeUpID, CommandID: WakeUpCmdIntervalCapabilitiesGet, Version: v,
			Reason: "interval capabilities need version 2"}
	}
	return []byte{}, nil
}

// WakeUpIntervalCapabilitiesReport describes the interval range a node accepts.
type WakeUpIntervalCapabilitiesReport struct {
	cc.Header
	MinSeconds     uint32 `json:"min_seconds"`
	MaxSeconds     uint32 `json:"max_seconds"`
	DefaultSeconds uint32 `json:"default_seconds"`
	StepSeconds    uint32 `json:"step_seconds"`
	// WakeOnDemand is only decoded from version 3 payloads.
	WakeOnDemand *bool `json:"wake_on_demand,omitempty"`
}

func (r *WakeUpIntervalCapabilitiesReport) Values() []cc.Value {
	vals := []cc.Value{
		{Property: "minWakeUpInterval", Value: int64(r.MinSeconds)},
		{Property: "maxWakeUpInterval", Value: int64(r.MaxSeconds)},
		{Property: "defaultWakeUpInterval", Value: int64(r.DefaultSeconds)},
		{Property: "wakeUpIntervalSteps", Value: int64(r.StepSeconds)},
	}
	if r.WakeOnDemand != nil {
		vals = append(vals, cc.Value{Property: "wakeUpOnDemandSupported", Value: *r.WakeOnDemand})
	}
	return vals
}

// Allows reports whether seconds is a valid interval for this node.
func (r *WakeUpIntervalCapabilitiesReport) Allows(seconds uint32) bool {
	if seconds < r.MinSeconds || seconds > r.MaxSeconds {
		return false
	}
	if r.StepSeconds == 0 {
		return true
	}
	return (seconds-r.MinSeconds)%r.StepSeconds == 0
}

func decodeWakeUpCapabilitiesReport(p []byte, v uint8) (cc.Command, error) {
	if err := cc.RequireMinLength(p, 12); err != nil {
		return nil, err
	}
	r := &WakeUpIntervalCapabilitiesReport{
		Header:         cc.NewHeader(WakeUpID, WakeUpCmdIntervalCapabilitiesReport, v),
		MinSeconds:     get24(p[0:]),
		MaxSeconds:     get24(p[3:]),
		DefaultSeconds: get24(p[6:]),
		StepSeconds:    get24(p[9:]),
	}
	if v >= 3 && len(p) >= 13 {
		onDemand := p[12]&0x01 != 0
		r.WakeOnDemand = &onDemand
	}
	return r, nil
}
