package classes

import (
	"encoding/binary"
	"fmt"
	"strings"

	"zwave-go-home/internal/cc"
)

// MeterID is the Meter command class.
const MeterID uint8 = 0x32

// Meter command IDs.
const (
	MeterCmdGet             uint8 = 0x01
	MeterCmdReport          uint8 = 0x02
	MeterCmdSupportedGet    uint8 = 0x03
	MeterCmdSupportedReport uint8 = 0x04
	MeterCmdReset           uint8 = 0x05
)

// Meter is the Meter command class definition.
var Meter = cc.ClassDef{
	ID:                 MeterID,
	Name:               "Meter",
	ImplementedVersion: 4,
	Commands: []cc.CommandDef{
		{ID: MeterCmdGet, Name: "Get", Encode: encodeMeterGet, ExpectedResponse: cc.Expects(MeterCmdReport)},
		{ID: MeterCmdReport, Name: "Report", Decode: decodeMeterReport},
		{ID: MeterCmdSupportedGet, Name: "SupportedGet", Decode: decodeMeterSupportedGet, Encode: encodeEmpty,
			ExpectedResponse: cc.Expects(MeterCmdSupportedReport)},
		{ID: MeterCmdSupportedReport, Name: "SupportedReport", Decode: decodeMeterSupportedReport},
		{ID: MeterCmdReset, Name: "Reset", Decode: decodeMeterReset, Encode: encodeEmpty},
	},
}

// RateType classifies a meter reading.
type RateType uint8

const (
	RateUnspecified RateType = iota
	RateConsumed
	RateProduced
)

func (r RateType) String() string {
	switch r {
	case RateUnspecified:
		return "unspecified"
	case RateConsumed:
		return "consumed"
	case RateProduced:
		return "produced"
	}
	return fmt.Sprintf("rate(%d)", uint8(r))
}

func (r RateType) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ParseRateType accepts the names produced by RateType.String.
func ParseRateType(s string) (RateType, error) {
	switch strings.ToLower(s) {
	case "unspecified", "":
		return RateUnspecified, nil
	case "consumed":
		return RateConsumed, nil
	case "produced":
		return RateProduced, nil
	}
	return 0, fmt.Errorf("unknown rate type %q", s)
}

const deltaTimeUnknown = 0xFFFF

// DeltaTime is the number of seconds between the current and the previous
// reading. Unknown is set when the device reported 0xFFFF.
type DeltaTime struct {
	Seconds uint16 `json:"seconds"`
	Unknown bool   `json:"unknown,omitempty"`
}

func (d DeltaTime) String() string {
	if d.Unknown {
		return "unknown"
	}
	return fmt.Sprintf("%ds", d.Seconds)
}

// MeterReport carries a reading. Value.Scale is the complete scale index
// including the high bit and any extension.
type MeterReport struct {
	cc.Header
	MeterType     uint8           `json:"meter_type"`
	RateType      RateType        `json:"rate_type"`
	Value         cc.ScaledValue  `json:"value"`
	DeltaTime     *DeltaTime      `json:"delta_time,omitempty"`
	PreviousValue *cc.ScaledValue `json:"previous_value,omitempty"`
}

// Scale returns the full scale index of the reading.
func (r *MeterReport) Scale() uint16 {
	return r.Value.Scale
}

// MeterValueKey is the property key a reading is cached under.
func MeterValueKey(meterType uint8, rate RateType, scale uint16) string {
	return fmt.Sprintf("%d/%d/%d", meterType, rate, scale)
}

// ParseMeterValueKey reverses MeterValueKey.
func ParseMeterValueKey(key string) (meterType uint8, rate RateType, scale uint16, ok bool) {
	var t, r uint8
	var s uint16
	if n, err := fmt.Sscanf(key, "%d/%d/%d", &t, &r, &s); err != nil || n != 3 {
		return 0, 0, 0, false
	}
	if MeterValueKey(t, RateType(r), s) != key {
		return 0, 0, 0, false
	}
	return t, RateType(r), s, true
}

func (r *MeterReport) Values() []cc.Value {
	key := MeterValueKey(r.MeterType, r.RateType, r.Value.Scale)
	vals := []cc.Value{
		{Property: "value", PropertyKey: key, Value: r.Value.Float()},
	}
	if r.DeltaTime != nil {
		var dt any = int64(r.DeltaTime.Seconds)
		if r.DeltaTime.Unknown {
			dt = "unknown"
		}
		vals = append(vals, cc.Value{Property: "deltaTime", PropertyKey: key, Value: dt})
	}
	if r.PreviousValue != nil {
		vals = append(vals, cc.Value{Property: "previousValue", PropertyKey: key, Value: r.PreviousValue.Float()})
	}
	return vals
}

const (
	meterTypeMask  uint8 = 0x1F
	meterRateMask  uint8 = 0x60
	meterRateShift       = 5
	meterScaleHigh uint8 = 0x80
	meterResetFlag uint8 = 0x80
	getScaleShift        = 3
	getRateShift         = 6
	maxScaleV4           = cc.ScaleEscape + 0xFF
	maxScaleV3           = cc.ScaleEscape - 1
	maxScaleV2           = 3
)

func decodeMeterReport(p []byte, v uint8) (cc.Command, error) {
	if err := cc.RequireMinLength(p, 2); err != nil {
		return nil, err
	}
	r := &MeterReport{
		Header:    cc.NewHeader(MeterID, MeterCmdReport, v),
		MeterType: p[0] & meterTypeMask,
		RateType:  RateType((p[0] & meterRateMask) >> meterRateShift),
	}

	val, n, err := cc.DecodeScaled(p[1:])
	if err != nil {
		return nil, err
	}
	if p[0]&meterScaleHigh != 0 {
		val.Scale |= 1 << 2
	}
	offset := 1 + n

	if v >= 2 && len(p) >= offset+2 {
		dt := binary.BigEndian.Uint16(p[offset:])
		offset += 2
		if dt == deltaTimeUnknown {
			r.DeltaTime = &DeltaTime{Unknown: true}
		} else {
			r.DeltaTime = &DeltaTime{Seconds: dt}
		}

		// The previous value reuses the current value's descriptor byte.
		size := int(val.Size)
		if dt != 0 && len(p) >= offset+size {
			raw := make([]byte, 0, 1+size)
			raw = append(raw, p[1])
			raw = append(raw, p[offset:offset+size]...)
			prev, _, err := cc.DecodeScaled(raw)
			if err != nil {
				return nil, err
			}
			offset += size
			r.PreviousValue = &prev
		}
	}

	if v >= 4 && val.Scale == cc.ScaleEscape && len(p) > offset {
		val.Scale += uint16(p[offset])
	}
	r.Value = val
	if r.PreviousValue != nil {
		r.PreviousValue.Scale = val.Scale
	}
	return r, nil
}

// MeterGet requests a reading. Nil fields are not requested.
type MeterGet struct {
	cc.Header
	Scale    *uint16   `json:"scale,omitempty"`
	RateType *RateType `json:"rate_type,omitempty"`
}

// NewMeterGet builds a Get without scale or rate type.
func NewMeterGet() *MeterGet {
	return &MeterGet{Header: cc.NewHeader(MeterID, MeterCmdGet, 0)}
}

// WithScale requests a specific scale.
func (g *MeterGet) WithScale(scale uint16) *MeterGet {
	g.Scale = &scale
	return g
}

// WithRateType requests a specific rate type (version 4 and later).
func (g *MeterGet) WithRateType(rt RateType) *MeterGet {
	g.RateType = &rt
	return g
}

// encodeMeterGet writes nothing unless a scale (version 2 and later) or a
// rate type (version 4) is requested. Scales that need the escape are only
// representable from version 4 on.
func encodeMeterGet(c cc.Command, v uint8) ([]byte, error) {
	g, ok := c.(*MeterGet)
	if !ok {
		return nil, fmt.Errorf("%w: expected *MeterGet, got %T", cc.ErrEncodeContract, c)
	}
	contract := func(reason string) error {
		return &cc.EncodeError{ClassID: MeterID, CommandID: MeterCmdGet, Version: v, Reason: reason}
	}

	buf := make([]byte, 2)
	n := 0
	if g.Scale != nil && v >= 2 {
		scale := *g.Scale
		switch {
		case v >= 4 && scale >= cc.ScaleEscape:
			if scale > maxScaleV4 {
				return nil, contract(fmt.Sprintf("scale %d exceeds %d", scale, maxScaleV4))
			}
			buf[0] = cc.ScaleEscape << getScaleShift
			buf[1] = byte(scale - cc.ScaleEscape)
			n = 2
		case v >= 3:
			if scale > maxScaleV3 {
				return nil, contract(fmt.Sprintf("scale %d needs version 4", scale))
			}
			buf[0] = byte(scale) << getScaleShift
			n = 1
		default:
			if scale > maxScaleV2 {
				return nil, contract(fmt.Sprintf("scale %d needs version 3", scale))
			}
			buf[0] = byte(scale) << getScaleShift
			n = 1
		}
	}
	if v >= 4 && g.RateType != nil {
		buf[0] |= byte(*g.RateType&0x03) << getRateShift
		n = max(n, 1)
	}
	return buf[:n], nil
}

// MeterSupportedGet asks which scales and rate types a meter supports.
type MeterSupportedGet struct {
	cc.Header
}

// NewMeterSupportedGet builds a SupportedGet.
func NewMeterSupportedGet() *MeterSupportedGet {
	return &MeterSupportedGet{Header: cc.NewHeader(MeterID, MeterCmdSupportedGet, 0)}
}

func decodeMeterSupportedGet(_ []byte, v uint8) (cc.Command, error) {
	return &MeterSupportedGet{Header: cc.NewHeader(MeterID, MeterCmdSupportedGet, v)}, nil
}

// MeterSupportedReport lists supported scales and rate types.
// SupportsReset is kept for protocol decisions and cached as internal.
type MeterSupportedReport struct {
	cc.Header
	MeterType          uint8       `json:"meter_type"`
	SupportsReset      bool        `json:"-"`
	SupportedScales    cc.IndexSet `json:"supported_scales"`
	SupportedRateTypes []RateType  `json:"supported_rate_types"`
}

func (r *MeterSupportedReport) Values() []cc.Value {
	rates := make([]int64, len(r.SupportedRateTypes))
	for i, rt := range r.SupportedRateTypes {
		rates[i] = int64(rt)
	}
	scales := make([]int64, 0, len(r.SupportedScales))
	for _, s := range r.SupportedScales.Sorted() {
		scales = append(scales, int64(s))
	}
	return []cc.Value{
		{Property: "type", Value: int64(r.MeterType)},
		{Property: "supportsReset", Value: r.SupportsReset, Visibility: cc.Internal},
		{Property: "supportedScales", Value: scales},
		{Property: "supportedRateTypes", Value: rates},
	}
}

func decodeMeterSupportedReport(p []byte, v uint8) (cc.Command, error) {
	if err := cc.RequireMinLength(p, 2); err != nil {
		return nil, err
	}
	r := &MeterSupportedReport{
		Header:        cc.NewHeader(MeterID, MeterCmdSupportedReport, v),
		MeterType:     p[0] & meterTypeMask,
		SupportsReset: p[0]&meterResetFlag != 0,
	}

	rateMask := (p[0] & meterRateMask) >> meterRateShift
	for _, i := range cc.ParseBitMask([]byte{rateMask}, 1).Sorted() {
		r.SupportedRateTypes = append(r.SupportedRateTypes, RateType(i))
	}

	scales, _, err := cc.DecodeSpreadBitMask(p[1:], 0)
	if err != nil {
		return nil, err
	}
	r.SupportedScales = scales
	return r, nil
}

// MeterReset resets all accumulated values of a meter.
type MeterReset struct {
	cc.Header
}

// NewMeterReset builds a Reset.
func NewMeterReset() *MeterReset {
	return &MeterReset{Header: cc.NewHeader(MeterID, MeterCmdReset, 0)}
}

func decodeMeterReset(_ []byte, v uint8) (cc.Command, error) {
	return &MeterReset{Header: cc.NewHeader(MeterID, MeterCmdReset, v)}, nil
}

func encodeEmpty(_ cc.Command, _ uint8) ([]byte, error) {
	return []byte{}, nil
}
