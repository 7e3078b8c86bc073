package classes

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"zwave-go-home/internal/cc"
)

func newRegistry() *cc.Registry {
	r := cc.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	RegisterStandard(r)
	return r
}

// meterReportPayload builds a Report payload carrying value at the full
// scale index, with a zero delta time and the extension byte when needed.
func meterReportPayload(t *testing.T, meterType uint8, rate RateType, value cc.ScaledValue, scale uint16) []byte {
	t.Helper()
	low := min(scale, cc.ScaleEscape)
	value.Scale = low
	scaled, err := cc.EncodeScaled(value)
	if err != nil {
		t.Fatal(err)
	}
	p := []byte{meterType | byte(rate)<<5}
	p = append(p, scaled...)
	p = append(p, 0x00, 0x00)
	if scale >= cc.ScaleEscape {
		p = append(p, byte(scale-cc.ScaleEscape))
	}
	return p
}

func decodeReport(t *testing.T, r *cc.Registry, p []byte, v uint8) *MeterReport {
	t.Helper()
	cmd, err := r.Decode(MeterID, MeterCmdReport, p, v)
	if err != nil {
		t.Fatalf("decode %X at v%d: %v", p, v, err)
	}
	rep, ok := cmd.(*MeterReport)
	if !ok {
		t.Fatalf("got %T, want *MeterReport", cmd)
	}
	return rep
}

func TestMeterReportV1(t *testing.T) {
	r := newRegistry()
	// electric, consumed; precision 2, size 2, scale 0; 1234
	rep := decodeReport(t, r, []byte{0x21, 0x50, 0x04, 0xD2}, 1)

	if rep.MeterType != 1 {
		t.Errorf("meter type = %d, want 1", rep.MeterType)
	}
	if rep.RateType != RateConsumed {
		t.Errorf("rate = %v, want consumed", rep.RateType)
	}
	if rep.Value.Float() != 12.34 {
		t.Errorf("value = %v, want 12.34", rep.Value.Float())
	}
	if rep.Scale() != 0 {
		t.Errorf("scale = %d, want 0", rep.Scale())
	}
	if rep.DeltaTime != nil || rep.PreviousValue != nil {
		t.Error("v1 report must not carry delta time or previous value")
	}
}

func TestMeterReportV1IgnoresTrailingBytes(t *testing.T) {
	r := newRegistry()
	rep := decodeReport(t, r, []byte{0x21, 0x50, 0x04, 0xD2, 0x00, 0x3C, 0x04, 0xB0}, 1)
	if rep.DeltaTime != nil || rep.PreviousValue != nil {
		t.Error("v1 report must not read past the value")
	}
}

func TestMeterReportPreviousValue(t *testing.T) {
	r := newRegistry()
	rep := decodeReport(t, r, []byte{0x21, 0x50, 0x04, 0xD2, 0x00, 0x3C, 0x04, 0xB0}, 2)

	if rep.DeltaTime == nil || rep.DeltaTime.Seconds != 60 || rep.DeltaTime.Unknown {
		t.Fatalf("delta time = %+v, want 60s", rep.DeltaTime)
	}
	if rep.PreviousValue == nil {
		t.Fatal("previous value missing")
	}
	if rep.PreviousValue.Float() != 12 {
		t.Errorf("previous = %v, want 12", rep.PreviousValue.Float())
	}
	if rep.PreviousValue.Precision != 2 || rep.PreviousValue.Size != 2 {
		t.Errorf("previous descriptor = %+v, want the current value's", rep.PreviousValue)
	}
}

func TestMeterReportZeroDeltaSuppressesPrevious(t *testing.T) {
	r := newRegistry()
	rep := decodeReport(t, r, []byte{0x21, 0x50, 0x04, 0xD2, 0x00, 0x00, 0x04, 0xB0}, 3)

	if rep.DeltaTime == nil || rep.DeltaTime.Seconds != 0 {
		t.Fatalf("delta time = %+v, want 0s", rep.DeltaTime)
	}
	if rep.PreviousValue != nil {
		t.Errorf("previous = %+v, want none for zero delta", rep.PreviousValue)
	}
}

func TestMeterReportUnknownDelta(t *testing.T) {
	r := newRegistry()
	rep := decodeReport(t, r, []byte{0x21, 0x50, 0x04, 0xD2, 0xFF, 0xFF, 0x04, 0xB0}, 2)

	if rep.DeltaTime == nil || !rep.DeltaTime.Unknown {
		t.Fatalf("delta time = %+v, want unknown", rep.DeltaTime)
	}
	if rep.DeltaTime.String() != "unknown" {
		t.Errorf("delta string = %q", rep.DeltaTime.String())
	}
	if rep.PreviousValue == nil || rep.PreviousValue.Float() != 12 {
		t.Errorf("previous = %+v, want 12", rep.PreviousValue)
	}

	var gotDelta any
	for _, v := range rep.Values() {
		if v.Property == "deltaTime" {
			gotDelta = v.Value
		}
	}
	if gotDelta != "unknown" {
		t.Errorf("deltaTime value = %v, want unknown", gotDelta)
	}
}

func TestMeterReportScaleHighBit(t *testing.T) {
	r := newRegistry()
	// high scale bit set, descriptor scale 2: full scale 6
	rep := decodeReport(t, r, []byte{0x81, 0x0A, 0x05}, 2)
	if rep.Scale() != 6 {
		t.Errorf("scale = %d, want 6", rep.Scale())
	}
	if rep.MeterType != 1 {
		t.Errorf("meter type = %d, want 1", rep.MeterType)
	}
}

func TestMeterReportScaleExtension(t *testing.T) {
	r := newRegistry()
	// scale escape with extension 3, delta 0
	p := []byte{0x01, 0x0F, 0x05, 0x00, 0x00, 0x03}

	if got := decodeReport(t, r, p, 4).Scale(); got != 10 {
		t.Errorf("v4 scale = %d, want 10", got)
	}
	if got := decodeReport(t, r, p, 3).Scale(); got != 7 {
		t.Errorf("v3 scale = %d, want 7", got)
	}
	if got := decodeReport(t, r, p[:5], 4).Scale(); got != 7 {
		t.Errorf("v4 without extension byte: scale = %d, want 7", got)
	}
	if got := decodeReport(t, r, p, 9).Scale(); got != 10 {
		t.Errorf("v9 clamps to v4: scale = %d, want 10", got)
	}
}

func TestMeterReportExtensionAfterPrevious(t *testing.T) {
	r := newRegistry()
	// delta 30, previous 0x04, extension 1
	rep := decodeReport(t, r, []byte{0x01, 0x0F, 0x05, 0x00, 0x1E, 0x04, 0x01}, 4)
	if rep.Scale() != 8 {
		t.Errorf("scale = %d, want 8", rep.Scale())
	}
	if rep.PreviousValue == nil || rep.PreviousValue.Magnitude != 4 {
		t.Fatalf("previous = %+v, want 4", rep.PreviousValue)
	}
	if rep.PreviousValue.Scale != 8 {
		t.Errorf("previous scale = %d, want 8", rep.PreviousValue.Scale)
	}
}

func TestMeterReportTooShort(t *testing.T) {
	r := newRegistry()
	tests := []struct {
		name string
		p    []byte
	}{
		{"empty", nil},
		{"type only", []byte{0x21}},
		{"truncated value", []byte{0x21, 0x50, 0x04}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Decode(MeterID, MeterCmdReport, tt.p, 4)
			if !errors.Is(err, cc.ErrPayloadTooShort) {
				t.Errorf("err = %v, want ErrPayloadTooShort", err)
			}
		})
	}
}

func TestMeterReportInvalidDescriptor(t *testing.T) {
	r := newRegistry()
	_, err := r.Decode(MeterID, MeterCmdReport, []byte{0x21, 0x40, 0x00}, 2)
	if !errors.Is(err, cc.ErrInvalidPayload) {
		t.Errorf("err = %v, want ErrInvalidPayload", err)
	}
}

func TestMeterReportValues(t *testing.T) {
	r := newRegistry()
	rep := decodeReport(t, r, []byte{0x21, 0x50, 0x04, 0xD2, 0x00, 0x3C, 0x04, 0xB0}, 2)

	vals := rep.Values()
	if len(vals) != 3 {
		t.Fatalf("values = %d, want 3", len(vals))
	}
	for _, v := range vals {
		if v.PropertyKey != "1/1/0" {
			t.Errorf("%s key = %q, want 1/1/0", v.Property, v.PropertyKey)
		}
		if v.Visibility != cc.Public {
			t.Errorf("%s should be public", v.Property)
		}
	}
	if vals[0].Property != "value" || vals[0].Value != 12.34 {
		t.Errorf("value = %+v", vals[0])
	}
}

func TestMeterGetEncode(t *testing.T) {
	r := newRegistry()
	produced := RateProduced

	tests := []struct {
		name    string
		get     *MeterGet
		version uint8
		want    []byte
	}{
		{"v1 no scale", NewMeterGet(), 1, []byte{}},
		{"v1 omits scale", NewMeterGet().WithScale(1), 1, []byte{}},
		{"v2 no scale", NewMeterGet(), 2, []byte{}},
		{"v4 no scale", NewMeterGet(), 4, []byte{}},
		{"v2 scale 0", NewMeterGet().WithScale(0), 2, []byte{0x00}},
		{"v2 scale 3", NewMeterGet().WithScale(3), 2, []byte{0x18}},
		{"v3 scale 6", NewMeterGet().WithScale(6), 3, []byte{0x30}},
		{"v3 rate only", NewMeterGet().WithRateType(RateConsumed), 3, []byte{}},
		{"v4 rate only", NewMeterGet().WithRateType(RateConsumed), 4, []byte{0x40}},
		{"v4 scale 2", NewMeterGet().WithScale(2), 4, []byte{0x10}},
		{"v4 scale 7", NewMeterGet().WithScale(7), 4, []byte{0x38, 0x00}},
		{"v4 scale 10", NewMeterGet().WithScale(10), 4, []byte{0x38, 0x03}},
		{"v4 rate produced", &MeterGet{Header: NewMeterGet().Header, RateType: &produced}, 4, []byte{0x80}},
		{"v4 scale and rate", NewMeterGet().WithScale(2).WithRateType(RateConsumed), 4, []byte{0x50}},
		{"v3 drops rate", NewMeterGet().WithScale(2).WithRateType(RateConsumed), 3, []byte{0x10}},
		{"v6 clamps to v4", NewMeterGet().WithScale(10), 6, []byte{0x38, 0x03}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Encode(tt.get, tt.version)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("encoded %X, want %X", got, tt.want)
			}
		})
	}
}

func TestMeterGetContractViolations(t *testing.T) {
	r := newRegistry()
	tests := []struct {
		name    string
		scale   uint16
		version uint8
	}{
		{"scale 4 on v2", 4, 2},
		{"scale 7 on v3", 7, 3},
		{"scale 8 on v3", 8, 3},
		{"scale beyond extension", cc.ScaleEscape + 0x100, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Encode(NewMeterGet().WithScale(tt.scale), tt.version)
			var ee *cc.EncodeError
			if !errors.As(err, &ee) {
				t.Fatalf("err = %v, want *EncodeError", err)
			}
			if ee.ClassID != MeterID || ee.CommandID != MeterCmdGet {
				t.Errorf("error ids = 0x%02X/0x%02X", ee.ClassID, ee.CommandID)
			}
		})
	}
}

func TestMeterGetReportRoundTrip(t *testing.T) {
	r := newRegistry()
	value := cc.ScaledValue{Magnitude: -1500, Precision: 1}

	for scale := uint16(0); scale <= 12; scale++ {
		get, err := r.Encode(NewMeterGet().WithScale(scale), 4)
		if err != nil {
			t.Fatalf("encode get scale %d: %v", scale, err)
		}
		gotScale := uint16(get[0]>>3) & 0x07
		if len(get) == 2 {
			gotScale += uint16(get[1])
		}
		if gotScale != scale {
			t.Errorf("get for scale %d carries %d", scale, gotScale)
		}

		rep := decodeReport(t, r, meterReportPayload(t, 1, RateConsumed, value, scale), 4)
		if rep.Scale() != scale {
			t.Errorf("report scale = %d, want %d", rep.Scale(), scale)
		}
		if rep.Value.Float() != -150 {
			t.Errorf("scale %d: value = %v, want -150", scale, rep.Value.Float())
		}
	}
}

func TestMeterGetNotDecodable(t *testing.T) {
	r := newRegistry()
	_, err := r.Decode(MeterID, MeterCmdGet, []byte{0x10}, 4)
	if !errors.Is(err, cc.ErrDeserializationNotImplemented) {
		t.Errorf("err = %v, want ErrDeserializationNotImplemented", err)
	}
}

func TestMeterExpectedResponses(t *testing.T) {
	r := newRegistry()
	tests := []struct {
		cmd  uint8
		want uint8
		ok   bool
	}{
		{MeterCmdGet, MeterCmdReport, true},
		{MeterCmdSupportedGet, MeterCmdSupportedReport, true},
		{MeterCmdReset, 0, false},
		{MeterCmdReport, 0, false},
	}
	for _, tt := range tests {
		got, ok := r.ExpectedResponse(MeterID, tt.cmd)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ExpectedResponse(0x%02X) = 0x%02X/%v, want 0x%02X/%v", tt.cmd, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMeterSupportedReport(t *testing.T) {
	r := newRegistry()
	// reset supported, consumed and produced, electric; scales 0 and 2
	cmd, err := r.Decode(MeterID, MeterCmdSupportedReport, []byte{0xE1, 0x05}, 2)
	if err != nil {
		t.Fatal(err)
	}
	rep := cmd.(*MeterSupportedReport)

	if rep.MeterType != 1 || !rep.SupportsReset {
		t.Errorf("type/reset = %d/%v, want 1/true", rep.MeterType, rep.SupportsReset)
	}
	if !rep.SupportedScales.Equal(cc.NewIndexSet(0, 2)) {
		t.Errorf("scales = %v, want [0 2]", rep.SupportedScales.Sorted())
	}
	if len(rep.SupportedRateTypes) != 2 || rep.SupportedRateTypes[0] != RateConsumed || rep.SupportedRateTypes[1] != RateProduced {
		t.Errorf("rates = %v, want [consumed produced]", rep.SupportedRateTypes)
	}

	data, err := json.Marshal(rep)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte("reset")) {
		t.Errorf("serialized report exposes the reset flag: %s", data)
	}

	for _, v := range rep.Values() {
		want := cc.Public
		if v.Property == "supportsReset" {
			want = cc.Internal
		}
		if v.Visibility != want {
			t.Errorf("%s visibility = %v, want %v", v.Property, v.Visibility, want)
		}
	}
}

func TestMeterSupportedReportSpreadEquivalence(t *testing.T) {
	r := newRegistry()
	compact, err := r.Decode(MeterID, MeterCmdSupportedReport, []byte{0x01, 0x05}, 4)
	if err != nil {
		t.Fatal(err)
	}
	spread, err := r.Decode(MeterID, MeterCmdSupportedReport, []byte{0x01, 0x85, 0x00}, 4)
	if err != nil {
		t.Fatal(err)
	}
	a := compact.(*MeterSupportedReport).SupportedScales
	b := spread.(*MeterSupportedReport).SupportedScales
	if !a.Equal(b) {
		t.Errorf("compact %v != spread %v", a.Sorted(), b.Sorted())
	}
}

func TestMeterSupportedReportExtendedScales(t *testing.T) {
	r := newRegistry()
	cmd, err := r.Decode(MeterID, MeterCmdSupportedReport, []byte{0x01, 0x81, 0x01, 0x03}, 4)
	if err != nil {
		t.Fatal(err)
	}
	got := cmd.(*MeterSupportedReport).SupportedScales
	if !got.Equal(cc.NewIndexSet(0, 7, 8)) {
		t.Errorf("scales = %v, want [0 7 8]", got.Sorted())
	}
}

func TestMeterSupportedReportTooShort(t *testing.T) {
	r := newRegistry()
	for _, p := range [][]byte{nil, {0x01}, {0x01, 0x80}, {0x01, 0x80, 0x02, 0x00}} {
		_, err := r.Decode(MeterID, MeterCmdSupportedReport, p, 4)
		if !errors.Is(err, cc.ErrPayloadTooShort) {
			t.Errorf("decode %X: err = %v, want ErrPayloadTooShort", p, err)
		}
	}
}

func TestMeterEmptyCommands(t *testing.T) {
	r := newRegistry()

	for _, c := range []cc.Command{NewMeterSupportedGet(), NewMeterReset()} {
		got, err := r.Encode(c, 2)
		if err != nil {
			t.Fatalf("encode 0x%02X: %v", c.CommandID(), err)
		}
		if len(got) != 0 {
			t.Errorf("encode 0x%02X = %X, want empty", c.CommandID(), got)
		}
	}

	cmd, err := r.Decode(MeterID, MeterCmdReset, nil, 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cmd.(*MeterReset); !ok {
		t.Errorf("got %T, want *MeterReset", cmd)
	}
}

func TestParseRateType(t *testing.T) {
	for _, rt := range []RateType{RateUnspecified, RateConsumed, RateProduced} {
		got, err := ParseRateType(rt.String())
		if err != nil || got != rt {
			t.Errorf("ParseRateType(%q) = %v, %v", rt.String(), got, err)
		}
	}
	if _, err := ParseRateType("sideways"); err == nil {
		t.Error("expected error for unknown rate type")
	}
}

func TestParseMeterValueKey(t *testing.T) {
	mt, rate, scale, ok := ParseMeterValueKey(MeterValueKey(3, RateProduced, 262))
	if !ok || mt != 3 || rate != RateProduced || scale != 262 {
		t.Errorf("got %d %v %d %v", mt, rate, scale, ok)
	}
	for _, bad := range []string{"", "1/2", "a/b/c", "1/2/3/4", "300/0/0"} {
		if _, _, _, ok := ParseMeterValueKey(bad); ok {
			t.Errorf("ParseMeterValueKey(%q) accepted", bad)
		}
	}
}
