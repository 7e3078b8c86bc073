package cc

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// Scaled-numeric descriptor byte layout.
const (
	precisionShift       = 5
	sizeShift            = 3
	sizeMask       uint8 = 0x18
	scaleLowMask   uint8 = 0x07

	MaxPrecision = 7
)

// ScaleEscape is the scale index signalling that the true scale is
// ScaleEscape plus an extension byte carried elsewhere in the payload.
const ScaleEscape = 7

// ScaledValue is a signed magnitude with a decimal exponent and a scale.
// Size is the exact number of magnitude bytes on the wire; Precision and
// Scale only change the interpretation of Magnitude.
type ScaledValue struct {
	Magnitude int64  `json:"magnitude"`
	Precision uint8  `json:"precision"`
	Size      uint8  `json:"size"`
	Scale     uint16 `json:"scale"`
}

// Float returns Magnitude × 10^-Precision.
func (v ScaledValue) Float() float64 {
	return float64(v.Magnitude) / math.Pow10(int(v.Precision))
}

func (v ScaledValue) String() string {
	return strconv.FormatFloat(v.Float(), 'f', int(v.Precision), 64)
}

func sizeFromSelector(sel uint8) (int, bool) {
	switch sel {
	case 1:
		return 1, true
	case 2:
		return 2, true
	case 3:
		return 4, true
	}
	return 0, false
}

func selectorFromSize(size uint8) (uint8, bool) {
	switch size {
	case 1:
		return 1, true
	case 2:
		return 2, true
	case 4:
		return 3, true
	}
	return 0, false
}

// DecodeScaled reads a descriptor byte and the magnitude that follows it.
// The returned Scale holds only the descriptor's low three scale bits; any
// high bit or extension byte is the calling command's business.
func DecodeScaled(data []byte) (ScaledValue, int, error) {
	if err := RequireMinLength(data, 1); err != nil {
		return ScaledValue{}, 0, err
	}
	desc := data[0]
	size, ok := sizeFromSelector((desc & sizeMask) >> sizeShift)
	if !ok {
		return ScaledValue{}, 0, invalidPayload("scaled value size selector 0 in descriptor 0x%02X", desc)
	}
	if err := RequireMinLength(data, 1+size); err != nil {
		return ScaledValue{}, 0, err
	}
	return ScaledValue{
		Magnitude: readSigned(data[1 : 1+size]),
		Precision: desc >> precisionShift,
		Size:      uint8(size),
		Scale:     uint16(desc & scaleLowMask),
	}, 1 + size, nil
}

func readSigned(b []byte) int64 {
	switch len(b) {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.BigEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.BigEndian.Uint32(b)))
	}
	return 0
}

// MinSize returns the smallest wire size (1, 2 or 4) able to hold magnitude,
// or 0 if it does not fit in 32 bits.
func MinSize(magnitude int64) uint8 {
	switch {
	case magnitude >= math.MinInt8 && magnitude <= math.MaxInt8:
		return 1
	case magnitude >= math.MinInt16 && magnitude <= math.MaxInt16:
		return 2
	case magnitude >= math.MinInt32 && magnitude <= math.MaxInt32:
		return 4
	}
	return 0
}

// EncodeScaled packs v into a descriptor byte followed by its big-endian
// magnitude. A zero v.Size selects the smallest size that fits; only the low
// three bits of v.Scale are written.
func EncodeScaled(v ScaledValue) ([]byte, error) {
	if v.Precision > MaxPrecision {
		return nil, fmt.Errorf("%w: precision %d exceeds %d", ErrEncodeContract, v.Precision, MaxPrecision)
	}
	need := MinSize(v.Magnitude)
	if need == 0 {
		return nil, fmt.Errorf("%w: magnitude %d does not fit in 32 bits", ErrEncodeContract, v.Magnitude)
	}
	size := v.Size
	if size == 0 {
		size = need
	}
	sel, ok := selectorFromSize(size)
	if !ok {
		return nil, fmt.Errorf("%w: size %d is not 1, 2 or 4", ErrEncodeContract, size)
	}
	if size < need {
		return nil, fmt.Errorf("%w: magnitude %d does not fit in %d bytes", ErrEncodeContract, v.Magnitude, size)
	}

	buf := make([]byte, 1+int(size))
	buf[0] = v.Precision<<precisionShift | sel<<sizeShift | uint8(v.Scale)&scaleLowMask
	switch size {
	case 1:
		buf[1] = byte(int8(v.Magnitude))
	case 2:
		binary.BigEndian.PutUint16(buf[1:], uint16(int16(v.Magnitude)))
	case 4:
		binary.BigEndian.PutUint32(buf[1:], uint32(int32(v.Magnitude)))
	}
	return buf, nil
}
