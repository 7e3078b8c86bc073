package cc

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeScaledOneByteNegative(t *testing.T) {
	// precision=2, size=1, scale=3; magnitude 0xFE = -2
	data := []byte{0x4B, 0xFE}
	v, n, err := DecodeScaled(data)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("consumed %d, want 2", n)
	}
	if v.Magnitude != -2 {
		t.Errorf("magnitude = %d, want -2", v.Magnitude)
	}
	if v.Precision != 2 || v.Size != 1 || v.Scale != 3 {
		t.Errorf("descriptor = %+v, want precision 2 size 1 scale 3", v)
	}
	if v.Float() != -0.02 {
		t.Errorf("float = %v, want -0.02", v.Float())
	}
	if v.String() != "-0.02" {
		t.Errorf("string = %q, want -0.02", v.String())
	}
}

func TestDecodeScaledTwoBytes(t *testing.T) {
	// precision=1, size=2, scale=0; 0x012C = 300
	v, n, err := DecodeScaled([]byte{0x30, 0x01, 0x2C, 0xAA})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("consumed %d, want 3", n)
	}
	if v.Magnitude != 300 || v.Float() != 30 {
		t.Errorf("got %d (%v), want 300 (30)", v.Magnitude, v.Float())
	}
}

func TestDecodeScaledFourBytes(t *testing.T) {
	// precision=3, size=4, scale=1; 0xFFFFFF9C = -100
	v, n, err := DecodeScaled([]byte{0x79, 0xFF, 0xFF, 0xFF, 0x9C})
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("consumed %d, want 5", n)
	}
	if v.Magnitude != -100 {
		t.Errorf("magnitude = %d, want -100", v.Magnitude)
	}
	if v.Scale != 1 {
		t.Errorf("scale = %d, want 1", v.Scale)
	}
	if v.Float() != -0.1 {
		t.Errorf("float = %v, want -0.1", v.Float())
	}
}

func TestDecodeScaledErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrPayloadTooShort},
		{"size selector zero", []byte{0x00, 0x01}, ErrInvalidPayload},
		{"truncated magnitude", []byte{0x18, 0x00, 0x00}, ErrPayloadTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeScaled(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeScaledTooShortCarriesLengths(t *testing.T) {
	_, _, err := DecodeScaled([]byte{0x18, 0x00})
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
	if de.Need != 5 || de.Got != 2 {
		t.Errorf("need/got = %d/%d, want 5/2", de.Need, de.Got)
	}
}

func TestEncodeScaledSmallestSize(t *testing.T) {
	tests := []struct {
		magnitude int64
		want      uint8
	}{
		{0, 1},
		{127, 1},
		{-128, 1},
		{128, 2},
		{-129, 2},
		{32767, 2},
		{40000, 4},
		{-2147483648, 4},
	}
	for _, tt := range tests {
		buf, err := EncodeScaled(ScaledValue{Magnitude: tt.magnitude})
		if err != nil {
			t.Fatalf("encode %d: %v", tt.magnitude, err)
		}
		if got := len(buf) - 1; got != int(tt.want) {
			t.Errorf("encode %d: size %d, want %d", tt.magnitude, got, tt.want)
		}
	}
}

func TestEncodeScaledZeroStillHasMagnitudeByte(t *testing.T) {
	buf, err := EncodeScaled(ScaledValue{Magnitude: 0, Scale: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, []byte{0x0A, 0x00}) {
		t.Errorf("encoded %X, want 0A00", buf)
	}
}

func TestEncodeScaledContract(t *testing.T) {
	tests := []struct {
		name string
		v    ScaledValue
	}{
		{"magnitude too large", ScaledValue{Magnitude: 1 << 40}},
		{"precision too large", ScaledValue{Magnitude: 1, Precision: 8}},
		{"bad size", ScaledValue{Magnitude: 1, Size: 3}},
		{"forced size too small", ScaledValue{Magnitude: 300, Size: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeScaled(tt.v)
			if !errors.Is(err, ErrEncodeContract) {
				t.Errorf("err = %v, want ErrEncodeContract", err)
			}
		})
	}
}

func TestScaledRoundTrip(t *testing.T) {
	magnitudes := []int64{0, 1, -1, 99, -128, 127, 255, -32768, 32767, 65535, 1_000_000, -2_000_000_000}
	for _, m := range magnitudes {
		for p := uint8(0); p <= MaxPrecision; p++ {
			for _, size := range []uint8{0, 1, 2, 4} {
				if size != 0 && size < MinSize(m) {
					continue
				}
				in := ScaledValue{Magnitude: m, Precision: p, Size: size, Scale: uint16(p % 8)}
				buf, err := EncodeScaled(in)
				if err != nil {
					t.Fatalf("encode %+v: %v", in, err)
				}
				out, n, err := DecodeScaled(buf)
				if err != nil {
					t.Fatalf("decode %X: %v", buf, err)
				}
				if n != len(buf) {
					t.Errorf("consumed %d of %d", n, len(buf))
				}
				wantSize := size
				if wantSize == 0 {
					wantSize = MinSize(m)
				}
				if out.Magnitude != m || out.Precision != p || out.Size != wantSize || out.Scale != in.Scale {
					t.Errorf("round trip %+v -> %+v", in, out)
				}
			}
		}
	}
}
