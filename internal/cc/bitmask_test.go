package cc

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestParseBitMask(t *testing.T) {
	got := ParseBitMask([]byte{0x05, 0x80}, 0)
	if !got.Equal(NewIndexSet(0, 2, 15)) {
		t.Errorf("got %v, want [0 2 15]", got.Sorted())
	}

	got = ParseBitMask([]byte{0x03}, 1)
	if !got.Equal(NewIndexSet(1, 2)) {
		t.Errorf("origin 1: got %v, want [1 2]", got.Sorted())
	}
}

func TestEncodeBitMask(t *testing.T) {
	buf, err := EncodeBitMask(NewIndexSet(1, 2, 10), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, []byte{0x03, 0x02}) {
		t.Errorf("encoded %X, want 0302", buf)
	}

	buf, err = EncodeBitMask(NewIndexSet(), 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, []byte{0x00, 0x00}) {
		t.Errorf("empty set encoded %X, want 0000", buf)
	}

	if _, err := EncodeBitMask(NewIndexSet(0), 1, 1); !errors.Is(err, ErrEncodeContract) {
		t.Errorf("index below origin: err = %v, want ErrEncodeContract", err)
	}
}

func TestSpreadStrategy(t *testing.T) {
	if SpreadStrategy(0x7F) != BitMaskCompact {
		t.Error("0x7F should select compact")
	}
	if SpreadStrategy(0x80) != BitMaskSpread {
		t.Error("0x80 should select spread")
	}
}

func TestSpreadBitMaskCorrection(t *testing.T) {
	want := NewIndexSet(0, 1, 7, 8, 15)

	buf, err := EncodeSpreadBitMask(want, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Index 7 lands on bit 0 of the first tail byte, 8 on bit 1, 15 on bit 0 of the next.
	if !bytes.Equal(buf, []byte{0x83, 0x02, 0x03, 0x01}) {
		t.Errorf("encoded %X, want 83020301", buf)
	}

	got, n, err := DecodeSpreadBitMask(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(buf) {
		t.Errorf("consumed %d, want %d", n, len(buf))
	}
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got.Sorted(), want.Sorted())
	}
	if !got.Has(7) || !got.Has(8) {
		t.Error("indices 7 and 8 must both survive")
	}
}

func TestSpreadBitMaskCompactForm(t *testing.T) {
	buf, err := EncodeSpreadBitMask(NewIndexSet(0, 1, 2, 6), 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, []byte{0x47}) {
		t.Errorf("encoded %X, want 47", buf)
	}
	got, n, err := DecodeSpreadBitMask(append(buf, 0xFF), 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("consumed %d, want 1", n)
	}
	if !got.Equal(NewIndexSet(0, 1, 2, 6)) {
		t.Errorf("got %v", got.Sorted())
	}
}

func TestSpreadBitMaskNoTail(t *testing.T) {
	got, n, err := DecodeSpreadBitMask([]byte{0x85, 0x00}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("consumed %d, want 2", n)
	}
	if !got.Equal(NewIndexSet(0, 2)) {
		t.Errorf("got %v, want [0 2]", got.Sorted())
	}
}

func TestSpreadBitMaskOrigin(t *testing.T) {
	want := NewIndexSet(1, 8, 9)
	buf, err := EncodeSpreadBitMask(want, 1)
	if err != nil {
		t.Fatal(err)
	}
	got, _, err := DecodeSpreadBitMask(buf, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got.Sorted(), want.Sorted())
	}
}

func TestSpreadBitMaskTruncated(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"missing count", []byte{0x80}},
		{"short tail", []byte{0x80, 0x02, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeSpreadBitMask(tt.data, 0)
			if !errors.Is(err, ErrPayloadTooShort) {
				t.Errorf("err = %v, want ErrPayloadTooShort", err)
			}
		})
	}
}

func TestSpreadBitMaskRoundTripWide(t *testing.T) {
	for top := 0; top < 64; top++ {
		want := NewIndexSet(0, top/2, top)
		buf, err := EncodeSpreadBitMask(want, 0)
		if err != nil {
			t.Fatalf("encode top=%d: %v", top, err)
		}
		got, _, err := DecodeSpreadBitMask(buf, 0)
		if err != nil {
			t.Fatalf("decode top=%d: %v", top, err)
		}
		if !got.Equal(want) {
			t.Errorf("top=%d: got %v, want %v", top, got.Sorted(), want.Sorted())
		}
	}
}

func TestIndexSetJSON(t *testing.T) {
	data, err := json.Marshal(NewIndexSet(7, 0, 3))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[0,3,7]" {
		t.Errorf("json = %s, want [0,3,7]", data)
	}

	var s IndexSet
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatal(err)
	}
	if !s.Equal(NewIndexSet(0, 3, 7)) {
		t.Errorf("unmarshal = %v", s.Sorted())
	}
}
