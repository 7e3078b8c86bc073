package cc

import (
	"encoding/json"
	"fmt"
	"slices"
)

// IndexSet is an unordered set of small integer indices decoded from a bitmask.
type IndexSet map[int]struct{}

// NewIndexSet builds a set from the given indices.
func NewIndexSet(indices ...int) IndexSet {
	s := make(IndexSet, len(indices))
	for _, i := range indices {
		s[i] = struct{}{}
	}
	return s
}

// Has reports whether i is in the set.
func (s IndexSet) Has(i int) bool {
	_, ok := s[i]
	return ok
}

// Sorted returns the members in ascending order.
func (s IndexSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}

// Equal reports whether both sets hold the same members.
func (s IndexSet) Equal(other IndexSet) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if !other.Has(i) {
			return false
		}
	}
	return true
}

func (s IndexSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *IndexSet) UnmarshalJSON(data []byte) error {
	var list []int
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = NewIndexSet(list...)
	return nil
}

// ParseBitMask decodes a plain bitmask: bit k of byte i marks index i*8+k+origin.
func ParseBitMask(data []byte, origin int) IndexSet {
	s := make(IndexSet)
	for i, b := range data {
		for k := 0; k < 8; k++ {
			if b&(1<<k) != 0 {
				s[i*8+k+origin] = struct{}{}
			}
		}
	}
	return s
}

// EncodeBitMask is the inverse of ParseBitMask. The result is at least
// minBytes long.
func EncodeBitMask(s IndexSet, origin, minBytes int) ([]byte, error) {
	n := minBytes
	for i := range s {
		pos := i - origin
		if pos < 0 {
			return nil, fmt.Errorf("%w: bitmask index %d below origin %d", ErrEncodeContract, i, origin)
		}
		if pos/8+1 > n {
			n = pos/8 + 1
		}
	}
	buf := make([]byte, n)
	for i := range s {
		pos := i - origin
		buf[pos/8] |= 1 << (pos % 8)
	}
	return buf, nil
}

// BitMaskStrategy selects how a variable-length bitmask is laid out.
type BitMaskStrategy uint8

const (
	// BitMaskCompact is a single byte whose top bit is clear; seven data bits.
	BitMaskCompact BitMaskStrategy = iota
	// BitMaskSpread has the top bit of the first byte set, followed by an
	// extra-byte count and that many further mask bytes.
	BitMaskSpread
)

func (s BitMaskStrategy) String() string {
	if s == BitMaskSpread {
		return "spread"
	}
	return "compact"
}

const (
	spreadEscape    uint8 = 0x80
	spreadFirstBits       = 7
	maxSpreadExtra        = 0xFF
)

// SpreadStrategy picks the decode strategy from the first mask byte.
func SpreadStrategy(first byte) BitMaskStrategy {
	if first&spreadEscape != 0 {
		return BitMaskSpread
	}
	return BitMaskCompact
}

// The escape bit occupies bit position 7 of the first byte, so data
// positions from 8 upward sit one above their logical index.
func spreadPosToIndex(pos int) int {
	if pos >= 8 {
		return pos - 1
	}
	return pos
}

func spreadIndexToPos(logical int) int {
	if logical >= spreadFirstBits {
		return logical + 1
	}
	return logical
}

// DecodeSpreadBitMask decodes a compact or spread bitmask starting at data[0]
// and returns the set together with the number of bytes consumed.
func DecodeSpreadBitMask(data []byte, origin int) (IndexSet, int, error) {
	if err := RequireMinLength(data, 1); err != nil {
		return nil, 0, err
	}
	first := data[0] &^ spreadEscape

	switch SpreadStrategy(data[0]) {
	case BitMaskSpread:
		if err := RequireMinLength(data, 2); err != nil {
			return nil, 0, err
		}
		extra := int(data[1])
		if err := RequireMinLength(data, 2+extra); err != nil {
			return nil, 0, err
		}
		mask := make([]byte, 0, 1+extra)
		mask = append(mask, first)
		mask = append(mask, data[2:2+extra]...)

		s := make(IndexSet)
		for pos := range ParseBitMask(mask, 0) {
			s[spreadPosToIndex(pos)+origin] = struct{}{}
		}
		return s, 2 + extra, nil
	default:
		return ParseBitMask([]byte{first}, origin), 1, nil
	}
}

// EncodeSpreadBitMask emits the compact form when every index fits in the
// seven data bits of one byte, and the spread form with the minimal extra
// byte count otherwise.
func EncodeSpreadBitMask(s IndexSet, origin int) ([]byte, error) {
	maxLogical := -1
	for i := range s {
		l := i - origin
		if l < 0 {
			return nil, fmt.Errorf("%w: bitmask index %d below origin %d", ErrEncodeContract, i, origin)
		}
		maxLogical = max(maxLogical, l)
	}

	if maxLogical < spreadFirstBits {
		return EncodeBitMask(s, origin, 1)
	}

	extra := spreadIndexToPos(maxLogical) / 8
	if extra > maxSpreadExtra {
		return nil, fmt.Errorf("%w: bitmask index %d needs %d extra bytes", ErrEncodeContract, maxLogical+origin, extra)
	}
	mask := make([]byte, 1+extra)
	for i := range s {
		pos := spreadIndexToPos(i - origin)
		mask[pos/8] |= 1 << (pos % 8)
	}

	out := make([]byte, 0, 2+extra)
	out = append(out, mask[0]|spreadEscape, byte(extra))
	out = append(out, mask[1:]...)
	return out, nil
}
