package store

import (
	"fmt"
	"time"
)

// Node represents a mesh node known to the controller.
type Node struct {
	ID       uint8           `json:"id" cbor:"1,keyasint"`
	Name     string          `json:"name,omitempty" cbor:"2,keyasint,omitempty"`
	Versions map[uint8]uint8 `json:"versions,omitempty" cbor:"3,keyasint,omitempty"` // class ID -> negotiated version

	WakeUpInterval uint32    `json:"wake_up_interval,omitempty" cbor:"4,keyasint,omitempty"`
	LastWakeUp     time.Time `json:"last_wake_up" cbor:"5,keyasint"`
	LastSeen       time.Time `json:"last_seen" cbor:"6,keyasint"`
}

// ValueID addresses one cached value of a node.
type ValueID struct {
	ClassID     uint8  `json:"class_id"`
	Property    string `json:"property"`
	PropertyKey string `json:"property_key,omitempty"`
}

func (id ValueID) String() string {
	if id.PropertyKey == "" {
		return fmt.Sprintf("%02x/%s", id.ClassID, id.Property)
	}
	return fmt.Sprintf("%02x/%s/%s", id.ClassID, id.Property, id.PropertyKey)
}

// ValueRecord is one cached value. Internal is hidden from API/JSON
// serialization via json:"-" and only persisted on disk.
type ValueRecord struct {
	ValueID
	Value     any       `json:"value"`
	Internal  bool      `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Value kinds as persisted.
const (
	kindBool uint8 = iota + 1
	kindInt
	kindFloat
	kindString
	kindInts
)

// valueStorage is the internal struct used for DB serialization, preserving
// the visibility flag and the Go type of the value.
type valueStorage struct {
	ClassID     uint8     `cbor:"1,keyasint"`
	Property    string    `cbor:"2,keyasint"`
	PropertyKey string    `cbor:"3,keyasint,omitempty"`
	Kind        uint8     `cbor:"4,keyasint"`
	Bool        bool      `cbor:"5,keyasint,omitempty"`
	Int         int64     `cbor:"6,keyasint,omitempty"`
	Float       float64   `cbor:"7,keyasint,omitempty"`
	String      string    `cbor:"8,keyasint,omitempty"`
	Ints        []int64   `cbor:"9,keyasint,omitempty"`
	Internal    bool      `cbor:"10,keyasint,omitempty"`
	UpdatedAt   time.Time `cbor:"11,keyasint"`
}

func toStorage(rec *ValueRecord) (valueStorage, error) {
	st := valueStorage{
		ClassID:     rec.ClassID,
		Property:    rec.Property,
		PropertyKey: rec.PropertyKey,
		Internal:    rec.Internal,
		UpdatedAt:   rec.UpdatedAt,
	}
	switch v := rec.Value.(type) {
	case bool:
		st.Kind, st.Bool = kindBool, v
	case int64:
		st.Kind, st.Int = kindInt, v
	case int:
		st.Kind, st.Int = kindInt, int64(v)
	case float64:
		st.Kind, st.Float = kindFloat, v
	case string:
		st.Kind, st.String = kindString, v
	case []int64:
		st.Kind, st.Ints = kindInts, v
	default:
		return st, fmt.Errorf("value %s: unsupported type %T", rec.ValueID, rec.Value)
	}
	return st, nil
}

func fromStorage(st *valueStorage) *ValueRecord {
	rec := &ValueRecord{
		ValueID:   ValueID{ClassID: st.ClassID, Property: st.Property, PropertyKey: st.PropertyKey},
		Internal:  st.Internal,
		UpdatedAt: st.UpdatedAt,
	}
	switch st.Kind {
	case kindBool:
		rec.Value = st.Bool
	case kindInt:
		rec.Value = st.Int
	case kindFloat:
		rec.Value = st.Float
	case kindString:
		rec.Value = st.String
	case kindInts:
		ints := st.Ints
		if ints == nil {
			ints = []int64{}
		}
		rec.Value = ints
	}
	return rec
}
