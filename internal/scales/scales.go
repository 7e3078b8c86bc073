// Package scales maps meter types and scale indexes to human-readable labels
// and units. A built-in table is always present; a YAML file can extend or
// override it.
package scales

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed meters.yaml
var defaultTable []byte

// Scale describes one scale of a meter type.
type Scale struct {
	Label string `yaml:"label" json:"label"`
	Unit  string `yaml:"unit,omitempty" json:"unit,omitempty"`
}

// Meter is one meter type with its known scales.
type Meter struct {
	Name   string           `yaml:"name" json:"name"`
	Scales map[uint16]Scale `yaml:"scales" json:"scales"`
}

// tableFile is the YAML layout of both the built-in and override tables.
type tableFile struct {
	Meters map[uint8]Meter `yaml:"meters"`
}

// Table holds scale labels keyed by meter type.
type Table struct {
	meters map[uint8]*Meter
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{meters: make(map[uint8]*Meter)}
}

// Default returns the built-in table.
func Default() *Table {
	t := NewTable()
	if err := t.merge(defaultTable); err != nil {
		panic(fmt.Sprintf("scales: built-in table: %v", err))
	}
	return t
}

// Load returns the built-in table with path merged on top. An empty path or a
// missing file yields the built-in table alone.
func Load(path string, logger *slog.Logger) (*Table, error) {
	t := Default()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Info("no scale override file", "path", path)
		return t, nil
	}
	if err != nil {
		return t, fmt.Errorf("read %s: %w", path, err)
	}
	if err := t.merge(data); err != nil {
		return t, fmt.Errorf("parse %s: %w", path, err)
	}
	logger.Info("loaded scale overrides", "path", path, "meter_types", len(t.meters))
	return t, nil
}

// merge applies a YAML table. Scales replace existing entries one by one;
// a non-empty name replaces the meter type name.
func (t *Table) merge(data []byte) error {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	for id, m := range f.Meters {
		cur := t.meters[id]
		if cur == nil {
			cur = &Meter{Scales: make(map[uint16]Scale)}
			t.meters[id] = cur
		}
		if m.Name != "" {
			cur.Name = m.Name
		}
		for idx, s := range m.Scales {
			cur.Scales[idx] = s
		}
	}
	return nil
}

// Set adds or replaces one scale.
func (t *Table) Set(meterType uint8, scale uint16, s Scale) {
	m := t.meters[meterType]
	if m == nil {
		m = &Meter{Scales: make(map[uint16]Scale)}
		t.meters[meterType] = m
	}
	m.Scales[scale] = s
}

// Resolve returns the label of a scale. Unknown combinations report false.
func (t *Table) Resolve(meterType uint8, scale uint16) (Scale, bool) {
	m, ok := t.meters[meterType]
	if !ok {
		return Scale{}, false
	}
	s, ok := m.Scales[scale]
	return s, ok
}

// MeterName returns the name of a meter type, or "" if unknown.
func (t *Table) MeterName(meterType uint8) string {
	if m, ok := t.meters[meterType]; ok {
		return m.Name
	}
	return ""
}

// MeterTypes returns the known meter types in ascending order.
func (t *Table) MeterTypes() []uint8 {
	out := make([]uint8, 0, len(t.meters))
	for id := range t.meters {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ScaleIndices returns the scale indices known for a meter type in
// ascending order.
func (t *Table) ScaleIndices(meterType uint8) []uint16 {
	m, ok := t.meters[meterType]
	if !ok {
		return nil
	}
	out := make([]uint16, 0, len(m.Scales))
	for idx := range m.Scales {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
