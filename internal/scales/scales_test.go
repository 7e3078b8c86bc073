package scales

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDefaultTable(t *testing.T) {
	tbl := Default()

	tests := []struct {
		meterType uint8
		scale     uint16
		label     string
		unit      string
	}{
		{1, 0, "Electric (kWh)", "kWh"},
		{1, 2, "Electric (W)", "W"},
		{1, 8, "Electric (kVarh)", "kVarh"},
		{3, 2, "Water (US gallons)", "gal"},
		{2, 3, "Gas (Pulse count)", ""},
	}
	for _, tt := range tests {
		s, ok := tbl.Resolve(tt.meterType, tt.scale)
		if !ok {
			t.Errorf("Resolve(%d, %d) not found", tt.meterType, tt.scale)
			continue
		}
		if s.Label != tt.label || s.Unit != tt.unit {
			t.Errorf("Resolve(%d, %d) = %+v, want %q %q", tt.meterType, tt.scale, s, tt.label, tt.unit)
		}
	}

	if _, ok := tbl.Resolve(1, 10); ok {
		t.Error("scale 10 of an electric meter should be unknown")
	}
	if _, ok := tbl.Resolve(9, 0); ok {
		t.Error("meter type 9 should be unknown")
	}
	if got := tbl.MeterName(3); got != "Water" {
		t.Errorf("MeterName(3) = %q, want Water", got)
	}
	if got := tbl.MeterTypes(); len(got) != 5 || got[0] != 1 || got[4] != 5 {
		t.Errorf("MeterTypes = %v", got)
	}
}

func TestLoadMergesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scales.yaml")
	os.WriteFile(path, []byte(`
meters:
  1:
    scales:
      10: {label: Electric (custom), unit: Wh}
      2: {label: Power, unit: W}
  7:
    name: Vendor
    scales:
      0: {label: Vendor units}
`), 0o644)

	tbl, err := Load(path, newTestLogger())
	if err != nil {
		t.Fatal(err)
	}

	if s, ok := tbl.Resolve(1, 10); !ok || s.Unit != "Wh" {
		t.Errorf("extended scale = %+v %v", s, ok)
	}
	if s, _ := tbl.Resolve(1, 2); s.Label != "Power" {
		t.Errorf("overridden label = %q, want Power", s.Label)
	}
	if s, ok := tbl.Resolve(1, 0); !ok || s.Unit != "kWh" {
		t.Errorf("untouched scale lost: %+v %v", s, ok)
	}
	if tbl.MeterName(1) != "Electric" {
		t.Errorf("name without override = %q, want Electric", tbl.MeterName(1))
	}
	if tbl.MeterName(7) != "Vendor" {
		t.Errorf("new meter type name = %q", tbl.MeterName(7))
	}
}

func TestLoadMissingFile(t *testing.T) {
	tbl, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), newTestLogger())
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if _, ok := tbl.Resolve(1, 0); !ok {
		t.Error("built-in table missing")
	}
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("meters: [not, a, map"), 0o644)
	if _, err := Load(path, newTestLogger()); err == nil {
		t.Error("expected parse error")
	}
}

func TestSet(t *testing.T) {
	tbl := NewTable()
	tbl.Set(4, 1, Scale{Label: "Heat", Unit: "MJ"})
	if s, ok := tbl.Resolve(4, 1); !ok || s.Unit != "MJ" {
		t.Errorf("Resolve after Set = %+v %v", s, ok)
	}
}

func TestScaleIndices(t *testing.T) {
	tbl := Default()
	got := tbl.ScaleIndices(2)
	want := []uint16{0, 1, 3}
	if len(got) != len(want) {
		t.Fatalf("ScaleIndices(2) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ScaleIndices(2)[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if got := tbl.ScaleIndices(99); got != nil {
		t.Errorf("ScaleIndices(99) = %v, want nil", got)
	}
}
