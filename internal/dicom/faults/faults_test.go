package faults

import (
	"math"
	"math/rand/v2"
	"reflect"
	"testing"
)

func TestParseTypes(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Type
		wantErr bool
	}{
		{name: "empty", input: "", want: nil},
		{name: "single type", input: "tilted-slice", want: []Type{TiltedSlice}},
		{name: "multiple types", input: "garbage-file,mismatched-rows", want: []Type{GarbageFile, MismatchedRows}},
		{name: "all", input: "all", want: AllTypes()},
		{name: "with whitespace", input: " garbage-file , vendor-private ", want: []Type{GarbageFile, VendorPrivate}},
		{name: "duplicates collapse", input: "tilted-slice,tilted-slice", want: []Type{TiltedSlice}},
		{name: "invalid type", input: "bit-rot", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTypes(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTypes() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseTypes() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfig(t *testing.T) {
	var empty Config
	if empty.IsEnabled() {
		t.Error("empty config should not be enabled")
	}
	if err := empty.Validate(); err != nil {
		t.Errorf("empty config should validate: %v", err)
	}

	cfg := Config{Types: []Type{TiltedSlice}}
	if !cfg.IsEnabled() || !cfg.HasType(TiltedSlice) || cfg.HasType(GarbageFile) {
		t.Errorf("unexpected HasType/IsEnabled for %v", cfg.Types)
	}
	if err := (Config{Types: []Type{"nope"}}).Validate(); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestMalformed(t *testing.T) {
	for _, typ := range AllTypes() {
		want := typ == MismatchedRows || typ == TiltedSlice || typ == DuplicatePosition || typ == IrregularSpacing
		if typ.Malformed() != want {
			t.Errorf("%s.Malformed() = %v, want %v", typ, typ.Malformed(), want)
		}
	}
}

func stack(total int) []Slice {
	slices := make([]Slice, total)
	for i := range slices {
		slices[i] = Slice{
			Index:       i,
			Rows:        8,
			Cols:        8,
			Position:    [3]float64{0, 0, float64(i) * 2},
			Orientation: [6]float64{1, 0, 0, 0, 1, 0},
			Normal:      [3]float64{0, 0, 1},
			Step:        2,
		}
	}
	return slices
}

func apply(types []Type, total int) []Slice {
	a := NewApplicator(Config{Types: types}, rand.New(rand.NewPCG(1, 1)))
	slices := stack(total)
	for i := range slices {
		a.ApplyToSlice(&slices[i], total)
	}
	return slices
}

func TestApplyToSlice(t *testing.T) {
	t.Run("no faults", func(t *testing.T) {
		got := apply(nil, 5)
		if !reflect.DeepEqual(got, stack(5)) {
			t.Error("slices changed without faults")
		}
	})

	t.Run("mismatched rows", func(t *testing.T) {
		got := apply([]Type{MismatchedRows}, 5)
		if got[2].Rows != 10 {
			t.Errorf("middle slice rows = %d, want 10", got[2].Rows)
		}
		if got[1].Rows != 8 {
			t.Errorf("other slice rows changed to %d", got[1].Rows)
		}
	})

	t.Run("tilted slice stays orthonormal", func(t *testing.T) {
		got := apply([]Type{TiltedSlice}, 5)
		o := got[2].Orientation
		if o == stack(5)[2].Orientation {
			t.Fatal("orientation unchanged")
		}
		row := math.Sqrt(o[0]*o[0] + o[1]*o[1] + o[2]*o[2])
		dot := o[0]*o[3] + o[1]*o[4] + o[2]*o[5]
		if math.Abs(row-1) > 1e-12 || math.Abs(dot) > 1e-12 {
			t.Errorf("orientation not orthonormal: %v", o)
		}
	})

	t.Run("duplicate position", func(t *testing.T) {
		got := apply([]Type{DuplicatePosition}, 5)
		if got[2].Position != got[1].Position {
			t.Errorf("middle slice at %v, want %v", got[2].Position, got[1].Position)
		}
	})

	t.Run("irregular spacing", func(t *testing.T) {
		got := apply([]Type{IrregularSpacing}, 5)
		if math.Abs(got[2].Position[2]-4.6) > 1e-9 {
			t.Errorf("middle slice z = %v, want 4.6", got[2].Position[2])
		}
	})

	t.Run("missing series uid on last slice", func(t *testing.T) {
		got := apply([]Type{MissingSeriesUID}, 5)
		for i, s := range got {
			if s.OmitSeriesUID != (i == 4) {
				t.Errorf("slice %d OmitSeriesUID = %v", i, s.OmitSeriesUID)
			}
		}
	})

	t.Run("single slice untouched", func(t *testing.T) {
		got := apply([]Type{MismatchedRows, DuplicatePosition, MissingSeriesUID}, 1)
		if !reflect.DeepEqual(got, stack(1)) {
			t.Error("single slice series should not be altered")
		}
	})
}

func TestExtraFiles(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	if files := NewApplicator(Config{}, rng).ExtraFiles(); len(files) != 0 {
		t.Errorf("expected no extra files, got %d", len(files))
	}
	files := NewApplicator(Config{Types: []Type{GarbageFile}}, rng).ExtraFiles()
	if len(files) == 0 {
		t.Fatal("expected extra files")
	}
	for name, data := range files {
		if len(data) == 0 {
			t.Errorf("%s is empty", name)
		}
	}
}

func TestPrivateElements(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 42))
	a := NewApplicator(Config{Types: []Type{VendorPrivate}}, rng)

	tests := []struct {
		manufacturer string
		minCount     int
		group        uint16
	}{
		{"SIEMENS", 3, 0x0029},
		{"GE MEDICAL SYSTEMS", 4, 0x0009},
		{"Philips Medical Systems", 3, 0x2001},
	}
	for _, tt := range tests {
		t.Run(tt.manufacturer, func(t *testing.T) {
			elems := a.PrivateElements(tt.manufacturer)
			if len(elems) < tt.minCount {
				t.Fatalf("got %d elements, want at least %d", len(elems), tt.minCount)
			}
			if elems[0].Tag.Group != tt.group {
				t.Errorf("first element group = %04x, want %04x", elems[0].Tag.Group, tt.group)
			}
			for _, e := range elems {
				if e.Tag.Group%2 == 0 {
					t.Errorf("element %v is not private", e.Tag)
				}
			}
		})
	}

	if elems := NewApplicator(Config{}, rng).PrivateElements("SIEMENS"); elems != nil {
		t.Error("expected no elements when vendor-private is disabled")
	}
}
