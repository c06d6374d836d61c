package modalities

import (
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func TestScanners(t *testing.T) {
	scanners := Scanners()
	if len(scanners) == 0 {
		t.Fatal("Expected at least one MR scanner")
	}

	for i, s := range scanners {
		if s.Manufacturer == "" {
			t.Errorf("Scanner %d has empty manufacturer", i)
		}
		if s.Model == "" {
			t.Errorf("Scanner %d has empty model", i)
		}
		if s.FieldStrength <= 0 {
			t.Errorf("Scanner %d has invalid field strength: %f", i, s.FieldStrength)
		}
	}
}

func TestGetProtocol(t *testing.T) {
	for _, kind := range ProtocolKinds() {
		p, err := GetProtocol(kind)
		if err != nil {
			t.Fatalf("GetProtocol(%q): %v", kind, err)
		}
		if p.Kind != kind || p.SequenceName == "" || p.EchoTime <= 0 || p.RepetitionTime <= 0 {
			t.Errorf("incomplete protocol %+v", p)
		}
	}

	if p, err := GetProtocol("dwi"); err != nil || p.BValue != 1400 {
		t.Errorf("GetProtocol(dwi) = %+v, %v", p, err)
	}
	if _, err := GetProtocol("PET"); err == nil {
		t.Error("expected error for unknown protocol")
	}
}

func TestMRPixelConfig(t *testing.T) {
	cfg := MRPixelConfig()

	if cfg.BitsAllocated != 16 {
		t.Errorf("Expected 16 bits allocated, got %d", cfg.BitsAllocated)
	}
	if cfg.BitsStored != 12 {
		t.Errorf("Expected 12 bits stored, got %d", cfg.BitsStored)
	}
	if cfg.HighBit != 11 {
		t.Errorf("Expected high bit 11, got %d", cfg.HighBit)
	}
	if cfg.MaxValue != 1<<cfg.BitsStored-1 {
		t.Errorf("MaxValue %d does not match %d bits", cfg.MaxValue, cfg.BitsStored)
	}
}

func TestAppendMRElements(t *testing.T) {
	ds := &dicom.Dataset{}
	scanner := Scanners()[1]
	p, _ := GetProtocol("DWI")
	AppendMRElements(ds, scanner, p)

	for _, tg := range []tag.Tag{tag.Manufacturer, tag.ManufacturerModelName, tag.MagneticFieldStrength, tag.SequenceName, tag.DiffusionBValue} {
		if _, err := ds.FindElementByTag(tg); err != nil {
			t.Errorf("missing element %v", tg)
		}
	}

	ds = &dicom.Dataset{}
	p, _ = GetProtocol("T2")
	AppendMRElements(ds, scanner, p)
	if _, err := ds.FindElementByTag(tag.DiffusionBValue); err == nil {
		t.Error("T2 should not carry a b-value")
	}
}

func TestAppendMRElements_DecimalStrings(t *testing.T) {
	ds := &dicom.Dataset{}
	p, _ := GetProtocol("DWI")
	AppendMRElements(ds, Scanner{Manufacturer: "SIEMENS", Model: "Skyra", FieldStrength: 3.0}, p)

	tests := map[tag.Tag]string{
		tag.MagneticFieldStrength: "3",
		tag.ImagingFrequency:      "127.74",
		tag.EchoTime:              "75",
		tag.RepetitionTime:        "5200",
		tag.WindowWidth:           "600",
	}
	for tg, want := range tests {
		elem, err := ds.FindElementByTag(tg)
		if err != nil {
			t.Errorf("missing element %v", tg)
			continue
		}
		got, ok := elem.Value.GetValue().([]string)
		if !ok || len(got) != 1 || got[0] != want {
			t.Errorf("element %v = %v, want [%s]", tg, elem.Value.GetValue(), want)
		}
	}
}
