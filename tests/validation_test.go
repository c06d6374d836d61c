package tests

import (
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	internaldicom "github.com/mrsinham/dicomprep/internal/dicom"
	"github.com/mrsinham/dicomprep/internal/dicom/modalities"
)

var aera = modalities.Scanner{Manufacturer: "SIEMENS", Model: "Aera", FieldStrength: 1.5}

// obliqueSeries is rotated 30 degrees around the z axis.
func obliqueSeries(protocol string) internaldicom.SeriesSpec {
	c, s := math.Cos(math.Pi/6), math.Sin(math.Pi/6)
	return internaldicom.SeriesSpec{
		Description:  "series_" + strings.ToLower(protocol),
		Protocol:     protocol,
		Size:         [3]int{16, 12, 6},
		Spacing:      [3]float64{0.8, 0.8, 3.5},
		Origin:       [3]float64{-10, 20, -5},
		Direction:    [3][3]float64{{c, -s, 0}, {s, c, 0}, {0, 0, 1}},
		Intensity:    internaldicom.Field{Base: 500},
		ShuffleFiles: true,
	}
}

func generateValidationStudy(t *testing.T) []internaldicom.GeneratedFile {
	t.Helper()
	files, err := internaldicom.GenerateStudies(internaldicom.GeneratorOptions{
		OutputDir: filepath.Join(t.TempDir(), "raw"),
		Studies: []internaldicom.StudySpec{{
			PatientID: "P001",
			Scanner:   aera,
			Series:    []internaldicom.SeriesSpec{obliqueSeries("T2"), obliqueSeries("DWI")},
		}},
		Seed:  42,
		Quiet: true,
	})
	if err != nil {
		t.Fatalf("GenerateStudies failed: %v", err)
	}
	return files
}

func elementString(t *testing.T, ds dicom.Dataset, tg tag.Tag) string {
	t.Helper()
	elem := findElementByTag(ds, tg)
	if elem == nil {
		t.Fatalf("Missing tag %s", tg)
	}
	return strings.Trim(elem.Value.String(), " []")
}

func elementFloats(t *testing.T, ds dicom.Dataset, tg tag.Tag) []float64 {
	t.Helper()
	elem := findElementByTag(ds, tg)
	if elem == nil {
		t.Fatalf("Missing tag %s", tg)
	}
	strs, ok := elem.Value.GetValue().([]string)
	if !ok {
		t.Fatalf("Tag %s is not a string value", tg)
	}
	out := make([]float64, len(strs))
	for i, s := range strs {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			t.Fatalf("Tag %s value %q: %v", tg, s, err)
		}
		out[i] = f
	}
	return out
}

func findElementByTag(ds dicom.Dataset, t tag.Tag) *dicom.Element {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return nil
	}
	return elem
}

// TestValidation_MRParameters checks the scanner and protocol attributes.
func TestValidation_MRParameters(t *testing.T) {
	files := generateValidationStudy(t)

	for _, f := range files {
		if f.InstanceNumber != 1 {
			continue
		}
		ds, err := dicom.ParseFile(f.Path, nil)
		if err != nil {
			t.Fatalf("Failed to parse %s: %v", f.Path, err)
		}
		if got := elementString(t, ds, tag.Modality); got != "MR" {
			t.Errorf("Modality = %q", got)
		}
		if got := elementString(t, ds, tag.Manufacturer); got != "SIEMENS" {
			t.Errorf("Manufacturer = %q", got)
		}
		if got := elementString(t, ds, tag.MagneticFieldStrength); got != "1.5" {
			t.Errorf("MagneticFieldStrength = %q", got)
		}
		description := elementString(t, ds, tag.SeriesDescription)
		bvalue := findElementByTag(ds, tag.DiffusionBValue)
		switch description {
		case "series_dwi":
			if bvalue == nil {
				t.Error("DWI series should carry a b-value")
			}
		case "series_t2":
			if bvalue != nil {
				t.Error("T2 series should not carry a b-value")
			}
		default:
			t.Errorf("Unexpected description %q", description)
		}
	}
	t.Logf("✓ MR parameters validated")
}

// TestValidation_ImagePosition checks that positions and orientation describe
// the requested oblique grid even though files are shuffled.
func TestValidation_ImagePosition(t *testing.T) {
	files := generateValidationStudy(t)
	grid := obliqueSeries("T2").Grid()
	rowAxis, colAxis := grid.Axis(0), grid.Axis(1)

	for _, f := range files {
		ds, err := dicom.ParseFile(f.Path, nil)
		if err != nil {
			t.Fatalf("Failed to parse %s: %v", f.Path, err)
		}
		iop := elementFloats(t, ds, tag.ImageOrientationPatient)
		wantIOP := []float64{rowAxis[0], rowAxis[1], rowAxis[2], colAxis[0], colAxis[1], colAxis[2]}
		for i := range wantIOP {
			if math.Abs(iop[i]-wantIOP[i]) > 1e-5 {
				t.Fatalf("IOP = %v, want %v", iop, wantIOP)
			}
		}
		ipp := elementFloats(t, ds, tag.ImagePositionPatient)
		want := grid.Point(0, 0, float64(f.SliceIndex))
		for a := 0; a < 3; a++ {
			if math.Abs(ipp[a]-want[a]) > 1e-4 {
				t.Errorf("Slice %d IPP = %v, want %v", f.SliceIndex, ipp, want)
				break
			}
		}
	}
	t.Logf("✓ Image positions follow the slice normal")
}

// TestValidation_UIDUniqueness checks SOP instance UIDs and instance numbers
// within each series.
func TestValidation_UIDUniqueness(t *testing.T) {
	files := generateValidationStudy(t)
	if len(files) != 12 {
		t.Fatalf("Expected 12 files, got %d", len(files))
	}

	sopUIDs := make(map[string]bool)
	instances := make(map[string]map[int]bool)
	shuffled := false
	for _, f := range files {
		if sopUIDs[f.SOPInstanceUID] {
			t.Errorf("Duplicate SOP Instance UID: %s", f.SOPInstanceUID)
		}
		sopUIDs[f.SOPInstanceUID] = true

		if instances[f.SeriesUID] == nil {
			instances[f.SeriesUID] = make(map[int]bool)
		}
		if instances[f.SeriesUID][f.InstanceNumber] {
			t.Errorf("Duplicate Instance Number %d in series %s", f.InstanceNumber, f.SeriesUID)
		}
		instances[f.SeriesUID][f.InstanceNumber] = true
		if f.InstanceNumber != f.SliceIndex+1 {
			shuffled = true
		}
	}
	if len(instances) != 2 {
		t.Errorf("Expected 2 series, got %d", len(instances))
	}
	if !shuffled {
		t.Error("Instance numbers should not follow the slice order")
	}
	t.Logf("✓ %d unique SOP Instance UIDs", len(sopUIDs))
}

// TestValidation_PixelData checks the pixel module of every file.
func TestValidation_PixelData(t *testing.T) {
	files := generateValidationStudy(t)

	for _, f := range files {
		ds, err := dicom.ParseFile(f.Path, nil)
		if err != nil {
			t.Fatalf("Failed to parse %s: %v", f.Path, err)
		}
		if got := elementString(t, ds, tag.Rows); got != "12" {
			t.Errorf("Rows = %s, want 12", got)
		}
		if got := elementString(t, ds, tag.Columns); got != "16" {
			t.Errorf("Columns = %s, want 16", got)
		}
		if got := elementString(t, ds, tag.BitsAllocated); got != "16" {
			t.Errorf("BitsAllocated = %s, want 16", got)
		}

		elem := findElementByTag(ds, tag.PixelData)
		if elem == nil {
			t.Fatal("Missing PixelData")
		}
		info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
		if !ok {
			t.Fatalf("Unexpected pixel data value %T", elem.Value.GetValue())
		}
		if len(info.Frames) != 1 {
			t.Fatalf("Expected 1 frame, got %d", len(info.Frames))
		}
		nf := info.Frames[0].NativeData
		if nf == nil {
			t.Fatal("Expected native pixel data")
		}
		if nf.Rows() != 12 || nf.Cols() != 16 {
			t.Errorf("Frame is %dx%d", nf.Cols(), nf.Rows())
		}
	}
	t.Logf("✓ Pixel data validated for %d files", len(files))
}
