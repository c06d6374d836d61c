package tests

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mrsinham/dicomprep/internal/config"
	internaldicom "github.com/mrsinham/dicomprep/internal/dicom"
	"github.com/mrsinham/dicomprep/internal/failure"
	"github.com/mrsinham/dicomprep/internal/labelmap"
	"github.com/mrsinham/dicomprep/internal/output"
)

// TestErrors_AmbiguousLookup checks that conflicting rows are all reported
// before anything is processed.
func TestErrors_AmbiguousLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lookup.csv")
	content := `Patient ID,Series Description,Generic Sequence Label
*,t2_tse_tra,t2_axial
*,t2_tse_tra,t2_sagittal
P1,ep2d_diff_adc,adc_axial
P1,ep2d_diff_adc,dwi_b1400_axial
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := labelmap.Load(path, "")
	if err == nil {
		t.Fatal("Expected error for conflicting rows")
	}
	if !failure.Is(err, failure.AmbiguousMapping) {
		t.Errorf("Expected AmbiguousMapping, got: %v", err)
	}
	if !failure.KindOf(err).Fatal() {
		t.Error("AmbiguousMapping should be fatal")
	}
	for _, want := range []string{"t2_tse_tra", "ep2d_diff_adc"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Error should mention %q: %v", want, err)
		}
	}
	t.Logf("✓ Conflicts reported: %v", err)
}

// TestErrors_UnreadableInput covers the input roots that abort a run.
func TestErrors_UnreadableInput(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.dcm")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		root string
	}{
		{name: "missing_root", root: filepath.Join(dir, "missing")},
		{name: "root_is_a_file", root: file},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := internaldicom.NewIndexer(tt.root).Index(context.Background())
			if !failure.Is(err, failure.UnreadableInput) {
				t.Errorf("Expected UnreadableInput, got: %v", err)
			}
		})
	}
}

// TestErrors_InvalidConfig checks that every problem of a config file is
// reported at once.
func TestErrors_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dicomprep.yaml")
	content := `series_to_process:
  t2_axial: T2
  adc_axial: "AD C"
reference_series: t1_axial
duplicate_policy: newest
output_format: dcm
workers: -1
extra_fields: [ProtocolNme]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("Expected error for invalid config")
	}
	for _, want := range []string{
		`output tag "AD C"`,
		`reference_series "t1_axial"`,
		`unknown duplicate policy "newest"`,
		`unknown output format "dcm"`,
		"workers must be >= 0",
		"ProtocolName",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Error should contain %q:\n%v", want, err)
		}
	}
}

// TestErrors_OutputRootUnwritable checks that a bad output root fails before
// any study is processed.
func TestErrors_OutputRootUnwritable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := output.NewWriter(filepath.Join(file, "out"), config.MetaImage)
	if !failure.Is(err, failure.UnreadableInput) {
		t.Errorf("Expected UnreadableInput, got: %v", err)
	}
}
