package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/stat"

	"github.com/mrsinham/dicomprep/internal/volume"
)

// Status is the fate of one series in the processing log.
type Status string

const (
	// StatusAccepted marks a series resampled onto the reference grid and written.
	StatusAccepted Status = "accepted"
	// StatusReference marks the series whose grid the study is resampled onto.
	StatusReference Status = "reference"
	// StatusDuplicate marks a series that lost the tie-break for its label.
	StatusDuplicate Status = "duplicate-discarded"
	// StatusUnmapped marks a series with no label, or a label not processed.
	StatusUnmapped Status = "unmapped"
	// StatusFailed marks a series that could not be loaded, resampled or written.
	StatusFailed Status = "failed"
	// StatusSkipped marks an accepted series dropped because its study had no
	// usable reference.
	StatusSkipped Status = "skipped"
)

// AllStatuses returns the statuses in log order.
func AllStatuses() []Status {
	return []Status{StatusReference, StatusAccepted, StatusDuplicate, StatusUnmapped, StatusFailed, StatusSkipped}
}

// Record is one row of the aggregated metadata table: a series that was
// written to the processed tree.
type Record struct {
	PatientID             string  `csv:"patient_id"`
	StudyID               string  `csv:"study_id"`
	SeriesID              string  `csv:"series_id"`
	SeriesNumber          int     `csv:"series_number"`
	SeriesDescription     string  `csv:"series_description"`
	SequenceLabel         string  `csv:"sequence_label"`
	OutputTag             string  `csv:"output_tag"`
	ScannerType           string  `csv:"scanner_type"`
	Manufacturer          string  `csv:"manufacturer"`
	Model                 string  `csv:"model"`
	MagneticFieldStrength string  `csv:"magnetic_field_strength"`
	NumDicomFiles         int     `csv:"num_dicom_files"`
	NumInstances          int     `csv:"num_instances"`
	NativeSize            string  `csv:"native_size"`
	NativeSpacing         string  `csv:"native_spacing"`
	NativeOrigin          string  `csv:"native_origin"`
	OutputSize            string  `csv:"output_size"`
	OutputSpacing         string  `csv:"output_spacing"`
	OutputOrigin          string  `csv:"output_origin"`
	OutputDirection       string  `csv:"output_direction"`
	IntensityMean         float64 `csv:"intensity_mean"`
	IntensityStd          float64 `csv:"intensity_std"`
	ExtraFields           string  `csv:"extra_fields"`
	Status                Status  `csv:"status"`
	OutputPath            string  `csv:"output_path"`
}

// SetNative fills the native geometry columns.
func (r *Record) SetNative(g volume.Grid) {
	r.NativeSize = FormatSize(g.Size)
	r.NativeSpacing = volume.FormatVector(g.Spacing)
	r.NativeOrigin = volume.FormatVector(g.Origin)
}

// SetOutput fills the output geometry and intensity columns from the volume
// that was written.
func (r *Record) SetOutput(v *volume.Volume) {
	g := v.Grid
	r.OutputSize = FormatSize(g.Size)
	r.OutputSpacing = volume.FormatVector(g.Spacing)
	r.OutputOrigin = volume.FormatVector(g.Origin)
	parts := make([]string, 0, 3)
	for a := 0; a < 3; a++ {
		parts = append(parts, volume.FormatVector(g.Axis(a)))
	}
	r.OutputDirection = strings.Join(parts, " ")
	r.IntensityMean, r.IntensityStd = Intensity(v)
}

// SetExtra stores the configured extra header fields as "Name=value" pairs
// sorted by name and separated by ";".
func (r *Record) SetExtra(fields map[string]string) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, len(names))
	for i, name := range names {
		pairs[i] = name + "=" + fields[name]
	}
	r.ExtraFields = strings.Join(pairs, ";")
}

// FormatSize prints a grid size as "XxYxZ".
func FormatSize(s [3]int) string {
	return fmt.Sprintf("%dx%dx%d", s[0], s[1], s[2])
}

// Intensity returns the mean and the unbiased standard deviation of the voxel
// values.
func Intensity(v *volume.Volume) (mean, std float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	x := make([]float64, len(v.Data))
	for i, f := range v.Data {
		x[i] = float64(f)
	}
	if len(x) == 1 {
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}

// SortRecords orders records by patient, study, label then series.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.PatientID != b.PatientID {
			return a.PatientID < b.PatientID
		}
		if a.StudyID != b.StudyID {
			return a.StudyID < b.StudyID
		}
		if a.SequenceLabel != b.SequenceLabel {
			return a.SequenceLabel < b.SequenceLabel
		}
		return a.SeriesID < b.SeriesID
	})
}

// WriteRecords writes records as CSV to path through a temp file.
func WriteRecords(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := gocsv.MarshalFile(&records, tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// ReadRecords loads a metadata table written by WriteRecords.
func ReadRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var records []Record
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return records, nil
}
