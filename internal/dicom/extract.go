package dicom

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/dicomprep/internal/failure"
	"github.com/mrsinham/dicomprep/internal/util"
	"github.com/mrsinham/dicomprep/internal/volume"
)

const (
	// orientationTolerance bounds the per-component difference of direction
	// cosines and pixel spacings across the instances of a series.
	orientationTolerance = 1e-4
	// spacingTolerance is the allowed relative deviation of a slice step from
	// the mean step.
	spacingTolerance = 0.05
)

// Header is the per-series record built by Extract: identifiers, scanner
// information and the geometry derived from all instance headers.
type Header struct {
	PatientID    string
	StudyUID     string
	StudyDate    string
	SeriesUID    string
	SeriesNumber int
	Description  string
	// AcquisitionTime is zero when no date could be parsed.
	AcquisitionTime time.Time

	Modality      string
	Manufacturer  string
	Model         string
	ScannerType   string
	FieldStrength string

	Grid volume.Grid
	// NumFiles is the number of files indexed for the series; Slices holds
	// the paths of the instances kept, ordered along the slice normal.
	NumFiles int
	Slices   []string
	// Extra maps configured header field names to their values.
	Extra map[string]string
	// Warnings are non fatal findings (instances dropped, etc).
	Warnings []string
}

// NumInstances returns the number of slices of the series.
func (h *Header) NumInstances() int {
	return len(h.Slices)
}

// slice is one instance header reduced to what geometry needs.
type slice struct {
	path     string
	rows     int
	cols     int
	iop      []float64
	ipp      []float64
	spacing  []float64
	position float64
}

// Extract reads every instance header of s, derives the series geometry and
// collects the metadata record. Inconsistent geometry is a MalformedSeries
// error.
func Extract(s *Series, extra []util.TagInfo) (*Header, error) {
	if len(s.Instances) == 0 {
		return nil, failure.New(failure.MalformedSeries, s.UID, "series has no instances")
	}

	h := &Header{
		PatientID:    s.PatientID,
		StudyUID:     s.StudyUID,
		SeriesUID:    s.UID,
		SeriesNumber: s.SeriesNumber,
		Description:  s.Description,
		NumFiles:     len(s.Instances),
		Extra:        make(map[string]string, len(extra)),
	}

	var first dicom.Dataset
	slices := make([]slice, 0, len(s.Instances))
	for _, inst := range s.Instances {
		ds, err := readHeader(inst.Path)
		if err != nil {
			h.Warnings = append(h.Warnings, fmt.Sprintf("%s: %v", inst.Path, err))
			continue
		}
		sl, err := readSlice(inst.Path, ds)
		if err != nil {
			return nil, failure.Wrap(failure.MalformedSeries, s.UID, err)
		}
		if len(slices) == 0 {
			first = ds
		}
		slices = append(slices, sl)
	}
	if len(slices) == 0 {
		return nil, failure.New(failure.MalformedSeries, s.UID, "no instance header could be read")
	}

	grid, err := deriveGrid(slices, first)
	if err != nil {
		return nil, failure.Wrap(failure.MalformedSeries, s.UID, err)
	}
	h.Grid = grid
	h.Slices = make([]string, len(slices))
	for i, sl := range slices {
		h.Slices[i] = sl.path
	}
	if dropped := h.NumFiles - len(h.Slices); dropped > 0 {
		h.Warnings = append(h.Warnings, fmt.Sprintf("%d of %d files could not be read", dropped, h.NumFiles))
	}

	h.StudyDate = stringValue(first, tag.StudyDate)
	h.AcquisitionTime = acquisitionTime(first)
	h.Modality = stringValue(first, tag.Modality)
	h.Manufacturer = stringValue(first, tag.Manufacturer)
	h.Model = stringValue(first, tag.ManufacturerModelName)
	h.FieldStrength = stringValue(first, tag.MagneticFieldStrength)
	h.ScannerType = strings.TrimSpace(h.Modality + " " + h.Model)
	for _, ti := range extra {
		h.Extra[ti.Name] = stringValue(first, ti.Tag)
	}
	return h, nil
}

func readSlice(path string, ds dicom.Dataset) (slice, error) {
	sl := slice{path: path}
	var ok bool
	if sl.rows, ok = intValue(ds, tag.Rows); !ok {
		return sl, fmt.Errorf("%s: missing Rows", path)
	}
	if sl.cols, ok = intValue(ds, tag.Columns); !ok {
		return sl, fmt.Errorf("%s: missing Columns", path)
	}
	var err error
	if sl.iop, err = floatValues(ds, tag.ImageOrientationPatient); err != nil || len(sl.iop) != 6 {
		return sl, fmt.Errorf("%s: invalid or missing ImageOrientationPatient", path)
	}
	if sl.ipp, err = floatValues(ds, tag.ImagePositionPatient); err != nil || len(sl.ipp) != 3 {
		return sl, fmt.Errorf("%s: invalid or missing ImagePositionPatient", path)
	}
	if sl.spacing, err = floatValues(ds, tag.PixelSpacing); err != nil || len(sl.spacing) != 2 {
		return sl, fmt.Errorf("%s: invalid or missing PixelSpacing", path)
	}
	return sl, nil
}

// deriveGrid sorts slices along the normal (in place) and checks that they
// form a regular volume.
func deriveGrid(slices []slice, first dicom.Dataset) (volume.Grid, error) {
	ref := slices[0]
	for _, sl := range slices[1:] {
		if sl.rows != ref.rows || sl.cols != ref.cols {
			return volume.Grid{}, fmt.Errorf("instance %s is %dx%d, expected %dx%d",
				sl.path, sl.cols, sl.rows, ref.cols, ref.rows)
		}
		if !approxEqual(sl.iop, ref.iop, orientationTolerance) {
			return volume.Grid{}, fmt.Errorf("instance %s has a different orientation", sl.path)
		}
		if !approxEqual(sl.spacing, ref.spacing, orientationTolerance) {
			return volume.Grid{}, fmt.Errorf("instance %s has a different pixel spacing", sl.path)
		}
	}

	row := unit([3]float64{ref.iop[0], ref.iop[1], ref.iop[2]})
	col := unit([3]float64{ref.iop[3], ref.iop[4], ref.iop[5]})
	normal := cross(row, col)
	if norm(normal) < 1e-6 {
		return volume.Grid{}, fmt.Errorf("row and column cosines are parallel")
	}
	normal = unit(normal)

	for i := range slices {
		slices[i].position = dot(normal, [3]float64{slices[i].ipp[0], slices[i].ipp[1], slices[i].ipp[2]})
	}
	sort.SliceStable(slices, func(i, j int) bool { return slices[i].position < slices[j].position })

	step, err := sliceStep(slices, first)
	if err != nil {
		return volume.Grid{}, err
	}

	g := volume.Grid{
		Size:    [3]int{ref.cols, ref.rows, len(slices)},
		Spacing: [3]float64{ref.spacing[1], ref.spacing[0], step},
		Origin:  [3]float64{slices[0].ipp[0], slices[0].ipp[1], slices[0].ipp[2]},
	}
	for r := 0; r < 3; r++ {
		g.Direction[r] = [3]float64{row[r], col[r], normal[r]}
	}
	if err := g.Validate(); err != nil {
		return volume.Grid{}, err
	}
	return g, nil
}

// sliceStep returns the mean distance between consecutive sorted slices.
func sliceStep(slices []slice, first dicom.Dataset) (float64, error) {
	if len(slices) == 1 {
		if v := floatValue(first, tag.SpacingBetweenSlices, 0); v > 0 {
			return v, nil
		}
		if v := floatValue(first, tag.SliceThickness, 0); v > 0 {
			return v, nil
		}
		return 1, nil
	}

	steps := make([]float64, len(slices)-1)
	sum := 0.0
	for i := 1; i < len(slices); i++ {
		d := slices[i].position - slices[i-1].position
		if d < 1e-6 {
			return 0, fmt.Errorf("instances %s and %s share slice position %g",
				slices[i-1].path, slices[i].path, slices[i].position)
		}
		steps[i-1] = d
		sum += d
	}
	mean := sum / float64(len(steps))
	for i, d := range steps {
		if math.Abs(d-mean) > spacingTolerance*mean {
			return 0, fmt.Errorf("irregular slice spacing: step %d is %g, mean is %g", i, d, mean)
		}
	}
	return mean, nil
}

// acquisitionTime returns the first date/time pair that parses, in order:
// AcquisitionDateTime, AcquisitionDate+Time, SeriesDate+Time, StudyDate+Time.
func acquisitionTime(ds dicom.Dataset) time.Time {
	if t, ok := parseDateTime(stringValue(ds, tag.AcquisitionDateTime), ""); ok {
		return t
	}
	pairs := [][2]tag.Tag{
		{tag.AcquisitionDate, tag.AcquisitionTime},
		{tag.SeriesDate, tag.SeriesTime},
		{tag.StudyDate, tag.StudyTime},
	}
	for _, p := range pairs {
		if t, ok := parseDateTime(stringValue(ds, p[0]), stringValue(ds, p[1])); ok {
			return t
		}
	}
	return time.Time{}
}

// parseDateTime joins a DA and a TM value (or takes a DT value alone) and
// parses the result. Fractional seconds and UTC offsets are dropped.
func parseDateTime(date, tm string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	if date == "" {
		return time.Time{}, false
	}
	if i := strings.IndexAny(date, "+-"); i >= 8 {
		date = date[:i]
	}
	tm = strings.TrimSpace(tm)
	if i := strings.IndexByte(tm, '.'); i >= 0 {
		tm = tm[:i]
	}
	if i := strings.IndexByte(date, '.'); i >= 0 {
		date = date[:i]
	}
	tm = strings.ReplaceAll(tm, ":", "")
	if tm != "" {
		for len(tm) < 6 {
			tm += "0"
		}
	}

	for _, layout := range []string{"20060102150405", "20060102"} {
		if t, err := time.Parse(layout, date+tm); err == nil {
			return t, true
		}
	}
	if t, err := dateparse.ParseAny(date + tm); err == nil {
		return t, true
	}
	if t, err := dateparse.ParseAny(date); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func approxEqual(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func norm(a [3]float64) float64 {
	return math.Sqrt(dot(a, a))
}

func unit(a [3]float64) [3]float64 {
	n := norm(a)
	if n == 0 {
		return a
	}
	return [3]float64{a[0] / n, a[1] / n, a[2] / n}
}
