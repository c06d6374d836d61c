package dicom

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/mrsinham/dicomprep/internal/dicom/faults"
	"github.com/mrsinham/dicomprep/internal/dicom/modalities"
	"github.com/mrsinham/dicomprep/internal/failure"
	"github.com/mrsinham/dicomprep/internal/util"
	"github.com/mrsinham/dicomprep/internal/volume"
)

var skyra = modalities.Scanner{Manufacturer: "SIEMENS", Model: "Skyra", FieldStrength: 3.0}

func t2Spec() SeriesSpec {
	return SeriesSpec{
		Description: "t2_tse_tra",
		Protocol:    "T2",
		Size:        [3]int{8, 6, 4},
		Spacing:     [3]float64{1, 1.5, 3},
		Origin:      [3]float64{-4, -4.5, 0},
		Intensity:   Field{Base: 100, Gradient: [3]float64{10, 5, 2}},
	}
}

func generate(t *testing.T, dir string, layout Layout, studies ...StudySpec) []GeneratedFile {
	t.Helper()
	files, err := GenerateStudies(GeneratorOptions{
		OutputDir: dir,
		Studies:   studies,
		Seed:      42,
		Workers:   2,
		Layout:    layout,
		Quiet:     true,
	})
	if err != nil {
		t.Fatalf("GenerateStudies() error: %v", err)
	}
	return files
}

func index(t *testing.T, dir string, opts ...IndexOption) *Index {
	t.Helper()
	idx, err := NewIndexer(dir, opts...).Index(context.Background())
	if err != nil {
		t.Fatalf("Index() error: %v", err)
	}
	return idx
}

func studies(idx *Index) []*Study {
	var out []*Study
	for s := range idx.Studies() {
		out = append(out, s)
	}
	return out
}

func onlySeries(t *testing.T, idx *Index) *Series {
	t.Helper()
	all := studies(idx)
	if len(all) != 1 || len(all[0].Series) != 1 {
		t.Fatalf("expected 1 study with 1 series, got %d studies", len(all))
	}
	return all[0].Series[0]
}

func TestGenerateStudies_Validation(t *testing.T) {
	if _, err := GenerateStudies(GeneratorOptions{OutputDir: t.TempDir(), Quiet: true}); err == nil {
		t.Error("expected error without studies")
	}
	bad := t2Spec()
	bad.Spacing[2] = 0
	_, err := GenerateStudies(GeneratorOptions{
		OutputDir: t.TempDir(),
		Studies:   []StudySpec{{PatientID: "P1", Series: []SeriesSpec{bad}}},
		Quiet:     true,
	})
	if err == nil {
		t.Error("expected error for zero spacing")
	}
	bad = t2Spec()
	bad.Protocol = "PET"
	_, err = GenerateStudies(GeneratorOptions{
		OutputDir: t.TempDir(),
		Studies:   []StudySpec{{PatientID: "P1", Series: []SeriesSpec{bad}}},
		Quiet:     true,
	})
	if err == nil {
		t.Error("expected error for unknown protocol")
	}
}

func TestGenerateStudies_Deterministic(t *testing.T) {
	root := t.TempDir()
	spec := t2Spec()
	spec.Noise = 20
	a := generate(t, filepath.Join(root, "a"), LayoutNested, StudySpec{PatientID: "P1", Series: []SeriesSpec{spec}})
	b := generate(t, filepath.Join(root, "b"), LayoutNested, StudySpec{PatientID: "P1", Series: []SeriesSpec{spec}})

	if len(a) != len(b) {
		t.Fatalf("file counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		da, err := os.ReadFile(a[i].Path)
		if err != nil {
			t.Fatal(err)
		}
		db, err := os.ReadFile(b[i].Path)
		if err != nil {
			t.Fatal(err)
		}
		if string(da) != string(db) {
			t.Errorf("file %d differs between runs", i)
		}
	}
}

func TestIndex_GroupsByHeaderIdentity(t *testing.T) {
	for _, layout := range AllLayouts() {
		t.Run(string(layout), func(t *testing.T) {
			dir := t.TempDir()
			dwi := t2Spec()
			dwi.Description = "ep2d_diff_b1400"
			dwi.Protocol = "DWI"
			files := generate(t, dir, layout,
				StudySpec{PatientID: "P2", Series: []SeriesSpec{t2Spec()}},
				StudySpec{PatientID: "P1", Series: []SeriesSpec{t2Spec(), dwi}},
			)

			idx := index(t, dir)
			if idx.NumFiles != len(files) {
				t.Errorf("NumFiles = %d, want %d", idx.NumFiles, len(files))
			}
			if len(idx.Warnings) != 0 {
				t.Errorf("unexpected warnings: %v", idx.Warnings)
			}
			all := studies(idx)
			if idx.Len() != 2 || len(all) != 2 {
				t.Fatalf("expected 2 studies, got %d", idx.Len())
			}
			if all[0].PatientID != "P1" || all[1].PatientID != "P2" {
				t.Errorf("studies not ordered by patient: %s, %s", all[0].PatientID, all[1].PatientID)
			}
			if len(all[0].Series) != 2 || len(all[1].Series) != 1 {
				t.Errorf("series per study = %d, %d; want 2, 1", len(all[0].Series), len(all[1].Series))
			}
			if idx.NumSeries() != 3 {
				t.Errorf("NumSeries() = %d, want 3", idx.NumSeries())
			}
			for _, se := range all[0].Series {
				if len(se.Instances) != 4 {
					t.Errorf("series %s has %d instances, want 4", se.Description, len(se.Instances))
				}
			}
			if all[0].Date != "20240115" {
				t.Errorf("study date = %q", all[0].Date)
			}
		})
	}
}

func TestIndex_StopsEarly(t *testing.T) {
	dir := t.TempDir()
	generate(t, dir, LayoutNested,
		StudySpec{PatientID: "P1", Series: []SeriesSpec{t2Spec()}},
		StudySpec{PatientID: "P2", Series: []SeriesSpec{t2Spec()}},
	)
	n := 0
	for range index(t, dir).Studies() {
		n++
		break
	}
	if n != 1 {
		t.Errorf("iteration did not stop, n = %d", n)
	}
}

func TestIndex_SkipsUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	spec := t2Spec()
	spec.Faults = faults.Config{Types: []faults.Type{faults.GarbageFile}}
	generate(t, dir, LayoutNested, StudySpec{PatientID: "P1", Series: []SeriesSpec{spec}})
	if err := os.WriteFile(filepath.Join(dir, "DICOMDIR"), []byte("not parsed"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("hidden"), 0644); err != nil {
		t.Fatal(err)
	}

	idx := index(t, dir)
	if got := len(idx.Warnings); got != 2 {
		t.Errorf("expected 2 warnings for the garbage files, got %d: %v", got, idx.Warnings)
	}
	if got := len(onlySeries(t, idx).Instances); got != 4 {
		t.Errorf("instances = %d, want 4", got)
	}
}

func TestIndex_MissingSeriesUID(t *testing.T) {
	dir := t.TempDir()
	spec := t2Spec()
	spec.Faults = faults.Config{Types: []faults.Type{faults.MissingSeriesUID}}
	generate(t, dir, LayoutNested, StudySpec{PatientID: "P1", Series: []SeriesSpec{spec}})

	idx := index(t, dir)
	if len(idx.Warnings) != 1 {
		t.Errorf("expected 1 warning, got %v", idx.Warnings)
	}
	series := onlySeries(t, idx)
	if len(series.Instances) != 3 {
		t.Errorf("instances = %d, want 3", len(series.Instances))
	}
	if _, err := Extract(series, nil); err != nil {
		t.Errorf("remaining slices should still form a volume: %v", err)
	}
}

func TestIndex_Exclude(t *testing.T) {
	dir := t.TempDir()
	dwi := t2Spec()
	dwi.Protocol = "DWI"
	generate(t, dir, LayoutNested, StudySpec{PatientID: "P1", Series: []SeriesSpec{t2Spec(), dwi}})

	idx := index(t, dir, WithExclude([]string{"**/SE000001/**"}), WithIndexWorkers(1))
	series := onlySeries(t, idx)
	if series.SeriesNumber != 1 {
		t.Errorf("kept series %d, want 1", series.SeriesNumber)
	}
	if idx.NumFiles != 4 {
		t.Errorf("NumFiles = %d, want 4", idx.NumFiles)
	}
}

func TestIndex_UnreadableRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	for name, root := range map[string]string{
		"missing":       filepath.Join(dir, "nope"),
		"not directory": file,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewIndexer(root).Index(context.Background())
			if !failure.Is(err, failure.UnreadableInput) {
				t.Errorf("expected UnreadableInput, got %v", err)
			}
		})
	}
}

func TestIndex_Cancelled(t *testing.T) {
	dir := t.TempDir()
	generate(t, dir, LayoutNested, StudySpec{PatientID: "P1", Series: []SeriesSpec{t2Spec()}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewIndexer(dir).Index(ctx); err == nil {
		t.Error("expected error for a cancelled context")
	}
}

func TestIndex_EmptyTree(t *testing.T) {
	idx := index(t, t.TempDir())
	if idx.Len() != 0 || idx.NumFiles != 0 {
		t.Errorf("expected empty index, got %d studies, %d files", idx.Len(), idx.NumFiles)
	}
}

func TestExtract_Geometry(t *testing.T) {
	deg := 30 * math.Pi / 180
	c, s := math.Cos(deg), math.Sin(deg)
	oblique := [3][3]float64{
		{c, 0, s},
		{0, 1, 0},
		{-s, 0, c},
	}

	tests := []struct {
		name   string
		mutate func(*SeriesSpec)
	}{
		{name: "axial", mutate: func(*SeriesSpec) {}},
		{name: "shuffled files", mutate: func(s *SeriesSpec) { s.ShuffleFiles = true }},
		{name: "oblique", mutate: func(s *SeriesSpec) { s.Direction = oblique }},
		{name: "single slice", mutate: func(s *SeriesSpec) { s.Size[2] = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			spec := t2Spec()
			tt.mutate(&spec)
			files := generate(t, dir, LayoutNested, StudySpec{PatientID: "P1", Scanner: skyra, Series: []SeriesSpec{spec}})

			h, err := Extract(onlySeries(t, index(t, dir)), nil)
			if err != nil {
				t.Fatalf("Extract() error: %v", err)
			}
			if !h.Grid.Equal(spec.Grid(), 1e-5) {
				t.Errorf("grid = %v %v, want %v %v", h.Grid, h.Grid.Direction, spec.Grid(), spec.Grid().Direction)
			}

			sort.Slice(files, func(i, j int) bool { return files[i].SliceIndex < files[j].SliceIndex })
			if len(h.Slices) != len(files) {
				t.Fatalf("slices = %d, want %d", len(h.Slices), len(files))
			}
			for i, f := range files {
				if h.Slices[i] != f.Path {
					t.Errorf("slice %d = %s, want %s", i, h.Slices[i], f.Path)
				}
			}
			if h.NumInstances() != spec.Size[2] || h.NumFiles != spec.Size[2] {
				t.Errorf("NumInstances = %d, NumFiles = %d", h.NumInstances(), h.NumFiles)
			}
		})
	}
}

func TestExtract_Metadata(t *testing.T) {
	dir := t.TempDir()
	acquired := time.Date(2023, time.June, 2, 14, 30, 5, 0, time.UTC)
	spec := t2Spec()
	spec.AcquisitionTime = acquired
	spec.SeriesNumber = 7
	generate(t, dir, LayoutNested, StudySpec{PatientID: "P1", Scanner: skyra, Series: []SeriesSpec{spec}})

	extra, err := util.ResolveTags([]string{"ProtocolName", "BodyPartExamined"})
	if err != nil {
		t.Fatal(err)
	}
	h, err := Extract(onlySeries(t, index(t, dir)), extra)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	checks := map[string][2]string{
		"PatientID":     {h.PatientID, "P1"},
		"Description":   {h.Description, "t2_tse_tra"},
		"Modality":      {h.Modality, "MR"},
		"Manufacturer":  {h.Manufacturer, "SIEMENS"},
		"Model":         {h.Model, "Skyra"},
		"ScannerType":   {h.ScannerType, "MR Skyra"},
		"FieldStrength": {h.FieldStrength, "3"},
		"StudyDate":     {h.StudyDate, "20240115"},
		"ProtocolName":  {h.Extra["ProtocolName"], "t2_tse_tra"},
		"BodyPart":      {h.Extra["BodyPartExamined"], "PROSTATE"},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", name, c[0], c[1])
		}
	}
	if h.SeriesNumber != 7 {
		t.Errorf("SeriesNumber = %d, want 7", h.SeriesNumber)
	}
	if !h.AcquisitionTime.Equal(acquired) {
		t.Errorf("AcquisitionTime = %v, want %v", h.AcquisitionTime, acquired)
	}
}

func TestExtract_AcquisitionFallsBackToSeriesTime(t *testing.T) {
	dir := t.TempDir()
	acquired := time.Date(2022, time.March, 9, 10, 0, 0, 0, time.UTC)
	spec := t2Spec()
	spec.AcquisitionTime = acquired
	spec.OmitAcquisitionTime = true
	generate(t, dir, LayoutNested, StudySpec{PatientID: "P1", Series: []SeriesSpec{spec}})

	h, err := Extract(onlySeries(t, index(t, dir)), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !h.AcquisitionTime.Equal(acquired) {
		t.Errorf("AcquisitionTime = %v, want %v", h.AcquisitionTime, acquired)
	}
}

func TestExtract_Malformed(t *testing.T) {
	for _, typ := range faults.AllTypes() {
		if !typ.Malformed() {
			continue
		}
		t.Run(string(typ), func(t *testing.T) {
			dir := t.TempDir()
			spec := t2Spec()
			spec.Size[2] = 5
			spec.Faults = faults.Config{Types: []faults.Type{typ}}
			generate(t, dir, LayoutNested, StudySpec{PatientID: "P1", Series: []SeriesSpec{spec}})

			_, err := Extract(onlySeries(t, index(t, dir)), nil)
			if !failure.Is(err, failure.MalformedSeries) {
				t.Errorf("expected MalformedSeries, got %v", err)
			}
		})
	}
}

func TestExtract_NoInstances(t *testing.T) {
	_, err := Extract(&Series{UID: "1.2.3"}, nil)
	if !failure.Is(err, failure.MalformedSeries) {
		t.Errorf("expected MalformedSeries, got %v", err)
	}
}

func TestLoadVolume(t *testing.T) {
	for _, private := range []bool{false, true} {
		name := "plain"
		if private {
			name = "vendor private elements"
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			spec := t2Spec()
			spec.ShuffleFiles = true
			if private {
				spec.Faults = faults.Config{Types: []faults.Type{faults.VendorPrivate}}
			}
			generate(t, dir, LayoutFlat, StudySpec{PatientID: "P1", Scanner: skyra, Series: []SeriesSpec{spec}})

			h, err := Extract(onlySeries(t, index(t, dir)), nil)
			if err != nil {
				t.Fatalf("Extract() error: %v", err)
			}
			v, err := LoadVolume(h)
			if err != nil {
				t.Fatalf("LoadVolume() error: %v", err)
			}
			if err := v.Check(); err != nil {
				t.Fatal(err)
			}

			g := spec.Grid()
			for k := 0; k < g.Size[2]; k++ {
				for j := 0; j < g.Size[1]; j++ {
					for i := 0; i < g.Size[0]; i++ {
						want := float32(math.Round(spec.Intensity.At(g.Point(float64(i), float64(j), float64(k)))))
						if got := v.At(i, j, k); got != want {
							t.Fatalf("voxel (%d,%d,%d) = %v, want %v", i, j, k, got, want)
						}
					}
				}
			}
		})
	}
}

func TestLoadVolume_SliceCountMismatch(t *testing.T) {
	h := &Header{SeriesUID: "1.2.3", Grid: volume.Grid{Size: [3]int{2, 2, 3}}, Slices: []string{"a"}}
	if _, err := LoadVolume(h); !failure.Is(err, failure.MalformedSeries) {
		t.Errorf("expected MalformedSeries, got %v", err)
	}
}

func TestLoadVolume_UnreadableSlice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken")
	if err := os.WriteFile(path, []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	h := &Header{SeriesUID: "1.2.3", Grid: volume.Grid{Size: [3]int{2, 2, 1}}, Slices: []string{path}}
	if _, err := LoadVolume(h); !failure.Is(err, failure.MalformedSeries) {
		t.Errorf("expected MalformedSeries, got %v", err)
	}
}

func TestSignExtend(t *testing.T) {
	tests := []struct {
		v    int64
		bits int
		want int64
	}{
		{0x0FFF, 12, -1},
		{0x0800, 12, -2048},
		{0x07FF, 12, 2047},
		{0xFFFF, 16, -1},
		{-5, 16, -5},
		{42, 16, 42},
		{7, 0, 7},
	}
	for _, tt := range tests {
		if got := signExtend(tt.v, tt.bits); got != tt.want {
			t.Errorf("signExtend(%#x, %d) = %d, want %d", tt.v, tt.bits, got, tt.want)
		}
	}
}

func TestParseDateTime(t *testing.T) {
	tests := []struct {
		date, tm string
		want     time.Time
		ok       bool
	}{
		{"20240115", "083000", time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC), true},
		{"20240115", "083000.123456", time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC), true},
		{"20240115", "0830", time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC), true},
		{"20240115", "08:30:00", time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC), true},
		{"20240115083000.5+0100", "", time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC), true},
		{"20240115", "", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), true},
		{"", "083000", time.Time{}, false},
		{"not a date", "", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := parseDateTime(tt.date, tt.tm)
		if ok != tt.ok {
			t.Errorf("parseDateTime(%q, %q) ok = %v, want %v", tt.date, tt.tm, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("parseDateTime(%q, %q) = %v, want %v", tt.date, tt.tm, got, tt.want)
		}
	}
}

func TestParseLayout(t *testing.T) {
	for in, want := range map[string]Layout{"": LayoutNested, "nested": LayoutNested, "FLAT": LayoutFlat} {
		got, err := ParseLayout(in)
		if err != nil || got != want {
			t.Errorf("ParseLayout(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseLayout("tree"); err == nil {
		t.Error("expected error for unknown layout")
	}
}

func TestSampleStudies(t *testing.T) {
	studies := SampleStudies(SampleOptions{Patients: 3, DuplicateADC: true, OmitReference: true})
	if len(studies) != 3 {
		t.Fatalf("expected 3 studies, got %d", len(studies))
	}
	for i, st := range studies {
		want := 4
		if i == 2 {
			want = 3
		}
		if len(st.Series) != want {
			t.Errorf("study %d has %d series, want %d", i, len(st.Series), want)
		}
		for _, s := range st.Series {
			if err := s.Grid().Validate(); err != nil {
				t.Errorf("study %d series %s: %v", i, s.Description, err)
			}
		}
	}
	if studies[2].Series[0].Description == SampleT2Description {
		t.Error("last study should have no T2 series")
	}
	if studies[0].PatientID != "PT0001" || studies[2].PatientID != "PT0003" {
		t.Errorf("patient ids = %s, %s", studies[0].PatientID, studies[2].PatientID)
	}
	early := studies[0].Series[3]
	if early.Description != SampleADCDescription || !early.AcquisitionTime.Before(studies[0].StudyDate) {
		t.Errorf("duplicate ADC = %+v", early)
	}
}
