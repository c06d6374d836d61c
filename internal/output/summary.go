package output

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
)

// Outcome is the result of one study.
type Outcome string

const (
	// OutcomeFull means every configured label was written.
	OutcomeFull Outcome = "full"
	// OutcomePartial means the reference was written but some label is missing.
	OutcomePartial Outcome = "partial"
	// OutcomeSkipped means nothing was written for the study.
	OutcomeSkipped Outcome = "skipped"
)

// AllOutcomes returns the outcomes in report order.
func AllOutcomes() []Outcome {
	return []Outcome{OutcomeFull, OutcomePartial, OutcomeSkipped}
}

// Stats are the run counters reported in the summary.
type Stats struct {
	Studies map[Outcome]int
	Series  map[Status]int
	// Patients counts patients with at least one written series.
	Patients int
	// Labels counts written series per sequence label, LabelPatients the
	// patients having that label.
	Labels        map[string]int
	LabelPatients map[string]int
	Manufacturers map[string]int
	ScannerTypes  map[string]int
	BytesWritten  int64
	Files         int
}

func newStats() Stats {
	return Stats{
		Studies:       make(map[Outcome]int),
		Series:        make(map[Status]int),
		Labels:        make(map[string]int),
		LabelPatients: make(map[string]int),
		Manufacturers: make(map[string]int),
		ScannerTypes:  make(map[string]int),
	}
}

func (s Stats) clone() Stats {
	c := s
	c.Studies = maps.Clone(s.Studies)
	c.Series = maps.Clone(s.Series)
	c.Labels = maps.Clone(s.Labels)
	c.LabelPatients = maps.Clone(s.LabelPatients)
	c.Manufacturers = maps.Clone(s.Manufacturers)
	c.ScannerTypes = maps.Clone(s.ScannerTypes)
	return c
}

func (s *Stats) addRecords(records []Record) {
	patients := make(map[string]bool)
	labelPatients := make(map[string]map[string]bool)
	for _, r := range records {
		patients[r.PatientID] = true
		s.Labels[r.SequenceLabel]++
		if labelPatients[r.SequenceLabel] == nil {
			labelPatients[r.SequenceLabel] = make(map[string]bool)
		}
		labelPatients[r.SequenceLabel][r.PatientID] = true
		s.Manufacturers[orUnknown(r.Manufacturer)]++
		s.ScannerTypes[orUnknown(r.ScannerType)]++
	}
	s.Patients = len(patients)
	for label, set := range labelPatients {
		s.LabelPatients[label] = len(set)
	}
}

// NumStudies returns the number of studies processed.
func (s Stats) NumStudies() int {
	n := 0
	for _, c := range s.Studies {
		n += c
	}
	return n
}

// LogAttrs returns the counters as slog attributes.
func (s Stats) LogAttrs() []any {
	attrs := []any{"studies", s.NumStudies()}
	for _, o := range AllOutcomes() {
		attrs = append(attrs, "studies_"+string(o), s.Studies[o])
	}
	for _, st := range AllStatuses() {
		attrs = append(attrs, "series_"+strings.ReplaceAll(string(st), "-", "_"), s.Series[st])
	}
	return append(attrs, "patients", s.Patients, "files", s.Files, "bytes", s.BytesWritten)
}

// Report renders the summary written to processing_summary.txt.
func (s Stats) Report() string {
	var b strings.Builder
	fmt.Fprintln(&b, "Processing summary")
	fmt.Fprintln(&b, "==================")
	fmt.Fprintf(&b, "Studies: %d\n", s.NumStudies())
	for _, o := range AllOutcomes() {
		fmt.Fprintf(&b, "  %s: %d\n", o, s.Studies[o])
	}
	fmt.Fprintln(&b, "Series:")
	for _, st := range AllStatuses() {
		fmt.Fprintf(&b, "  %s: %d\n", st, s.Series[st])
	}
	fmt.Fprintf(&b, "Unique patients: %d\n", s.Patients)
	fmt.Fprintf(&b, "Images written: %d (%s)\n", s.Files, humanize.Bytes(uint64(s.BytesWritten)))

	writeCounts(&b, "Sequence labels", s.Labels, func(label string) string {
		return fmt.Sprintf(" (%d patients)", s.LabelPatients[label])
	})
	writeCounts(&b, "Scanner types", s.ScannerTypes, nil)
	writeCounts(&b, "Scanner manufacturers", s.Manufacturers, nil)
	return b.String()
}

func writeCounts(b *strings.Builder, title string, counts map[string]int, suffix func(string) string) {
	fmt.Fprintf(b, "\n%s:\n", title)
	if len(counts) == 0 {
		fmt.Fprintln(b, "  none")
		return
	}
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		extra := ""
		if suffix != nil {
			extra = suffix(k)
		}
		fmt.Fprintf(b, "  %s: %d%s\n", k, counts[k], extra)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
