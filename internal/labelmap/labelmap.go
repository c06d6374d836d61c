// Package labelmap resolves free-text series descriptions to canonical sequence
// labels using the lookup table maintained next to the raw data.
//
// A Map is built once, fully validated, and never modified afterwards, so it
// can be shared by every study worker without locking.
package labelmap

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/hashicorp/go-multierror"

	"github.com/mrsinham/dicomprep/internal/failure"
)

// Wildcard is the patient id of rows that apply to every patient. Blank patient
// ids are treated the same way.
const Wildcard = "*"

// Unmapped is the label reported for descriptions that match no row.
const Unmapped = "unknown"

// Row is one line of the lookup table.
type Row struct {
	PatientID   string `csv:"patient_id"`
	Description string `csv:"series_description"`
	Label       string `csv:"generic_sequence_label"`
	// Source locates the row in its file for error messages ("lookup.xlsx:12").
	Source string `csv:"-"`
}

type key struct {
	patient     string
	description string
}

type entry struct {
	label  string
	source string
}

// Map is the immutable lookup structure.
type Map struct {
	entries          map[key]entry
	spaceInsensitive bool
}

// Option configures Build.
type Option func(*Map)

// WithSpaceInsensitive makes matching ignore every whitespace character in
// descriptions ("T2 TSE AX" matches "T2TSEAX").
func WithSpaceInsensitive() Option {
	return func(m *Map) {
		m.spaceInsensitive = true
	}
}

// Build validates rows and returns the lookup map. Rows with an empty
// description or label carry no mapping and are ignored. Two rows for the same
// (patient, description) naming different labels make Build fail with an
// AmbiguousMapping error listing every conflict.
func Build(rows []Row, opts ...Option) (*Map, error) {
	m := &Map{entries: make(map[key]entry, len(rows))}
	for _, opt := range opts {
		opt(m)
	}

	var conflicts *multierror.Error
	for _, r := range rows {
		label := strings.TrimSpace(r.Label)
		desc := m.normalize(r.Description)
		if desc == "" || label == "" {
			continue
		}
		k := key{patient: normalizePatient(r.PatientID), description: desc}
		if prev, ok := m.entries[k]; ok {
			if prev.label != label {
				conflicts = multierror.Append(conflicts, fmt.Errorf(
					"patient %q description %q maps to both %q (%s) and %q (%s)",
					displayPatient(k.patient), strings.TrimSpace(r.Description), prev.label, prev.source, label, r.Source))
			}
			continue
		}
		m.entries[k] = entry{label: label, source: r.Source}
	}

	if err := conflicts.ErrorOrNil(); err != nil {
		return nil, failure.Wrap(failure.AmbiguousMapping, "lookup table", err)
	}
	return m, nil
}

// Lookup returns the label for a series description of a patient. Rows specific
// to patientID win over wildcard rows. The bool is false when the description
// is unmapped.
func (m *Map) Lookup(patientID, description string) (string, bool) {
	desc := m.normalize(description)
	if desc == "" {
		return "", false
	}
	if p := normalizePatient(patientID); p != Wildcard {
		if e, ok := m.entries[key{patient: p, description: desc}]; ok {
			return e.label, true
		}
	}
	if e, ok := m.entries[key{patient: Wildcard, description: desc}]; ok {
		return e.label, true
	}
	return "", false
}

// Len returns the number of distinct (patient, description) entries.
func (m *Map) Len() int {
	return len(m.entries)
}

// Labels returns the distinct labels present in the table, sorted.
func (m *Map) Labels() []string {
	seen := make(map[string]struct{})
	for _, e := range m.entries {
		seen[e.label] = struct{}{}
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

func (m *Map) normalize(description string) string {
	if !m.spaceInsensitive {
		return strings.TrimSpace(description)
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, description)
}

func normalizePatient(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return Wildcard
	}
	return id
}

func displayPatient(p string) string {
	if p == Wildcard {
		return "any"
	}
	return p
}
