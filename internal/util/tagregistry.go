// Package util provides helpers shared by the indexer, the metadata extractor
// and the synthetic study generator.
package util

import (
	"fmt"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// TagScope represents the DICOM hierarchy level at which a tag is expected to
// be constant.
type TagScope int

const (
	// ScopePatient indicates tags constant for a patient.
	ScopePatient TagScope = iota
	// ScopeStudy indicates tags constant within a study.
	ScopeStudy
	// ScopeSeries indicates tags constant within a series.
	ScopeSeries
	// ScopeImage indicates tags that can vary per instance.
	ScopeImage
)

// String returns the string representation of a TagScope.
func (s TagScope) String() string {
	switch s {
	case ScopePatient:
		return "Patient"
	case ScopeStudy:
		return "Study"
	case ScopeSeries:
		return "Series"
	case ScopeImage:
		return "Image"
	default:
		return "Unknown"
	}
}

// TagInfo describes a header field that can be copied into the metadata table.
type TagInfo struct {
	Name  string
	Tag   tag.Tag
	Scope TagScope
}

// tagRegistry maps lowercase field names to their TagInfo.
var tagRegistry = map[string]TagInfo{
	"patientsex":       {Name: "PatientSex", Tag: tag.PatientSex, Scope: ScopePatient},
	"patientage":       {Name: "PatientAge", Tag: tag.PatientAge, Scope: ScopePatient},
	"patientbirthdate": {Name: "PatientBirthDate", Tag: tag.PatientBirthDate, Scope: ScopePatient},

	"studydescription": {Name: "StudyDescription", Tag: tag.StudyDescription, Scope: ScopeStudy},
	"studydate":        {Name: "StudyDate", Tag: tag.StudyDate, Scope: ScopeStudy},
	"accessionnumber":  {Name: "AccessionNumber", Tag: tag.AccessionNumber, Scope: ScopeStudy},
	"institutionname":  {Name: "InstitutionName", Tag: tag.InstitutionName, Scope: ScopeStudy},
	"stationname":      {Name: "StationName", Tag: tag.StationName, Scope: ScopeStudy},

	"protocolname":          {Name: "ProtocolName", Tag: tag.ProtocolName, Scope: ScopeSeries},
	"sequencename":          {Name: "SequenceName", Tag: tag.SequenceName, Scope: ScopeSeries},
	"bodypartexamined":      {Name: "BodyPartExamined", Tag: tag.BodyPartExamined, Scope: ScopeSeries},
	"manufacturer":          {Name: "Manufacturer", Tag: tag.Manufacturer, Scope: ScopeSeries},
	"manufacturermodelname": {Name: "ManufacturerModelName", Tag: tag.ManufacturerModelName, Scope: ScopeSeries},
	"softwareversions":      {Name: "SoftwareVersions", Tag: tag.SoftwareVersions, Scope: ScopeSeries},
	"magneticfieldstrength": {Name: "MagneticFieldStrength", Tag: tag.MagneticFieldStrength, Scope: ScopeSeries},
	"imagingfrequency":      {Name: "ImagingFrequency", Tag: tag.ImagingFrequency, Scope: ScopeSeries},
	"echotime":              {Name: "EchoTime", Tag: tag.EchoTime, Scope: ScopeSeries},
	"repetitiontime":        {Name: "RepetitionTime", Tag: tag.RepetitionTime, Scope: ScopeSeries},
	"flipangle":             {Name: "FlipAngle", Tag: tag.FlipAngle, Scope: ScopeSeries},
	"slicethickness":        {Name: "SliceThickness", Tag: tag.SliceThickness, Scope: ScopeSeries},
	"spacingbetweenslices":  {Name: "SpacingBetweenSlices", Tag: tag.SpacingBetweenSlices, Scope: ScopeSeries},
	"scanningsequence":      {Name: "ScanningSequence", Tag: tag.ScanningSequence, Scope: ScopeSeries},

	"windowcenter": {Name: "WindowCenter", Tag: tag.WindowCenter, Scope: ScopeImage},
	"windowwidth":  {Name: "WindowWidth", Tag: tag.WindowWidth, Scope: ScopeImage},
}

// GetTagByName returns TagInfo for a given field name.
// The lookup is case-insensitive. If the name is not found, the error carries
// the closest known name (Levenshtein distance) as a suggestion.
func GetTagByName(name string) (TagInfo, error) {
	normalizedName := strings.ToLower(strings.TrimSpace(name))

	if info, ok := tagRegistry[normalizedName]; ok {
		return info, nil
	}

	suggestion := findClosestTagName(normalizedName)
	if suggestion != "" {
		return TagInfo{}, fmt.Errorf("unknown tag %q, did you mean %q?", name, suggestion)
	}

	return TagInfo{}, fmt.Errorf("unknown tag %q", name)
}

// ResolveTags resolves every name, returning the first unknown one as an error.
func ResolveTags(names []string) ([]TagInfo, error) {
	infos := make([]TagInfo, 0, len(names))
	for _, n := range names {
		info, err := GetTagByName(n)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// KnownTagNames returns the canonical names of every registered field, sorted.
func KnownTagNames() []string {
	names := make([]string, 0, len(tagRegistry))
	for _, info := range tagRegistry {
		names = append(names, info.Name)
	}
	sort.Strings(names)
	return names
}

// findClosestTagName returns "" when nothing is within distance 5.
func findClosestTagName(input string) string {
	const maxDistance = 5
	bestDistance := maxDistance + 1
	var bestMatch string

	// Iterate in sorted order so ties resolve the same way every time.
	keys := make([]string, 0, len(tagRegistry))
	for key := range tagRegistry {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		distance := levenshteinDistance(input, key)
		if distance < bestDistance {
			bestDistance = distance
			bestMatch = tagRegistry[key].Name
		}
	}

	if bestDistance <= maxDistance {
		return bestMatch
	}
	return ""
}

func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
