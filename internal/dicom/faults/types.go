// Package faults injects the defects found in real MR exports into synthetic
// series, so the indexer and extractor can be exercised against them.
package faults

import (
	"fmt"
	"strings"
)

// Type names one kind of injected defect.
type Type string

const (
	// GarbageFile drops a non-DICOM file next to the series.
	GarbageFile Type = "garbage-file"
	// MissingSeriesUID writes one instance without SeriesInstanceUID.
	MissingSeriesUID Type = "missing-series-uid"
	// MismatchedRows gives one instance a different matrix size.
	MismatchedRows Type = "mismatched-rows"
	// TiltedSlice gives one instance a different orientation.
	TiltedSlice Type = "tilted-slice"
	// DuplicatePosition writes two instances at the same slice position.
	DuplicatePosition Type = "duplicate-position"
	// IrregularSpacing shifts one slice away from the regular step.
	IrregularSpacing Type = "irregular-spacing"
	// VendorPrivate adds vendor private elements (Siemens, GE, Philips).
	VendorPrivate Type = "vendor-private"
)

// AllTypes returns all valid fault types.
func AllTypes() []Type {
	return []Type{GarbageFile, MissingSeriesUID, MismatchedRows, TiltedSlice, DuplicatePosition, IrregularSpacing, VendorPrivate}
}

// Malformed reports whether the fault makes the series unusable.
func (t Type) Malformed() bool {
	switch t {
	case MismatchedRows, TiltedSlice, DuplicatePosition, IrregularSpacing:
		return true
	}
	return false
}

// Config holds the faults enabled for a series.
type Config struct {
	Types []Type
}

// ParseTypes parses comma-separated fault types.
// The special value "all" enables every type.
func ParseTypes(input string) ([]Type, error) {
	if input == "" {
		return nil, nil
	}

	valid := make(map[Type]bool)
	for _, t := range AllTypes() {
		valid[t] = true
	}

	parts := strings.Split(input, ",")
	result := make([]Type, 0, len(parts))
	seen := make(map[Type]bool)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "all" {
			return AllTypes(), nil
		}
		t := Type(p)
		if !valid[t] {
			return nil, fmt.Errorf("unknown fault type %q, valid types: %v (or 'all')", p, AllTypes())
		}
		if !seen[t] {
			result = append(result, t)
			seen[t] = true
		}
	}
	return result, nil
}

// Validate checks that every configured type is known.
func (c Config) Validate() error {
	valid := make(map[Type]bool)
	for _, t := range AllTypes() {
		valid[t] = true
	}
	for _, t := range c.Types {
		if !valid[t] {
			return fmt.Errorf("unknown fault type %q", t)
		}
	}
	return nil
}

// IsEnabled returns true if at least one fault is configured.
func (c Config) IsEnabled() bool {
	return len(c.Types) > 0
}

// HasType checks if a specific fault is enabled.
func (c Config) HasType(t Type) bool {
	for _, ct := range c.Types {
		if ct == t {
			return true
		}
	}
	return false
}
