package config

import (
	"fmt"
	"strings"
)

// DuplicatePolicy decides which series wins when several map to one label.
// Every policy falls back to the lexicographically smallest series UID.
type DuplicatePolicy string

const (
	// Latest keeps the most recent acquisition.
	Latest DuplicatePolicy = "latest"
	// MostInstances keeps the series with the most slices.
	MostInstances DuplicatePolicy = "most_instances"
	// LowestSeriesNumber keeps the series acquired first in the session.
	LowestSeriesNumber DuplicatePolicy = "lowest_series_number"
)

// AllDuplicatePolicies returns all valid duplicate policies.
func AllDuplicatePolicies() []DuplicatePolicy {
	return []DuplicatePolicy{Latest, MostInstances, LowestSeriesNumber}
}

// ParseDuplicatePolicy parses a policy name. Empty means Latest.
func ParseDuplicatePolicy(input string) (DuplicatePolicy, error) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return Latest, nil
	}
	for _, p := range AllDuplicatePolicies() {
		if string(p) == input {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown duplicate policy %q, valid policies: %v", input, AllDuplicatePolicies())
}

// OutputFormat is the on-disk volume format.
type OutputFormat string

const (
	// MetaImage writes .mha files (header and voxels in one file).
	MetaImage OutputFormat = "mha"
	// NIfTI writes single-file .nii volumes.
	NIfTI OutputFormat = "nii"
)

// AllOutputFormats returns all valid output formats.
func AllOutputFormats() []OutputFormat {
	return []OutputFormat{MetaImage, NIfTI}
}

// ParseOutputFormat parses a format name. Empty means MetaImage.
func ParseOutputFormat(input string) (OutputFormat, error) {
	input = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(input), "."))
	if input == "" {
		return MetaImage, nil
	}
	for _, f := range AllOutputFormats() {
		if string(f) == input {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q, valid formats: %v", input, AllOutputFormats())
}

// Extension returns the file extension without the dot.
func (f OutputFormat) Extension() string {
	if f == "" {
		return string(MetaImage)
	}
	return string(f)
}

// Policy returns the configured duplicate policy, Latest when unset.
func (c *Config) Policy() DuplicatePolicy {
	p, err := ParseDuplicatePolicy(string(c.DuplicatePolicy))
	if err != nil {
		return Latest
	}
	return p
}

// Format returns the configured output format, MetaImage when unset.
func (c *Config) Format() OutputFormat {
	f, err := ParseOutputFormat(string(c.OutputFormat))
	if err != nil {
		return MetaImage
	}
	return f
}
