// Package config holds the run configuration: where the raw tree and the lookup
// table live, which sequence labels to keep, the reference label and the
// resampling and output options. A Config is loaded once and passed by pointer
// to every component; nothing mutates it after Validate.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/hashstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/mrsinham/dicomprep/internal/util"
)

// Config represents the run configuration loaded from YAML.
type Config struct {
	// InputDir is the root of the raw DICOM tree.
	InputDir string `yaml:"input_dir"`
	// OutputDir receives processed/, the metadata table, the log and the summary.
	OutputDir string `yaml:"output_dir"`

	// LookupTable is the .xlsx, .xls, .csv or .tsv file mapping descriptions to labels.
	LookupTable string `yaml:"lookup_table"`
	// LookupSheet selects a worksheet; empty means the first one.
	LookupSheet string `yaml:"lookup_sheet,omitempty"`
	// IgnoreDescriptionSpaces removes all whitespace from descriptions before matching.
	IgnoreDescriptionSpaces bool `yaml:"ignore_description_spaces"`

	// SeriesToProcess maps canonical labels to output tags (t2_axial: T2).
	SeriesToProcess map[string]string `yaml:"series_to_process"`
	// ReferenceSeries is the label whose grid every other series is resampled onto.
	ReferenceSeries string `yaml:"reference_series"`
	// DuplicatePolicy picks one series when several map to the same label.
	DuplicatePolicy DuplicatePolicy `yaml:"duplicate_policy"`

	OutputFormat OutputFormat `yaml:"output_format"`
	FillValue    float64      `yaml:"fill_value"`
	// Workers is the number of studies processed concurrently (0 = CPU cores).
	Workers int `yaml:"workers"`

	// ExtraFields are header fields copied into the metadata table.
	ExtraFields []string `yaml:"extra_fields,omitempty"`
	// Exclude holds doublestar globs, relative to InputDir, of files to skip.
	Exclude []string `yaml:"exclude,omitempty"`
}

// DefaultConfig returns a configuration matching the three-sequence prostate
// MR layout the tool was first written for.
func DefaultConfig() *Config {
	return &Config{
		InputDir:    "data/raw",
		OutputDir:   "data",
		LookupTable: "series_descriptions.xlsx",
		SeriesToProcess: map[string]string{
			"t2_axial":        "T2",
			"dwi_b1400_axial": "DWI",
			"adc_axial":       "ADC",
		},
		ReferenceSeries: "t2_axial",
		DuplicatePolicy: Latest,
		OutputFormat:    MetaImage,
		FillValue:       0,
		Workers:         0,
		Exclude:         []string{"**/DICOMDIR"},
	}
}

// LoadConfig loads configuration from a YAML file on top of DefaultConfig.
// Relative paths in the file are resolved against the file's directory.
// The result is validated.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	// A file that lists its own labels replaces the defaults instead of merging.
	cfg.SeriesToProcess = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if cfg.SeriesToProcess == nil {
		cfg.SeriesToProcess = DefaultConfig().SeriesToProcess
	}

	base := filepath.Dir(configPath)
	cfg.InputDir = resolvePath(base, cfg.InputDir)
	cfg.OutputDir = resolvePath(base, cfg.OutputDir)
	cfg.LookupTable = resolvePath(base, cfg.LookupTable)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to configPath as YAML, creating parent directories.
func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if len(c.SeriesToProcess) == 0 {
		errs = multierror.Append(errs, errors.New("series_to_process must list at least one label"))
	}

	seenTags := make(map[string]string, len(c.SeriesToProcess))
	for _, label := range c.Labels() {
		outTag := c.SeriesToProcess[label]
		switch {
		case strings.TrimSpace(label) == "":
			errs = multierror.Append(errs, errors.New("series_to_process has an empty label"))
		case outTag == "":
			errs = multierror.Append(errs, fmt.Errorf("series_to_process[%s] has an empty output tag", label))
		case !isFilenameSafe(outTag):
			errs = multierror.Append(errs, fmt.Errorf("output tag %q for %s must only contain letters, digits, '-' or '_'", outTag, label))
		}
		if other, dup := seenTags[outTag]; dup && outTag != "" {
			errs = multierror.Append(errs, fmt.Errorf("output tag %q is used by both %s and %s", outTag, other, label))
		}
		seenTags[outTag] = label
	}

	if c.ReferenceSeries == "" {
		errs = multierror.Append(errs, errors.New("reference_series is required"))
	} else if _, ok := c.SeriesToProcess[c.ReferenceSeries]; !ok {
		errs = multierror.Append(errs, fmt.Errorf("reference_series %q is not a key of series_to_process", c.ReferenceSeries))
	}

	if _, err := ParseDuplicatePolicy(string(c.DuplicatePolicy)); err != nil {
		errs = multierror.Append(errs, err)
	}
	if _, err := ParseOutputFormat(string(c.OutputFormat)); err != nil {
		errs = multierror.Append(errs, err)
	}
	if c.Workers < 0 {
		errs = multierror.Append(errs, fmt.Errorf("workers must be >= 0, got %d", c.Workers))
	}
	if _, err := util.ResolveTags(c.ExtraFields); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("extra_fields: %w", err))
	}
	for _, pattern := range c.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			errs = multierror.Append(errs, fmt.Errorf("exclude pattern %q is not a valid glob", pattern))
		}
	}

	return errs.ErrorOrNil()
}

// Labels returns the configured canonical labels in sorted order.
func (c *Config) Labels() []string {
	labels := make([]string, 0, len(c.SeriesToProcess))
	for label := range c.SeriesToProcess {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// OutputTag returns the output tag for label and whether label is configured.
func (c *Config) OutputTag(label string) (string, bool) {
	t, ok := c.SeriesToProcess[label]
	return t, ok
}

// ExtraTags resolves ExtraFields. It cannot fail on a validated config.
func (c *Config) ExtraTags() []util.TagInfo {
	infos, err := util.ResolveTags(c.ExtraFields)
	if err != nil {
		return nil
	}
	return infos
}

// Fingerprint hashes the settings that influence the produced files, so two
// log headers with the same fingerprint come from equivalent runs.
func (c *Config) Fingerprint() string {
	h, err := hashstructure.Hash(c, hashstructure.FormatV2, nil)
	if err != nil {
		return "unknown"
	}
	return fmt.Sprintf("%016x", h)
}

func isFilenameSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return s != ""
}
