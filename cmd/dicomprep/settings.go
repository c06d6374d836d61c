package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mrsinham/dicomprep/internal/config"
	"github.com/mrsinham/dicomprep/internal/labelmap"
)

// envPrefix prefixes the environment variables that override the config file,
// e.g. DICOMPREP_INPUT_DIR.
const envPrefix = "DICOMPREP"

// overrides maps config keys to the flag that sets them.
var overrides = []struct {
	key, flag, usage string
}{
	{"input_dir", "input", "Raw DICOM tree (overrides input_dir)"},
	{"output_dir", "output", "Output root (overrides output_dir)"},
	{"lookup_table", "lookup", "Series description lookup table (overrides lookup_table)"},
	{"workers", "workers", "Studies processed in parallel, 0 = CPU cores (overrides workers)"},
	{"output_format", "format", "Volume format: mha or nii (overrides output_format)"},
}

// addOverrideFlags registers the flags that take precedence over the config
// file.
func addOverrideFlags(cmd *cobra.Command) {
	for _, o := range overrides {
		if o.key == "workers" {
			cmd.Flags().Int(o.flag, 0, o.usage)
			continue
		}
		cmd.Flags().String(o.flag, "", o.usage)
	}
}

// loadConfig builds the run configuration: defaults or the --config file,
// then DICOMPREP_* environment variables, then flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, o := range overrides {
		if f := cmd.Flags().Lookup(o.flag); f != nil {
			if err := v.BindPFlag(o.key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", o.flag, err)
			}
		}
	}

	if v.IsSet("input_dir") {
		cfg.InputDir = v.GetString("input_dir")
	}
	if v.IsSet("output_dir") {
		cfg.OutputDir = v.GetString("output_dir")
	}
	if v.IsSet("lookup_table") {
		cfg.LookupTable = v.GetString("lookup_table")
	}
	if v.IsSet("workers") {
		cfg.Workers = v.GetInt("workers")
	}
	if v.IsSet("output_format") {
		format, err := config.ParseOutputFormat(v.GetString("output_format"))
		if err != nil {
			return nil, err
		}
		cfg.OutputFormat = format
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	slog.Debug("configuration loaded",
		"config", configPath,
		"input_dir", cfg.InputDir,
		"output_dir", cfg.OutputDir,
		"lookup_table", cfg.LookupTable,
		"fingerprint", cfg.Fingerprint(),
	)
	return cfg, nil
}

// loadLabels reads the lookup table named by cfg.
func loadLabels(cfg *config.Config) (*labelmap.Map, error) {
	var opts []labelmap.Option
	if cfg.IgnoreDescriptionSpaces {
		opts = append(opts, labelmap.WithSpaceInsensitive())
	}
	labels, err := labelmap.Load(cfg.LookupTable, cfg.LookupSheet, opts...)
	if err != nil {
		return nil, err
	}
	slog.Debug("lookup table loaded", "path", cfg.LookupTable, "entries", labels.Len(), "labels", labels.Labels())
	return labels, nil
}
