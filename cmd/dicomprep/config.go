package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mrsinham/dicomprep/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the YAML configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [FILE]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "dicomprep.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
			return err
		}
		fmt.Printf("Default configuration written to %s\n", path)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and the lookup table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		labels, err := loadLabels(cfg)
		if err != nil {
			return err
		}
		var unused []string
		for _, l := range labels.Labels() {
			if _, ok := cfg.OutputTag(l); !ok {
				unused = append(unused, l)
			}
		}
		fmt.Println(panel("Configuration", [][2]string{
			{"Input", cfg.InputDir},
			{"Output", cfg.OutputDir},
			{"Lookup table", fmt.Sprintf("%s (%d entries)", cfg.LookupTable, labels.Len())},
			{"Labels", fmt.Sprint(cfg.Labels())},
			{"Reference", cfg.ReferenceSeries},
			{"Not processed", fmt.Sprint(unused)},
			{"Fingerprint", cfg.Fingerprint()},
		}))
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing file")
	addOverrideFlags(configCheckCmd)
	configCmd.AddCommand(configInitCmd, configCheckCmd)
	rootCmd.AddCommand(configCmd)
}
