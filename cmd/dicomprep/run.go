package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mrsinham/dicomprep/internal/dicom"
	"github.com/mrsinham/dicomprep/internal/output"
	"github.com/mrsinham/dicomprep/internal/pipeline"
)

var runQuiet bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the raw tree into the normalized dataset",
	Long: `Index the raw DICOM tree, map series descriptions to labels, resample every
configured series onto the reference series grid and write the volumes,
series_metadata.csv, processing_log.txt and processing_summary.txt under the
output directory.

Settings come from --config (or the built-in defaults), then from DICOMPREP_*
environment variables, then from the flags below.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		labels, err := loadLabels(cfg)
		if err != nil {
			return err
		}

		idx, err := dicom.NewIndexer(cfg.InputDir,
			dicom.WithExclude(cfg.Exclude),
			dicom.WithIndexWorkers(cfg.Workers),
			dicom.WithIndexLogger(slog.Default()),
		).Index(cmd.Context())
		if err != nil {
			return err
		}
		if !runQuiet {
			fmt.Printf("Indexed %d files: %d studies, %d series\n", idx.NumFiles, idx.Len(), idx.NumSeries())
		}

		w, err := output.NewWriter(cfg.OutputDir, cfg.Format())
		if err != nil {
			return err
		}
		defer func() { _ = w.Close() }()

		p := pipeline.New(cfg, labels, w,
			pipeline.WithLogger(slog.Default()),
			pipeline.WithQuiet(runQuiet),
		)
		summary, err := p.Run(cmd.Context(), idx)
		if !runQuiet || err != nil {
			fmt.Println()
			fmt.Println(renderRunSummary(summary, cfg.OutputDir))
		}
		return err
	},
}

func init() {
	addOverrideFlags(runCmd)
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.AddCommand(runCmd)
}
