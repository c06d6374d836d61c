package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mrsinham/dicomprep/internal/dicom"
	"github.com/mrsinham/dicomprep/internal/output"
	"github.com/mrsinham/dicomprep/internal/pipeline"
)

var inventorySave string

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "List the series of the raw tree with their labels",
	Long: `Index the raw tree and read every series header without loading pixel
data. Each series is printed with the label the lookup table gives it
("unknown" when none) and any geometry problem. Use --save to keep the list as
CSV, or as a spreadsheet when the file name ends in .xlsx.`,
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

		rows, err := pipeline.Inventory(cmd.Context(), idx, labels, cfg)
		if err != nil {
			return err
		}
		fmt.Println(renderInventory(rows))
		fmt.Println(renderLabelCounts(rows))

		if inventorySave != "" {
			if err := output.WriteInventory(inventorySave, rows); err != nil {
				return err
			}
			fmt.Printf("Inventory saved to %s\n", inventorySave)
		}
		return nil
	},
}

func init() {
	addOverrideFlags(inventoryCmd)
	inventoryCmd.Flags().StringVar(&inventorySave, "save", "", "Write the inventory to a .csv or .xlsx file")
	rootCmd.AddCommand(inventoryCmd)
}
