package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrsinham/dicomprep/internal/output"
	"github.com/mrsinham/dicomprep/internal/volume"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE...",
	Short: "Print the geometry of .mha or .nii volumes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			v, err := volume.ReadFile(path)
			if err != nil {
				return err
			}
			g := v.Grid
			mean, std := output.Intensity(v)
			fmt.Println(panel(path, [][2]string{
				{"Size", output.FormatSize(g.Size)},
				{"Spacing", volume.FormatVector(g.Spacing)},
				{"Origin", volume.FormatVector(g.Origin)},
				{"Direction", fmt.Sprintf("%s | %s | %s",
					volume.FormatVector(g.Axis(0)), volume.FormatVector(g.Axis(1)), volume.FormatVector(g.Axis(2)))},
				{"Intensity", fmt.Sprintf("mean %.4g, std %.4g", mean, std)},
			}))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
