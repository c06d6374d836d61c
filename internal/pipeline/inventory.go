package pipeline

import (
	"context"

	"github.com/mrsinham/dicomprep/internal/config"
	"github.com/mrsinham/dicomprep/internal/dicom"
	"github.com/mrsinham/dicomprep/internal/failure"
	"github.com/mrsinham/dicomprep/internal/labelmap"
	"github.com/mrsinham/dicomprep/internal/output"
	"github.com/mrsinham/dicomprep/internal/volume"
)

// Inventory lists every indexed series with its label and native geometry.
// Headers are read but no pixel data is loaded and nothing is written.
func Inventory(ctx context.Context, idx *dicom.Index, labels *labelmap.Map, cfg *config.Config) ([]output.InventoryRow, error) {
	extra := cfg.ExtraTags()
	var rows []output.InventoryRow
	for st := range idx.Studies() {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		for _, s := range st.Series {
			row := output.InventoryRow{
				PatientID:         s.PatientID,
				StudyID:           s.StudyUID,
				StudyDate:         st.Date,
				SeriesID:          s.UID,
				SeriesNumber:      s.SeriesNumber,
				SeriesDescription: s.Description,
				SequenceLabel:     labelmap.Unmapped,
				NumDicomFiles:     len(s.Instances),
			}
			if label, ok := labels.Lookup(s.PatientID, s.Description); ok {
				row.SequenceLabel = label
				row.OutputTag, _ = cfg.OutputTag(label)
			}
			h, err := dicom.Extract(s, extra)
			if err != nil {
				row.Problem = failure.KindOf(err).String() + ": " + failure.Message(err)
				rows = append(rows, row)
				continue
			}
			row.NativeSize = output.FormatSize(h.Grid.Size)
			row.NativeSpacing = volume.FormatVector(h.Grid.Spacing)
			row.ScannerType = h.ScannerType
			row.Manufacturer = h.Manufacturer
			rows = append(rows, row)
		}
	}
	return rows, nil
}
