package output

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/360EntSecGroup-Skylar/excelize"
	"github.com/gocarina/gocsv"
)

// InventorySheet is the worksheet written by WriteInventory for .xlsx files.
const InventorySheet = "Sheet1"

// InventoryRow describes one indexed series without any volume being written.
type InventoryRow struct {
	PatientID         string `csv:"patient_id"`
	StudyID           string `csv:"study_id"`
	StudyDate         string `csv:"study_date"`
	SeriesID          string `csv:"series_id"`
	SeriesNumber      int    `csv:"series_number"`
	SeriesDescription string `csv:"series_description"`
	SequenceLabel     string `csv:"sequence_label"`
	OutputTag         string `csv:"output_tag"`
	NumDicomFiles     int    `csv:"num_dicom_files"`
	NativeSize        string `csv:"native_size"`
	NativeSpacing     string `csv:"native_spacing"`
	ScannerType       string `csv:"scanner_type"`
	Manufacturer      string `csv:"manufacturer"`
	Problem           string `csv:"problem"`
}

// WriteInventory saves rows as CSV, or as a spreadsheet when path ends in
// .xlsx.
func WriteInventory(path string, rows []InventoryRow) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return writeInventoryXLSX(path, rows)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create inventory: %w", err)
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write inventory: %w", err)
	}
	return f.Close()
}

func writeInventoryXLSX(path string, rows []InventoryRow) error {
	xlsx := excelize.NewFile()
	t := reflect.TypeOf(InventoryRow{})
	for c := 0; c < t.NumField(); c++ {
		xlsx.SetCellValue(InventorySheet, cellName(c, 1), t.Field(c).Tag.Get("csv"))
	}
	for r, row := range rows {
		v := reflect.ValueOf(row)
		for c := 0; c < v.NumField(); c++ {
			xlsx.SetCellValue(InventorySheet, cellName(c, r+2), v.Field(c).Interface())
		}
	}
	if err := xlsx.SaveAs(path); err != nil {
		return fmt.Errorf("write inventory: %w", err)
	}
	return nil
}

// cellName returns the spreadsheet address of a 0-based column and 1-based row.
func cellName(col, row int) string {
	name := ""
	for col++; col > 0; col = (col - 1) / 26 {
		name = string(rune('A'+(col-1)%26)) + name
	}
	return fmt.Sprintf("%s%d", name, row)
}
