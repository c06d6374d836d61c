package labelmap

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/360EntSecGroup-Skylar/excelize"
	"github.com/csimplestring/go-csv/detector"
	"github.com/extrame/xls"
	"github.com/gocarina/gocsv"
)

// LoadFile reads lookup rows from an .xlsx, .xls, .csv, .tsv or .txt file.
// sheet selects a worksheet in spreadsheet files; empty means the first one.
//
// The first row is a header. Columns are located by name (patient_id or
// "Patient ID", series_description or "Series Description",
// generic_sequence_label or "Generic Sequence Label"); when a name is not
// found the column position (0, 1, 2) is used instead.
func LoadFile(path, sheet string) ([]Row, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		records, err = readXLSX(path, sheet)
	case ".xls":
		records, err = readXLS(path, sheet)
	case ".csv", ".tsv", ".txt":
		records, err = readDelimited(path)
	default:
		return nil, fmt.Errorf("unsupported lookup table format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("read lookup table %s: %w", path, err)
	}
	return rowsFromRecords(filepath.Base(path), records)
}

// Load reads the lookup table at path and builds the Map.
func Load(path, sheet string, opts ...Option) (*Map, error) {
	rows, err := LoadFile(path, sheet)
	if err != nil {
		return nil, err
	}
	return Build(rows, opts...)
}

// Save writes rows as a CSV lookup table that LoadFile reads back.
func Save(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create lookup table: %w", err)
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write lookup table: %w", err)
	}
	return f.Close()
}

func readXLSX(path, sheet string) ([][]string, error) {
	xlsx, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}

	name := sheet
	if name == "" {
		sheets := xlsx.GetSheetMap()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		indexes := make([]int, 0, len(sheets))
		for i := range sheets {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		name = sheets[indexes[0]]
	}

	rows, err := xlsx.Rows(name)
	if err != nil {
		return nil, err
	}
	var records [][]string
	for rows.Next() {
		records = append(records, rows.Columns())
	}
	return records, nil
}

func readXLS(path, sheet string) ([][]string, error) {
	workbook, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, err
	}

	var ws *xls.WorkSheet
	for i := 0; i < workbook.NumSheets(); i++ {
		candidate := workbook.GetSheet(i)
		if candidate == nil {
			continue
		}
		if sheet == "" || candidate.Name == sheet {
			ws = candidate
			break
		}
	}
	if ws == nil {
		if sheet == "" {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		return nil, fmt.Errorf("sheet %q not found", sheet)
	}

	var records [][]string
	for rowID := 0; rowID <= int(ws.MaxRow); rowID++ {
		row := ws.Row(rowID)
		if row == nil {
			continue
		}
		cells := make([]string, 0, row.LastCol()+1)
		for colID := 0; colID <= row.LastCol(); colID++ {
			cells = append(cells, row.Col(colID))
		}
		records = append(records, cells)
	}
	return records, nil
}

func readDelimited(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = detectDelimiter(bytes.NewReader(data), filepath.Ext(path))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

// detectDelimiter only accepts the usual table separators; descriptions often
// contain spaces, which the detector may otherwise report. It falls back to tab
// for .tsv files and comma otherwise.
func detectDelimiter(r io.Reader, ext string) rune {
	d := detector.New()
	for _, candidate := range d.DetectDelimiter(r, '"') {
		if len(candidate) == 1 && strings.ContainsRune(",;\t|", rune(candidate[0])) {
			return rune(candidate[0])
		}
	}
	if strings.EqualFold(ext, ".tsv") {
		return '\t'
	}
	return ','
}

var columnNames = [3][]string{
	{"patientid", "patient"},
	{"seriesdescription", "description"},
	{"genericsequencelabel", "sequencelabel", "label"},
}

func rowsFromRecords(source string, records [][]string) ([]Row, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: lookup table is empty", source)
	}

	cols := [3]int{0, 1, 2}
	header := records[0]
	for field, names := range columnNames {
		if idx := findColumn(header, names); idx >= 0 {
			cols[field] = idx
		}
	}

	rows := make([]Row, 0, len(records)-1)
	for i, rec := range records[1:] {
		row := Row{
			PatientID:   cell(rec, cols[0]),
			Description: cell(rec, cols[1]),
			Label:       cell(rec, cols[2]),
			Source:      fmt.Sprintf("%s:%d", source, i+2),
		}
		if row.Description == "" && row.Label == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func findColumn(header []string, names []string) int {
	for i, h := range header {
		norm := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.TrimSpace(h)))
		for _, n := range names {
			if norm == n {
				return i
			}
		}
	}
	return -1
}

func cell(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}
