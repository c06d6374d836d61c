// Package output lays out the processed dataset: one image file per study and
// sequence label, the aggregated metadata table, the processing log and the
// run summary.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mrsinham/dicomprep/internal/config"
	"github.com/mrsinham/dicomprep/internal/failure"
	"github.com/mrsinham/dicomprep/internal/volume"
)

// File and directory names under the output root.
const (
	ProcessedDir = "processed"
	MetadataFile = "series_metadata.csv"
	LogFile      = "processing_log.txt"
	SummaryFile  = "processing_summary.txt"
)

// SeriesEvent is one line of the processing log.
type SeriesEvent struct {
	PatientID    string
	StudyUID     string
	SeriesUID    string
	SeriesNumber int
	Description  string
	Label        string
	Status       Status
	// Reason explains skipped and discarded series.
	Reason string
	// Err is set for failed series; its failure kind is logged.
	Err error
}

// StudyEvent closes the log lines of one study.
type StudyEvent struct {
	PatientID string
	StudyUID  string
	Outcome   Outcome
	Written   int
	Err       error
}

// Writer owns everything written under the output root. WriteVolume may be
// called from several goroutines; the logging and record methods must be
// called from a single goroutine.
type Writer struct {
	root    string
	format  config.OutputFormat
	logFile *os.File
	log     *slog.Logger
	records []Record
	stats   Stats
}

// NewWriter creates the output root and opens the processing log, truncating
// a previous one.
func NewWriter(root string, format config.OutputFormat) (*Writer, error) {
	if err := os.MkdirAll(filepath.Join(root, ProcessedDir), 0755); err != nil {
		return nil, failure.Wrap(failure.UnreadableInput, root, fmt.Errorf("create output directory: %w", err))
	}
	f, err := os.Create(filepath.Join(root, LogFile))
	if err != nil {
		return nil, fmt.Errorf("create processing log: %w", err)
	}
	if format == "" {
		format = config.MetaImage
	}
	return &Writer{
		root:    root,
		format:  format,
		logFile: f,
		log:     slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})),
		stats:   newStats(),
	}, nil
}

// ImagePath returns the path, relative to the root, of the image for a
// study and output tag.
func (w *Writer) ImagePath(patientID, studyUID, tag string) string {
	return filepath.Join(ProcessedDir, Sanitize(patientID), Sanitize(studyUID),
		"image_"+Sanitize(tag)+"."+w.format.Extension())
}

// WriteVolume writes v for a study and output tag and returns the relative
// path and the number of bytes written.
func (w *Writer) WriteVolume(patientID, studyUID, tag string, v *volume.Volume) (string, int64, error) {
	rel := w.ImagePath(patientID, studyUID, tag)
	n, err := volume.WriteFile(filepath.Join(w.root, rel), v)
	if err != nil {
		return "", 0, err
	}
	return rel, n, nil
}

// LogRunStart writes the run header.
func (w *Writer) LogRunStart(runID, fingerprint string, attrs ...any) {
	w.log.Info("run started", append([]any{"run_id", runID, "config_fingerprint", fingerprint}, attrs...)...)
}

// LogWarning records a non fatal problem found outside a study (index
// warnings, unreadable files).
func (w *Writer) LogWarning(msg string, attrs ...any) {
	w.log.Warn(msg, attrs...)
}

// LogSeries records the fate of one series.
func (w *Writer) LogSeries(e SeriesEvent) {
	attrs := []any{
		"status", string(e.Status),
		"patient_id", e.PatientID,
		"study_id", e.StudyUID,
		"series_id", e.SeriesUID,
		"series_number", e.SeriesNumber,
		"description", e.Description,
	}
	if e.Label != "" {
		attrs = append(attrs, "label", e.Label)
	}
	if e.Reason != "" {
		attrs = append(attrs, "reason", e.Reason)
	}
	level := slog.LevelInfo
	if e.Err != nil {
		attrs = append(attrs, "kind", failure.KindOf(e.Err).String(), "error", failure.Message(e.Err))
		level = slog.LevelError
	} else if e.Status == StatusSkipped || e.Status == StatusDuplicate || e.Status == StatusUnmapped {
		level = slog.LevelWarn
	}
	w.log.Log(context.Background(), level, "series", attrs...)
	w.stats.Series[e.Status]++
}

// LogStudy records the outcome of one study.
func (w *Writer) LogStudy(e StudyEvent) {
	attrs := []any{
		"outcome", string(e.Outcome),
		"patient_id", e.PatientID,
		"study_id", e.StudyUID,
		"written", e.Written,
	}
	if e.Err != nil {
		attrs = append(attrs, "kind", failure.KindOf(e.Err).String(), "error", failure.Message(e.Err))
		w.log.Error("study", attrs...)
	} else {
		w.log.Info("study", attrs...)
	}
	w.stats.Studies[e.Outcome]++
}

// AddRecord appends a metadata row and counts the bytes written for it.
func (w *Writer) AddRecord(r Record, bytes int64) {
	w.records = append(w.records, r)
	w.stats.BytesWritten += bytes
	w.stats.Files++
}

// Records returns the rows added so far, in table order.
func (w *Writer) Records() []Record {
	out := append([]Record(nil), w.records...)
	SortRecords(out)
	return out
}

// Stats returns the counters for the records and events seen so far.
func (w *Writer) Stats() Stats {
	s := w.stats.clone()
	s.addRecords(w.records)
	return s
}

// Commit writes the metadata table and the summary, logs the final counters
// and closes the log. It must be called once, after every study is done.
func (w *Writer) Commit() (Stats, error) {
	records := w.Records()
	if err := WriteRecords(filepath.Join(w.root, MetadataFile), records); err != nil {
		return Stats{}, err
	}

	stats := w.Stats()
	if err := os.WriteFile(filepath.Join(w.root, SummaryFile), []byte(stats.Report()), 0644); err != nil {
		return Stats{}, fmt.Errorf("write summary: %w", err)
	}

	w.log.Info("run finished", stats.LogAttrs()...)
	return stats, w.Close()
}

// Close closes the processing log.
func (w *Writer) Close() error {
	if w.logFile == nil {
		return nil
	}
	err := w.logFile.Close()
	w.logFile = nil
	return err
}

// Sanitize makes s safe as a single path component. '%', path separators,
// ':' and ASCII control bytes are written as %XX, and "", "." and ".." map
// to "%", "%2E" and "%2E%2E". Distinct inputs never share an output.
func Sanitize(s string) string {
	switch s {
	case "":
		return "%"
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '%', c == '/', c == '\\', c == ':', c < 0x20, c == 0x7f:
			fmt.Fprintf(&b, "%%%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
