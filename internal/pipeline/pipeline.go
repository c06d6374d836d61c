// Package pipeline turns an indexed raw tree into the processed dataset: one
// study at a time it maps series to labels, picks the reference series,
// resamples every other accepted series onto the reference grid and hands the
// volumes and metadata rows to the output writer.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mrsinham/dicomprep/internal/config"
	"github.com/mrsinham/dicomprep/internal/dicom"
	"github.com/mrsinham/dicomprep/internal/labelmap"
	"github.com/mrsinham/dicomprep/internal/output"
	"github.com/mrsinham/dicomprep/internal/resample"
	"github.com/mrsinham/dicomprep/internal/util"
	"github.com/mrsinham/dicomprep/internal/volume"
)

const (
	reasonNotInTable      = "description not in lookup table"
	reasonNotConfigured   = "label not configured for processing"
	reasonNoReference     = "no reference series"
	reasonReferenceFailed = "reference series failed"
)

// Pipeline processes the studies of an index with a bounded pool of workers.
type Pipeline struct {
	cfg    *config.Config
	labels *labelmap.Map
	out    *output.Writer
	extra  []util.TagInfo

	logger   *slog.Logger
	runID    string
	quiet    bool
	progress func(current, total int)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for process diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRunID overrides the generated run id written in the log header.
func WithRunID(id string) Option {
	return func(p *Pipeline) {
		p.runID = id
	}
}

// WithQuiet suppresses progress output on stdout.
func WithQuiet(quiet bool) Option {
	return func(p *Pipeline) {
		p.quiet = quiet
	}
}

// WithProgress registers a callback invoked after each study.
func WithProgress(fn func(current, total int)) Option {
	return func(p *Pipeline) {
		p.progress = fn
	}
}

// New returns a pipeline. cfg must be validated and is not modified.
func New(cfg *config.Config, labels *labelmap.Map, w *output.Writer, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		labels: labels,
		out:    w,
		extra:  cfg.ExtraTags(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.runID == "" {
		p.runID = uuid.NewString()
	}
	return p
}

// WrittenSeries is a metadata row with the size of the file it describes.
type WrittenSeries struct {
	Record output.Record
	Bytes  int64
}

// Warning is a non fatal finding attached to a series.
type Warning struct {
	SeriesUID string
	Message   string
}

// StudyResult is everything processStudy produced for one study. It is
// consumed by the collector, which alone touches the writer's log and table.
type StudyResult struct {
	PatientID string
	StudyUID  string
	Outcome   output.Outcome
	Events    []output.SeriesEvent
	Written   []WrittenSeries
	Warnings  []Warning
	Err       error
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	Stats     output.Stats
	Studies   int
	Processed int
	Cancelled bool
	Duration  time.Duration
}

// Run processes every study of idx and commits the writer. When ctx is
// cancelled no new study is started, studies in flight finish, the partial
// results are committed and ctx's error is returned with the summary.
func (p *Pipeline) Run(ctx context.Context, idx *dicom.Index) (Summary, error) {
	start := time.Now()
	total := idx.Len()
	summary := Summary{RunID: p.runID, Studies: total}

	p.out.LogRunStart(p.runID, p.cfg.Fingerprint(),
		"input_dir", idx.Root,
		"files", idx.NumFiles,
		"studies", total,
		"series", idx.NumSeries(),
	)
	for _, w := range idx.Warnings {
		p.out.LogWarning("file skipped", "detail", w)
	}
	p.logger.Info("processing studies", "studies", total, "run_id", p.runID)

	numWorkers := p.cfg.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	// Don't use more workers than studies
	if numWorkers > total {
		numWorkers = total
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	jobs := make(chan *dicom.Study)
	results := make(chan StudyResult, numWorkers)

	go func() {
		defer close(jobs)
		for st := range idx.Studies() {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case jobs <- st:
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for st := range jobs {
				results <- p.processStudy(st)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	if !p.quiet {
		fmt.Printf("Processing %d studies with %d workers...\n", total, numWorkers)
	}
	for res := range results {
		p.collect(res)
		summary.Processed++
		if p.progress != nil {
			p.progress(summary.Processed, total)
		}
		if !p.quiet && (summary.Processed%10 == 0 || summary.Processed == total) {
			progress := float64(summary.Processed) / float64(total) * 100
			fmt.Printf("  Progress: %d/%d (%.0f%%)\n", summary.Processed, total, progress)
		}
	}

	if err := ctx.Err(); err != nil {
		summary.Cancelled = true
		p.out.LogWarning("run cancelled", "processed", summary.Processed, "studies", total)
	}

	stats, err := p.out.Commit()
	summary.Duration = time.Since(start)
	if err != nil {
		return summary, fmt.Errorf("commit outputs: %w", err)
	}
	summary.Stats = stats
	p.logger.Info("run finished", "run_id", p.runID, "processed", summary.Processed, "duration", summary.Duration)

	if summary.Cancelled {
		return summary, ctx.Err()
	}
	return summary, nil
}

// collect hands one study result to the writer.
func (p *Pipeline) collect(res StudyResult) {
	for _, w := range res.Warnings {
		p.out.LogWarning("series warning",
			"patient_id", res.PatientID,
			"study_id", res.StudyUID,
			"series_id", w.SeriesUID,
			"detail", w.Message,
		)
	}
	for _, e := range res.Events {
		p.out.LogSeries(e)
	}
	for _, w := range res.Written {
		p.out.AddRecord(w.Record, w.Bytes)
	}
	p.out.LogStudy(output.StudyEvent{
		PatientID: res.PatientID,
		StudyUID:  res.StudyUID,
		Outcome:   res.Outcome,
		Written:   len(res.Written),
		Err:       res.Err,
	})
	if res.Err != nil {
		p.logger.Debug("study not complete", "patient_id", res.PatientID, "study_id", res.StudyUID, "error", res.Err)
	}
}

// processStudy runs every step for one study. A panic is recorded as a study
// failure; whatever was written before it stays in the result.
func (p *Pipeline) processStudy(st *dicom.Study) (res StudyResult) {
	res = StudyResult{
		PatientID: st.PatientID,
		StudyUID:  st.UID,
		Outcome:   output.OutcomeSkipped,
	}
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic while processing study: %v", r)
			res.Outcome = output.OutcomeSkipped
			if len(res.Written) > 0 {
				res.Outcome = output.OutcomePartial
			}
		}
	}()

	candidates := make(map[string][]*dicom.Header)
	for _, s := range st.Series {
		label, ok := p.labels.Lookup(s.PatientID, s.Description)
		if !ok {
			res.Events = append(res.Events, seriesEvent(s, labelmap.Unmapped, output.StatusUnmapped, reasonNotInTable, nil))
			continue
		}
		if _, ok := p.cfg.OutputTag(label); !ok {
			res.Events = append(res.Events, seriesEvent(s, label, output.StatusUnmapped, reasonNotConfigured, nil))
			continue
		}
		h, err := dicom.Extract(s, p.extra)
		if err != nil {
			res.Events = append(res.Events, seriesEvent(s, label, output.StatusFailed, "", err))
			continue
		}
		for _, w := range h.Warnings {
			res.Warnings = append(res.Warnings, Warning{SeriesUID: s.UID, Message: w})
		}
		candidates[label] = append(candidates[label], h)
	}

	accepted := make(map[string]*dicom.Header, len(candidates))
	labels := p.cfg.Labels()
	for _, label := range labels {
		winner, losers := ResolveDuplicates(candidates[label], p.cfg.Policy())
		if winner == nil {
			continue
		}
		accepted[label] = winner
		for _, l := range losers {
			reason := "superseded by series " + winner.SeriesUID
			res.Events = append(res.Events, headerEvent(l, label, output.StatusDuplicate, reason, nil))
		}
	}
	if len(accepted) == 0 {
		return res
	}

	ref, err := SelectReference(accepted, p.cfg.ReferenceSeries)
	if err != nil {
		res.Err = err
		res.Events = append(res.Events, skipAll(labels, accepted, "", reasonNoReference)...)
		return res
	}

	refVol, err := dicom.LoadVolume(ref)
	var written WrittenSeries
	if err == nil {
		written, err = p.write(ref, p.cfg.ReferenceSeries, refVol, output.StatusReference)
	}
	if err != nil {
		res.Err = err
		res.Events = append(res.Events, headerEvent(ref, p.cfg.ReferenceSeries, output.StatusFailed, "", err))
		res.Events = append(res.Events, skipAll(labels, accepted, p.cfg.ReferenceSeries, reasonReferenceFailed)...)
		return res
	}
	res.Written = append(res.Written, written)
	res.Events = append(res.Events, headerEvent(ref, p.cfg.ReferenceSeries, output.StatusReference, "", nil))

	for _, label := range labels {
		h, ok := accepted[label]
		if !ok || label == p.cfg.ReferenceSeries {
			continue
		}
		written, err := p.resampleAndWrite(h, label, ref.Grid)
		if err != nil {
			res.Events = append(res.Events, headerEvent(h, label, output.StatusFailed, "", err))
			continue
		}
		res.Written = append(res.Written, written)
		res.Events = append(res.Events, headerEvent(h, label, output.StatusAccepted, "", nil))
	}

	res.Outcome = output.OutcomePartial
	if len(res.Written) == len(labels) {
		res.Outcome = output.OutcomeFull
	}
	return res
}

func (p *Pipeline) resampleAndWrite(h *dicom.Header, label string, ref volume.Grid) (WrittenSeries, error) {
	v, err := dicom.LoadVolume(h)
	if err != nil {
		return WrittenSeries{}, err
	}
	r, err := resample.Resample(v, ref, resample.WithFillValue(float32(p.cfg.FillValue)))
	if err != nil {
		return WrittenSeries{}, err
	}
	return p.write(h, label, r, output.StatusAccepted)
}

func (p *Pipeline) write(h *dicom.Header, label string, v *volume.Volume, status output.Status) (WrittenSeries, error) {
	tag, _ := p.cfg.OutputTag(label)
	rel, n, err := p.out.WriteVolume(h.PatientID, h.StudyUID, tag, v)
	if err != nil {
		return WrittenSeries{}, fmt.Errorf("write %s: %w", tag, err)
	}
	r := output.Record{
		PatientID:             h.PatientID,
		StudyID:               h.StudyUID,
		SeriesID:              h.SeriesUID,
		SeriesNumber:          h.SeriesNumber,
		SeriesDescription:     h.Description,
		SequenceLabel:         label,
		OutputTag:             tag,
		ScannerType:           h.ScannerType,
		Manufacturer:          h.Manufacturer,
		Model:                 h.Model,
		MagneticFieldStrength: h.FieldStrength,
		NumDicomFiles:         h.NumFiles,
		NumInstances:          h.NumInstances(),
		Status:                status,
		OutputPath:            rel,
	}
	r.SetNative(h.Grid)
	r.SetOutput(v)
	r.SetExtra(h.Extra)
	return WrittenSeries{Record: r, Bytes: n}, nil
}

// skipAll marks every accepted series except the one labelled keep as
// skipped, in label order.
func skipAll(labels []string, accepted map[string]*dicom.Header, keep, reason string) []output.SeriesEvent {
	var events []output.SeriesEvent
	for _, label := range labels {
		h, ok := accepted[label]
		if !ok || label == keep {
			continue
		}
		events = append(events, headerEvent(h, label, output.StatusSkipped, reason, nil))
	}
	return events
}

func seriesEvent(s *dicom.Series, label string, status output.Status, reason string, err error) output.SeriesEvent {
	return output.SeriesEvent{
		PatientID:    s.PatientID,
		StudyUID:     s.StudyUID,
		SeriesUID:    s.UID,
		SeriesNumber: s.SeriesNumber,
		Description:  s.Description,
		Label:        label,
		Status:       status,
		Reason:       reason,
		Err:          err,
	}
}

func headerEvent(h *dicom.Header, label string, status output.Status, reason string, err error) output.SeriesEvent {
	return output.SeriesEvent{
		PatientID:    h.PatientID,
		StudyUID:     h.StudyUID,
		SeriesUID:    h.SeriesUID,
		SeriesNumber: h.SeriesNumber,
		Description:  h.Description,
		Label:        label,
		Status:       status,
		Reason:       reason,
		Err:          err,
	}
}
