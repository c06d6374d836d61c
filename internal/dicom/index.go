package dicom

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/sync/errgroup"

	"github.com/mrsinham/dicomprep/internal/failure"
)

// UnknownPatient is used for instances without a PatientID.
const UnknownPatient = "UNKNOWN"

// Instance is one file of a series.
type Instance struct {
	Path           string
	SOPInstanceUID string
	InstanceNumber int
}

// Series groups the instances sharing a SeriesInstanceUID within a study.
type Series struct {
	PatientID    string
	StudyUID     string
	UID          string
	Description  string
	SeriesNumber int
	Instances    []Instance
}

// Study groups the series of one StudyInstanceUID for one patient.
type Study struct {
	PatientID string
	UID       string
	Date      string
	Series    []*Series
}

// Index is the result of walking a raw tree. It only holds file references and
// identifiers; headers and pixels are read later, one study at a time.
// Grouping needs every header, so the index is built in one pass and its size
// grows with the number of files.
type Index struct {
	Root     string
	studies  []*Study
	NumFiles int
	// Warnings lists files that were skipped, with the reason.
	Warnings []string
}

// Studies yields studies ordered by patient id then study UID.
func (ix *Index) Studies() iter.Seq[*Study] {
	return func(yield func(*Study) bool) {
		for _, s := range ix.studies {
			if !yield(s) {
				return
			}
		}
	}
}

// Len returns the number of studies.
func (ix *Index) Len() int {
	return len(ix.studies)
}

// NumSeries returns the number of series across all studies.
func (ix *Index) NumSeries() int {
	n := 0
	for _, s := range ix.studies {
		n += len(s.Series)
	}
	return n
}

// Indexer walks a raw tree and groups instances by their header identifiers.
type Indexer struct {
	root    string
	exclude []string
	workers int
	logger  *slog.Logger
}

// IndexOption configures an Indexer.
type IndexOption func(*Indexer)

// WithExclude skips files whose path relative to the root matches one of the
// doublestar patterns.
func WithExclude(patterns []string) IndexOption {
	return func(ix *Indexer) {
		ix.exclude = append(ix.exclude, patterns...)
	}
}

// WithIndexWorkers bounds the number of headers read concurrently
// (0 = CPU cores).
func WithIndexWorkers(n int) IndexOption {
	return func(ix *Indexer) {
		ix.workers = n
	}
}

// WithIndexLogger sets the logger used for skipped files.
func WithIndexLogger(l *slog.Logger) IndexOption {
	return func(ix *Indexer) {
		ix.logger = l
	}
}

// NewIndexer returns an Indexer for root.
func NewIndexer(root string, opts ...IndexOption) *Indexer {
	ix := &Indexer{root: root, logger: slog.Default()}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.workers <= 0 {
		ix.workers = runtime.NumCPU()
	}
	return ix
}

// identifiers are the header fields the indexer keeps per file.
type identifiers struct {
	patientID    string
	studyUID     string
	studyDate    string
	seriesUID    string
	seriesNumber int
	description  string
	sopUID       string
	instance     int
}

type readResult struct {
	path string
	ids  identifiers
	err  error
}

// Index walks the root and returns the grouped studies. A missing or
// unreadable root is an UnreadableInput error; unreadable files below it are
// skipped with a warning.
func (ix *Indexer) Index(ctx context.Context) (*Index, error) {
	info, err := os.Stat(ix.root)
	if err != nil {
		return nil, failure.Wrap(failure.UnreadableInput, ix.root, err)
	}
	if !info.IsDir() {
		return nil, failure.New(failure.UnreadableInput, ix.root, "not a directory")
	}
	if _, err := os.ReadDir(ix.root); err != nil {
		return nil, failure.Wrap(failure.UnreadableInput, ix.root, err)
	}

	result := &Index{Root: ix.root}
	paths, err := ix.collect(result)
	if err != nil {
		return nil, err
	}
	result.NumFiles = len(paths)

	reads := make([]readResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ids, err := readIdentifiers(p)
			reads[i] = readResult{path: p, ids: ids, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("index %s: %w", ix.root, err)
	}

	result.studies = ix.group(reads, result)
	return result, nil
}

// collect lists candidate files in lexical order.
func (ix *Indexer) collect(result *Index) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(ix.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == ix.root {
				return failure.Wrap(failure.UnreadableInput, ix.root, err)
			}
			ix.warn(result, path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if path != ix.root && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if strings.EqualFold(name, "DICOMDIR") {
			return nil
		}
		rel, relErr := filepath.Rel(ix.root, path)
		if relErr == nil && ix.excluded(filepath.ToSlash(rel)) {
			ix.logger.Debug("excluded", "path", rel)
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func (ix *Indexer) excluded(rel string) bool {
	for _, pattern := range ix.exclude {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func (ix *Indexer) warn(result *Index, path string, err error) {
	msg := fmt.Sprintf("%s: %v", path, err)
	result.Warnings = append(result.Warnings, msg)
	ix.logger.Warn("skipping file", "path", path, "error", err)
}

// group builds the study/series tree from the header reads. reads are in path
// order, so the first instance seen supplies the series description.
func (ix *Indexer) group(reads []readResult, result *Index) []*Study {
	type studyKey struct{ patient, study string }
	studies := make(map[studyKey]*Study)
	series := make(map[studyKey]map[string]*Series)
	seenSOP := make(map[string]string)

	for _, r := range reads {
		if r.err != nil {
			ix.warn(result, r.path, r.err)
			continue
		}
		ids := r.ids
		if ids.sopUID != "" {
			if first, dup := seenSOP[ids.sopUID]; dup {
				ix.warn(result, r.path, fmt.Errorf("duplicate SOPInstanceUID %s (already read from %s)", ids.sopUID, first))
				continue
			}
			seenSOP[ids.sopUID] = r.path
		}

		k := studyKey{ids.patientID, ids.studyUID}
		st, ok := studies[k]
		if !ok {
			st = &Study{PatientID: ids.patientID, UID: ids.studyUID, Date: ids.studyDate}
			studies[k] = st
			series[k] = make(map[string]*Series)
		}
		se, ok := series[k][ids.seriesUID]
		if !ok {
			se = &Series{
				PatientID:    ids.patientID,
				StudyUID:     ids.studyUID,
				UID:          ids.seriesUID,
				Description:  ids.description,
				SeriesNumber: ids.seriesNumber,
			}
			series[k][ids.seriesUID] = se
			st.Series = append(st.Series, se)
		}
		se.Instances = append(se.Instances, Instance{Path: r.path, SOPInstanceUID: ids.sopUID, InstanceNumber: ids.instance})
	}

	out := make([]*Study, 0, len(studies))
	for _, st := range studies {
		sort.Slice(st.Series, func(i, j int) bool { return st.Series[i].UID < st.Series[j].UID })
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PatientID != out[j].PatientID {
			return out[i].PatientID < out[j].PatientID
		}
		return out[i].UID < out[j].UID
	})
	return out
}

func readIdentifiers(path string) (identifiers, error) {
	ds, err := readHeader(path)
	if err != nil {
		return identifiers{}, fmt.Errorf("not a readable DICOM file: %w", err)
	}

	ids := identifiers{
		patientID:   stringValue(ds, tag.PatientID),
		studyUID:    stringValue(ds, tag.StudyInstanceUID),
		studyDate:   stringValue(ds, tag.StudyDate),
		seriesUID:   stringValue(ds, tag.SeriesInstanceUID),
		description: stringValue(ds, tag.SeriesDescription),
		sopUID:      stringValue(ds, tag.SOPInstanceUID),
	}
	ids.seriesNumber, _ = intValue(ds, tag.SeriesNumber)
	ids.instance, _ = intValue(ds, tag.InstanceNumber)

	if ids.studyUID == "" {
		return identifiers{}, fmt.Errorf("missing StudyInstanceUID")
	}
	if ids.seriesUID == "" {
		return identifiers{}, fmt.Errorf("missing SeriesInstanceUID")
	}
	if ids.patientID == "" {
		ids.patientID = UnknownPatient
	}
	return ids, nil
}
