package pipeline

import (
	"sort"

	"github.com/mrsinham/dicomprep/internal/config"
	"github.com/mrsinham/dicomprep/internal/dicom"
	"github.com/mrsinham/dicomprep/internal/failure"
)

// SelectReference returns the accepted series carrying the reference label.
func SelectReference(accepted map[string]*dicom.Header, label string) (*dicom.Header, error) {
	if h, ok := accepted[label]; ok && h != nil {
		return h, nil
	}
	return nil, failure.New(failure.NoReferenceSeries, label, "no series labelled %q in study", label)
}

// ResolveDuplicates orders the candidates of one label by policy and returns
// the winner and the discarded series. The order is total: ties fall back to
// the smallest series UID.
func ResolveDuplicates(candidates []*dicom.Header, policy config.DuplicatePolicy) (*dicom.Header, []*dicom.Header) {
	if len(candidates) == 0 {
		return nil, nil
	}
	sorted := append([]*dicom.Header(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return prefer(sorted[i], sorted[j], policy)
	})
	return sorted[0], sorted[1:]
}

// prefer reports whether a wins over b.
func prefer(a, b *dicom.Header, policy config.DuplicatePolicy) bool {
	switch policy {
	case config.MostInstances:
		if a.NumInstances() != b.NumInstances() {
			return a.NumInstances() > b.NumInstances()
		}
	case config.LowestSeriesNumber:
		if a.SeriesNumber != b.SeriesNumber {
			return a.SeriesNumber < b.SeriesNumber
		}
	default:
		// Series without an acquisition time lose against dated ones.
		if !a.AcquisitionTime.Equal(b.AcquisitionTime) {
			return a.AcquisitionTime.After(b.AcquisitionTime)
		}
	}
	return a.SeriesUID < b.SeriesUID
}
