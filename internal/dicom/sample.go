package dicom

import (
	"fmt"
	"time"

	"github.com/mrsinham/dicomprep/internal/dicom/faults"
)

// Series descriptions written by SampleStudies.
const (
	SampleT2Description  = "t2_tse_tra"
	SampleDWIDescription = "ep2d_diff_b1400"
	SampleADCDescription = "ep2d_diff_adc"
)

// SampleOptions tunes the studies built by SampleStudies.
type SampleOptions struct {
	Patients int
	// Faults are injected into the ADC series of every study.
	Faults faults.Config
	// DuplicateADC adds an earlier ADC acquisition to every study.
	DuplicateADC bool
	// OmitReference leaves the T2 series out of the last study.
	OmitReference bool
	Noise         float64
	Overlay       bool
}

// SampleStudies returns one prostate MR study per patient: a T2 series and
// DWI/ADC series acquired on a coarser, shifted grid.
func SampleStudies(opts SampleOptions) []StudySpec {
	studies := make([]StudySpec, 0, opts.Patients)
	for p := 0; p < opts.Patients; p++ {
		shift := float64(p % 3)
		t2 := SeriesSpec{
			Description: SampleT2Description,
			Protocol:    "T2",
			Size:        [3]int{96, 96, 20},
			Spacing:     [3]float64{0.5, 0.5, 3},
			Origin:      [3]float64{-24, -24, -30 + shift},
			Intensity:   Field{Base: 600 + 25*float64(p), Gradient: [3]float64{2, 1.5, 0.5}},
		}
		dwi := SeriesSpec{
			Description: SampleDWIDescription,
			Protocol:    "DWI",
			Size:        [3]int{48, 48, 16},
			Spacing:     [3]float64{1.2, 1.2, 4},
			Origin:      [3]float64{-28.2, -28.2, -30},
			Intensity:   Field{Base: 300, Gradient: [3]float64{1, 1, 0.25}},
		}
		adc := dwi
		adc.Description = SampleADCDescription
		adc.Protocol = "ADC"
		adc.Intensity = Field{Base: 1200, Gradient: [3]float64{-3, 2, 1}}
		adc.Faults = opts.Faults

		var series []SeriesSpec
		if !(opts.OmitReference && p == opts.Patients-1) {
			series = append(series, t2)
		}
		series = append(series, dwi, adc)
		if opts.DuplicateADC {
			// Acquired before the regular ADC series, so the latest policy drops it.
			early := adc
			early.Faults = faults.Config{}
			early.SeriesNumber = 90
			early.AcquisitionTime = sampleDate(p).Add(-time.Hour)
			series = append(series, early)
		}
		for i := range series {
			series[i].Noise = opts.Noise
			series[i].Overlay = opts.Overlay
		}

		studies = append(studies, StudySpec{
			PatientID:   fmt.Sprintf("PT%04d", p+1),
			StudyDate:   sampleDate(p),
			Description: "MRI PROSTATE",
			Series:      series,
		})
	}
	return studies
}

func sampleDate(patient int) time.Time {
	return defaultStudyDate.AddDate(0, 0, patient)
}
