package faults

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// tiltDegrees is the in-plane rotation applied by TiltedSlice.
const tiltDegrees = 5.0

// Slice is the geometry of one instance the generator is about to write.
type Slice struct {
	// Index is the 0-based position of the instance along the slice normal.
	Index       int
	Rows        int
	Cols        int
	Position    [3]float64
	Orientation [6]float64
	// Normal and Step describe the regular slice stack.
	Normal [3]float64
	Step   float64
	// OmitSeriesUID drops SeriesInstanceUID from the written header.
	OmitSeriesUID bool
}

// Applicator mutates slice geometry and produces extra files and elements for
// the configured faults.
type Applicator struct {
	config Config
	rng    *rand.Rand
}

// NewApplicator creates a new fault applicator.
func NewApplicator(config Config, rng *rand.Rand) *Applicator {
	return &Applicator{config: config, rng: rng}
}

// Config returns the applicator configuration.
func (a *Applicator) Config() Config {
	return a.config
}

// ApplyToSlice alters s when it is the instance targeted by a fault.
// Geometry faults hit the middle slice; MissingSeriesUID hits the last one so
// the remaining stack stays regular.
func (a *Applicator) ApplyToSlice(s *Slice, total int) {
	mid := total / 2
	if a.config.HasType(MissingSeriesUID) && total > 1 && s.Index == total-1 {
		s.OmitSeriesUID = true
	}
	if s.Index != mid || total < 2 {
		return
	}
	if a.config.HasType(MismatchedRows) {
		s.Rows += 2
	}
	if a.config.HasType(TiltedSlice) {
		rad := tiltDegrees * math.Pi / 180
		c, sn := math.Cos(rad), math.Sin(rad)
		row := [3]float64{s.Orientation[0], s.Orientation[1], s.Orientation[2]}
		col := [3]float64{s.Orientation[3], s.Orientation[4], s.Orientation[5]}
		for i := 0; i < 3; i++ {
			s.Orientation[i] = c*row[i] + sn*col[i]
			s.Orientation[3+i] = -sn*row[i] + c*col[i]
		}
	}
	if a.config.HasType(DuplicatePosition) {
		for i := 0; i < 3; i++ {
			s.Position[i] -= s.Normal[i] * s.Step
		}
	}
	if a.config.HasType(IrregularSpacing) && total > 2 {
		for i := 0; i < 3; i++ {
			s.Position[i] += s.Normal[i] * s.Step * 0.3
		}
	}
}

// ExtraFiles returns non-DICOM files to write next to the series, keyed by
// file name.
func (a *Applicator) ExtraFiles() map[string][]byte {
	if !a.config.HasType(GarbageFile) {
		return nil
	}
	return map[string][]byte{
		"README.txt": []byte("exported by PACS, do not edit\n"),
		"IM_BROKEN":  []byte("DICM but not really a DICOM file"),
	}
}

// PrivateElements returns vendor private elements matching manufacturer.
// The caller must write them with VR verification disabled.
func (a *Applicator) PrivateElements(manufacturer string) []*dicom.Element {
	if !a.config.HasType(VendorPrivate) {
		return nil
	}
	m := strings.ToUpper(manufacturer)
	switch {
	case strings.Contains(m, "SIEMENS"):
		return []*dicom.Element{
			mustNewPrivateElement(tag.Tag{Group: 0x0029, Element: 0x0010}, "LO", []string{"SIEMENS CSA HEADER"}),
			mustNewPrivateElement(tag.Tag{Group: 0x0029, Element: 0x1008}, "CS", []string{"IMAGE NUM 4"}),
			mustNewPrivateElement(tag.Tag{Group: 0x0029, Element: 0x1010}, "OB", csaBlob(a.rng)),
		}
	case strings.Contains(m, "GE"):
		return []*dicom.Element{
			mustNewPrivateElement(tag.Tag{Group: 0x0009, Element: 0x0010}, "LO", []string{"GEMS_IDEN_01"}),
			mustNewPrivateElement(tag.Tag{Group: 0x0043, Element: 0x0010}, "LO", []string{"GEMS_PARM_01"}),
			mustNewPrivateElement(tag.Tag{Group: 0x0009, Element: 0x10E3}, "LO",
				[]string{fmt.Sprintf("DV%d.%d_M5", a.rng.IntN(10)+20, a.rng.IntN(10))}),
			mustNewPrivateElement(tag.Tag{Group: 0x0043, Element: 0x1039}, "IS",
				[]string{fmt.Sprintf("%d", a.rng.IntN(2000)), "8", "0", "0"}),
		}
	default:
		return []*dicom.Element{
			mustNewPrivateElement(tag.Tag{Group: 0x2001, Element: 0x0010}, "LO", []string{"Philips Imaging DD 001"}),
			mustNewPrivateElement(tag.Tag{Group: 0x2005, Element: 0x0010}, "LO", []string{"Philips MR Imaging DD 001"}),
			mustNewPrivateElement(tag.Tag{Group: 0x2001, Element: 0x1003}, "FL", []float64{float64(a.rng.IntN(1000))}),
		}
	}
}

// csaBlob builds a small SV10 CSA header blob.
func csaBlob(rng *rand.Rand) []byte {
	blob := []byte("SV10\x04\x03\x02\x01")
	for len(blob) < 64 {
		blob = append(blob, byte(rng.IntN(256)))
	}
	return blob
}

// mustNewPrivateElement creates a DICOM element with a private tag and explicit VR.
// dicom.NewElement fails on unregistered private tags.
func mustNewPrivateElement(t tag.Tag, rawVR string, data any) *dicom.Element {
	value, err := dicom.NewValue(data)
	if err != nil {
		panic(fmt.Sprintf("failed to create value for private element %v: %v", t, err))
	}
	return &dicom.Element{
		Tag:                    t,
		ValueRepresentation:    tag.GetVRKind(t, rawVR),
		RawValueRepresentation: rawVR,
		Value:                  value,
	}
}
