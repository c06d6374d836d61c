// Package modalities describes the MR scanners and acquisition protocols used
// when synthesizing studies.
package modalities

// Modality represents a DICOM imaging modality type.
type Modality string

// MR is the only modality the pipeline prepares.
const MR Modality = "MR"

// MRImageStorage is the MR Image Storage SOP Class UID.
const MRImageStorage = "1.2.840.10008.5.1.4.1.1.4"

// Scanner represents an imaging device configuration.
type Scanner struct {
	Manufacturer  string
	Model         string
	FieldStrength float64 // Tesla
}

// String returns "Manufacturer Model".
func (s Scanner) String() string {
	return s.Manufacturer + " " + s.Model
}

// Protocol holds the acquisition parameters written for a sequence.
type Protocol struct {
	Kind           string // T1, T2, DWI, ADC
	SequenceName   string
	ScanningSeq    string
	EchoTime       float64
	RepetitionTime float64
	FlipAngle      float64
	// BValue is the diffusion weighting; 0 for non-diffusion sequences.
	BValue       float64
	WindowCenter float64
	WindowWidth  float64
}

// PixelConfig holds pixel data configuration.
type PixelConfig struct {
	BitsAllocated       uint16
	BitsStored          uint16
	HighBit             uint16
	PixelRepresentation uint16 // 0 = unsigned, 1 = signed
	MinValue            int
	MaxValue            int
}
