package modalities

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Scanners returns the MR scanner catalog.
func Scanners() []Scanner {
	return []Scanner{
		{Manufacturer: "SIEMENS", Model: "Avanto", FieldStrength: 1.5},
		{Manufacturer: "SIEMENS", Model: "Skyra", FieldStrength: 3.0},
		{Manufacturer: "GE MEDICAL SYSTEMS", Model: "Signa HDxt", FieldStrength: 1.5},
		{Manufacturer: "GE MEDICAL SYSTEMS", Model: "Discovery MR750", FieldStrength: 3.0},
		{Manufacturer: "PHILIPS", Model: "Achieva", FieldStrength: 1.5},
		{Manufacturer: "PHILIPS", Model: "Ingenia", FieldStrength: 3.0},
	}
}

var protocols = map[string]Protocol{
	"T1":  {Kind: "T1", SequenceName: "*tfl3d1", ScanningSeq: "GR", EchoTime: 2.5, RepetitionTime: 1900, FlipAngle: 9, WindowCenter: 400, WindowWidth: 800},
	"T2":  {Kind: "T2", SequenceName: "*tse2d1_25", ScanningSeq: "SE", EchoTime: 101, RepetitionTime: 4800, FlipAngle: 150, WindowCenter: 600, WindowWidth: 1200},
	"DWI": {Kind: "DWI", SequenceName: "*ep_b1400t", ScanningSeq: "EP", EchoTime: 75, RepetitionTime: 5200, FlipAngle: 90, BValue: 1400, WindowCenter: 300, WindowWidth: 600},
	"ADC": {Kind: "ADC", SequenceName: "*ep_b50_1400", ScanningSeq: "EP", EchoTime: 75, RepetitionTime: 5200, FlipAngle: 90, WindowCenter: 1200, WindowWidth: 2400},
}

// ProtocolKinds returns the known protocol kinds, sorted.
func ProtocolKinds() []string {
	kinds := make([]string, 0, len(protocols))
	for k := range protocols {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// GetProtocol returns the protocol for kind (case-insensitive).
func GetProtocol(kind string) (Protocol, error) {
	p, ok := protocols[strings.ToUpper(kind)]
	if !ok {
		return Protocol{}, fmt.Errorf("unknown protocol %q, valid: %v", kind, ProtocolKinds())
	}
	return p, nil
}

// MRPixelConfig returns the MR pixel data configuration: 12 bits stored in 16.
func MRPixelConfig() PixelConfig {
	return PixelConfig{
		BitsAllocated:       16,
		BitsStored:          12,
		HighBit:             11,
		PixelRepresentation: 0,
		MinValue:            0,
		MaxValue:            4095,
	}
}

// AppendMRElements appends the scanner and protocol elements of an MR image.
// Decimal strings carry six significant digits.
func AppendMRElements(ds *dicom.Dataset, scanner Scanner, p Protocol) {
	add := func(t tag.Tag, value any) {
		elem, err := dicom.NewElement(t, value)
		if err != nil {
			panic(fmt.Sprintf("failed to create element %v: %v", t, err))
		}
		ds.Elements = append(ds.Elements, elem)
	}
	decimal := func(f float64) []string {
		return []string{strconv.FormatFloat(f, 'g', 6, 64)}
	}

	add(tag.Manufacturer, []string{scanner.Manufacturer})
	add(tag.ManufacturerModelName, []string{scanner.Model})
	add(tag.MagneticFieldStrength, decimal(scanner.FieldStrength))
	add(tag.ImagingFrequency, decimal(scanner.FieldStrength*42.58))
	add(tag.EchoTime, decimal(p.EchoTime))
	add(tag.RepetitionTime, decimal(p.RepetitionTime))
	add(tag.FlipAngle, decimal(p.FlipAngle))
	add(tag.ScanningSequence, []string{p.ScanningSeq})
	add(tag.SequenceName, []string{p.SequenceName})
	add(tag.WindowCenter, decimal(p.WindowCenter))
	add(tag.WindowWidth, decimal(p.WindowWidth))
	if p.BValue > 0 {
		add(tag.DiffusionBValue, []float64{p.BValue})
	}
}
