package dicom

import (
	"fmt"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/dicomprep/internal/failure"
	"github.com/mrsinham/dicomprep/internal/volume"
)

// LoadVolume reads the pixel data of every slice of h into a float32 volume
// on h.Grid. Stored values are converted to signed integers when
// PixelRepresentation is 1, then mapped through RescaleSlope and
// RescaleIntercept.
func LoadVolume(h *Header) (*volume.Volume, error) {
	if len(h.Slices) != h.Grid.Size[2] {
		return nil, failure.New(failure.MalformedSeries, h.SeriesUID,
			"header lists %d slices for a depth of %d", len(h.Slices), h.Grid.Size[2])
	}
	v := volume.New(h.Grid)
	plane := h.Grid.Size[0] * h.Grid.Size[1]
	for k, path := range h.Slices {
		if err := loadSlice(path, h.Grid.Size[0], h.Grid.Size[1], v.Data[k*plane:(k+1)*plane]); err != nil {
			return nil, failure.Wrap(failure.MalformedSeries, h.SeriesUID, fmt.Errorf("%s: %w", path, err))
		}
	}
	return v, nil
}

func loadSlice(path string, cols, rows int, dst []float32) error {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return fmt.Errorf("no pixel data")
	}
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return fmt.Errorf("unexpected pixel data value %T", elem.Value.GetValue())
	}
	if info.IsEncapsulated {
		return fmt.Errorf("encapsulated (compressed) pixel data is not supported")
	}
	if len(info.Frames) != 1 {
		return fmt.Errorf("expected one frame, got %d", len(info.Frames))
	}
	fr := info.Frames[0]
	if fr.Encapsulated || fr.NativeData == nil {
		return fmt.Errorf("encapsulated (compressed) pixel data is not supported")
	}
	if spp, ok := intValue(ds, tag.SamplesPerPixel); ok && spp != 1 {
		return fmt.Errorf("%d samples per pixel, only grayscale is supported", spp)
	}
	native := fr.NativeData
	if native.Rows() != rows || native.Cols() != cols {
		return fmt.Errorf("frame is %dx%d, expected %dx%d", native.Cols(), native.Rows(), cols, rows)
	}

	raw, err := rawSamples(native)
	if err != nil {
		return err
	}
	if len(raw) < len(dst) {
		return fmt.Errorf("frame holds %d samples, expected %d", len(raw), len(dst))
	}

	signed := false
	if pr, ok := intValue(ds, tag.PixelRepresentation); ok && pr == 1 {
		signed = true
	}
	bitsStored := native.BitsPerSample()
	if bs, ok := intValue(ds, tag.BitsStored); ok && bs > 0 {
		bitsStored = bs
	}
	slope := floatValue(ds, tag.RescaleSlope, 1)
	if slope == 0 {
		slope = 1
	}
	intercept := floatValue(ds, tag.RescaleIntercept, 0)

	for i := range dst {
		s := raw[i]
		if signed {
			s = signExtend(s, bitsStored)
		}
		dst[i] = float32(float64(s)*slope + intercept)
	}
	return nil
}

// rawSamples copies the frame samples into int64s, whatever the integer type
// the parser chose for them.
func rawSamples(f frame.INativeFrame) ([]int64, error) {
	switch d := f.RawDataSlice().(type) {
	case []uint8:
		return widen(d), nil
	case []uint16:
		return widen(d), nil
	case []uint32:
		return widen(d), nil
	case []int8:
		return widen(d), nil
	case []int16:
		return widen(d), nil
	case []int32:
		return widen(d), nil
	case []int:
		return widen(d), nil
	default:
		return nil, fmt.Errorf("unsupported sample type %T", d)
	}
}

func widen[T uint8 | uint16 | uint32 | int8 | int16 | int32 | int](in []T) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

// signExtend interprets the low bits of v as a two's complement integer.
func signExtend(v int64, bits int) int64 {
	if bits <= 0 || bits >= 64 {
		return v
	}
	mask := int64(1)<<bits - 1
	v &= mask
	if v&(int64(1)<<(bits-1)) != 0 {
		v -= int64(1) << bits
	}
	return v
}
