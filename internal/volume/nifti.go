package volume

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// niftiHeader is the 348-byte NIfTI-1 header in on-disk field order.
type niftiHeader struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	GLMax         int32
	GLMin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QOffsetX      float32
	QOffsetY      float32
	QOffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

const (
	niftiFloat32   = 16
	niftiVoxOffset = 352
	niftiUnitsMM   = 2
	niftiScanner   = 1
)

// EncodeNIfTI writes v as a single-file NIfTI-1 (.nii) volume with float32
// voxels. Geometry goes into the sform, converted from LPS to RAS.
func EncodeNIfTI(w io.Writer, v *Volume) error {
	if err := v.Check(); err != nil {
		return err
	}
	g := v.Grid

	h := niftiHeader{
		SizeofHdr: 348,
		Regular:   'r',
		Dim:       [8]int16{3, int16(g.Size[0]), int16(g.Size[1]), int16(g.Size[2]), 1, 1, 1, 1},
		Datatype:  niftiFloat32,
		Bitpix:    32,
		Pixdim:    [8]float32{1, float32(g.Spacing[0]), float32(g.Spacing[1]), float32(g.Spacing[2]), 1, 1, 1, 1},
		VoxOffset: niftiVoxOffset,
		SclSlope:  1,
		XYZTUnits: niftiUnitsMM,
		SformCode: niftiScanner,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	for a := 0; a < 3; a++ {
		if g.Size[a] > math.MaxInt16 {
			return fmt.Errorf("dimension %d (%d) does not fit a NIfTI-1 header", a, g.Size[a])
		}
	}

	// LPS -> RAS flips the sign of the first two physical axes.
	sign := [3]float64{-1, -1, 1}
	rows := [3]*[4]float32{&h.SrowX, &h.SrowY, &h.SrowZ}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			rows[r][c] = float32(sign[r] * g.Direction[r][c] * g.Spacing[c])
		}
		rows[r][3] = float32(sign[r] * g.Origin[r])
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, &h); err != nil {
		return err
	}
	// Empty extension block.
	if _, err := bw.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	buf := make([]byte, 4*len(v.Data))
	for i, value := range v.Data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(value))
	}
	if _, err := bw.Write(buf); err != nil {
		return err
	}
	return bw.Flush()
}

// DecodeNIfTIGrid reads the geometry stored in a NIfTI-1 header written by
// EncodeNIfTI. Spacing comes from pixdim; origin and direction from the sform.
func DecodeNIfTIGrid(r io.Reader) (Grid, error) {
	var h niftiHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return Grid{}, fmt.Errorf("read NIfTI header: %w", err)
	}
	if h.SizeofHdr != 348 || h.Magic[0] != 'n' || h.Magic[2] != '1' {
		return Grid{}, fmt.Errorf("not a little-endian NIfTI-1 file")
	}
	if h.Dim[0] < 3 {
		return Grid{}, fmt.Errorf("NIfTI file has %d dimensions, want 3", h.Dim[0])
	}

	var g Grid
	sign := [3]float64{-1, -1, 1}
	rows := [3][4]float32{h.SrowX, h.SrowY, h.SrowZ}
	for a := 0; a < 3; a++ {
		g.Size[a] = int(h.Dim[a+1])
		g.Spacing[a] = float64(h.Pixdim[a+1])
	}
	for r := 0; r < 3; r++ {
		g.Origin[r] = sign[r] * float64(rows[r][3])
		for c := 0; c < 3; c++ {
			if g.Spacing[c] > 0 {
				g.Direction[r][c] = sign[r] * float64(rows[r][c]) / g.Spacing[c]
			}
		}
	}
	return g, nil
}
