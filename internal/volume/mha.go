package volume

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// EncodeMHA writes v as a single-file MetaImage with float voxels. The header
// carries no timestamps, so equal volumes encode to equal bytes.
func EncodeMHA(w io.Writer, v *Volume) error {
	if err := v.Check(); err != nil {
		return err
	}
	g := v.Grid

	var transform []string
	for a := 0; a < 3; a++ {
		axis := g.Axis(a)
		for _, c := range axis {
			transform = append(transform, formatFloat(c))
		}
	}

	bw := bufio.NewWriter(w)
	fields := [][2]string{
		{"ObjectType", "Image"},
		{"NDims", "3"},
		{"BinaryData", "True"},
		{"BinaryDataByteOrderMSB", "False"},
		{"CompressedData", "False"},
		{"TransformMatrix", strings.Join(transform, " ")},
		{"Offset", FormatVector(g.Origin)},
		{"CenterOfRotation", "0 0 0"},
		{"AnatomicalOrientation", "RAI"},
		{"ElementSpacing", FormatVector(g.Spacing)},
		{"DimSize", fmt.Sprintf("%d %d %d", g.Size[0], g.Size[1], g.Size[2])},
		{"ElementType", "MET_FLOAT"},
		{"ElementDataFile", "LOCAL"},
	}
	for _, f := range fields {
		if _, err := fmt.Fprintf(bw, "%s = %s\n", f[0], f[1]); err != nil {
			return err
		}
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

// DecodeMHA reads a single-file MetaImage written with MET_FLOAT, MET_SHORT or
// MET_USHORT voxels.
func DecodeMHA(r io.Reader) (*Volume, error) {
	br := bufio.NewReader(r)
	g := Grid{Direction: Identity}
	elementType := ""
	msb := false

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read MetaImage header: %w", err)
		}
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			return nil, fmt.Errorf("malformed MetaImage header line %q", strings.TrimSpace(line))
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "NDims":
			if value != "3" {
				return nil, fmt.Errorf("unsupported NDims %s", value)
			}
		case "CompressedData":
			if strings.EqualFold(value, "True") {
				return nil, fmt.Errorf("compressed MetaImage data is not supported")
			}
		case "BinaryDataByteOrderMSB", "ElementByteOrderMSB":
			msb = strings.EqualFold(value, "True")
		case "TransformMatrix", "Orientation", "Rotation":
			m, err := parseFloats(value, 9)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			for a := 0; a < 3; a++ {
				for r := 0; r < 3; r++ {
					g.Direction[r][a] = m[3*a+r]
				}
			}
		case "Offset", "Origin", "Position":
			o, err := parseFloats(value, 3)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			copy(g.Origin[:], o)
		case "ElementSpacing":
			s, err := parseFloats(value, 3)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			copy(g.Spacing[:], s)
		case "DimSize":
			parts := strings.Fields(value)
			if len(parts) != 3 {
				return nil, fmt.Errorf("DimSize: want 3 values, got %q", value)
			}
			for a, p := range parts {
				n, err := strconv.Atoi(p)
				if err != nil {
					return nil, fmt.Errorf("DimSize: %w", err)
				}
				g.Size[a] = n
			}
		case "ElementType":
			elementType = value
		case "ElementDataFile":
			if value != "LOCAL" {
				return nil, fmt.Errorf("detached MetaImage data (%s) is not supported", value)
			}
			return decodeVoxels(br, g, elementType, msb)
		}
	}
}

func decodeVoxels(r io.Reader, g Grid, elementType string, msb bool) (*Volume, error) {
	var order binary.ByteOrder = binary.LittleEndian
	if msb {
		order = binary.BigEndian
	}

	var width int
	switch elementType {
	case "MET_FLOAT":
		width = 4
	case "MET_SHORT", "MET_USHORT":
		width = 2
	default:
		return nil, fmt.Errorf("unsupported ElementType %q", elementType)
	}

	n := g.NumVoxels()
	if n <= 0 {
		return nil, fmt.Errorf("invalid DimSize %v", g.Size)
	}
	raw := make([]byte, n*width)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read MetaImage voxels: %w", err)
	}

	v := New(g)
	for i := range v.Data {
		switch elementType {
		case "MET_FLOAT":
			v.Data[i] = math.Float32frombits(order.Uint32(raw[4*i:]))
		case "MET_SHORT":
			v.Data[i] = float32(int16(order.Uint16(raw[2*i:])))
		case "MET_USHORT":
			v.Data[i] = float32(order.Uint16(raw[2*i:]))
		}
	}
	return v, nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Fields(s)
	if len(parts) != n {
		return nil, fmt.Errorf("want %d values, got %d", n, len(parts))
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func formatFloat(f float64) string {
	if f == 0 {
		// Avoid writing "-0".
		return "0"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// MHABytes encodes v into memory.
func MHABytes(v *Volume) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeMHA(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
