package volume

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Encode writes v in the format named by ext ("mha" or "nii").
func Encode(w io.Writer, v *Volume, ext string) error {
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "mha":
		return EncodeMHA(w, v)
	case "nii":
		return EncodeNIfTI(w, v)
	default:
		return fmt.Errorf("unsupported volume format %q", ext)
	}
}

// WriteFile encodes v into path, choosing the format from the extension. The
// file is written next to its destination and renamed into place, so readers
// never observe a partial volume. It returns the number of bytes written.
func WriteFile(path string, v *Volume) (int64, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, v, filepath.Ext(path)); err != nil {
		return 0, fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("rename into %s: %w", path, err)
	}
	return int64(buf.Len()), nil
}

// ReadMHA loads a MetaImage file.
func ReadMHA(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return DecodeMHA(f)
}

func extOf(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// ReadGrid returns the geometry stored in an .mha or .nii file.
func ReadGrid(path string) (Grid, error) {
	switch extOf(path) {
	case ".mha":
		v, err := ReadMHA(path)
		if err != nil {
			return Grid{}, err
		}
		return v.Grid, nil
	case ".nii":
		f, err := os.Open(path)
		if err != nil {
			return Grid{}, err
		}
		defer func() { _ = f.Close() }()
		return DecodeNIfTIGrid(f)
	default:
		return Grid{}, fmt.Errorf("unsupported volume format %q", filepath.Ext(path))
	}
}
