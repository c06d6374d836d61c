package volume

import (
	"fmt"
	"os"

	"github.com/henghuang/nifti"
)

// ReadNIfTI loads a .nii file. Geometry comes from the header sform, voxels
// from the nifti reader.
func ReadNIfTI(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	g, err := DecodeNIfTIGrid(f)
	_ = f.Close()
	if err != nil {
		return nil, err
	}

	img, err := safelyLoadNIfTI(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	dims := img.GetDims()
	if dims[0] != g.Size[0] || dims[1] != g.Size[1] || dims[2] != g.Size[2] {
		return nil, fmt.Errorf("voxel dimensions %v disagree with header size %v", dims, g.Size)
	}

	v := New(g)
	for k := 0; k < g.Size[2]; k++ {
		for j := 0; j < g.Size[1]; j++ {
			for i := 0; i < g.Size[0]; i++ {
				v.Set(i, j, k, float32(img.GetAt(i, j, k, 0)))
			}
		}
	}
	return v, nil
}

// safelyLoadNIfTI turns the reader's panics on malformed input into errors.
func safelyLoadNIfTI(path string) (img nifti.Nifti1Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	img.LoadImage(path, true)
	return img, nil
}

// ReadFile loads an .mha or .nii volume.
func ReadFile(path string) (*Volume, error) {
	switch ext := extOf(path); ext {
	case ".mha":
		return ReadMHA(path)
	case ".nii":
		return ReadNIfTI(path)
	default:
		return nil, fmt.Errorf("unsupported volume format %q", ext)
	}
}
