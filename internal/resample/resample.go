// Package resample maps a volume onto another grid by back-projecting every
// output voxel into the source index space.
package resample

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/mrsinham/dicomprep/internal/failure"
	"github.com/mrsinham/dicomprep/internal/volume"
)

// Interpolator selects how source voxels are combined.
type Interpolator int

const (
	// Linear is trilinear interpolation.
	Linear Interpolator = iota
	// Nearest picks the closest source voxel, for label images.
	Nearest
)

func (i Interpolator) String() string {
	if i == Nearest {
		return "nearest"
	}
	return "linear"
}

type options struct {
	fill         float32
	interpolator Interpolator
}

// Option configures Resample.
type Option func(*options)

// WithFillValue sets the value of output voxels that fall outside the source.
func WithFillValue(v float32) Option {
	return func(o *options) {
		o.fill = v
	}
}

// WithInterpolator sets the interpolation scheme. The default is Linear.
func WithInterpolator(i Interpolator) Option {
	return func(o *options) {
		o.interpolator = i
	}
}

// Resample returns src sampled on ref. A continuous source index is inside
// the source when each component lies in [-0.5, n-0.5]; inside points are
// clamped to [0, n-1] before interpolation and outside voxels get the fill
// value. Voxels are visited in storage order, so identical inputs always give
// identical outputs.
func Resample(src *volume.Volume, ref volume.Grid, opts ...Option) (*volume.Volume, error) {
	o := options{interpolator: Linear}
	for _, opt := range opts {
		opt(&o)
	}

	if err := src.Grid.Validate(); err != nil {
		return nil, failure.Wrap(failure.Resampling, "source grid", err)
	}
	if err := ref.Validate(); err != nil {
		return nil, failure.Wrap(failure.Resampling, "reference grid", err)
	}
	if err := src.Check(); err != nil {
		return nil, failure.Wrap(failure.Resampling, "source volume", err)
	}

	out := volume.New(ref)
	if src.Grid == ref {
		copy(out.Data, src.Data)
		return out, nil
	}

	a, b, err := indexTransform(src.Grid, ref)
	if err != nil {
		return nil, failure.Wrap(failure.Resampling, "source grid", err)
	}

	n := src.Grid.Size
	sample := linear
	if o.interpolator == Nearest {
		sample = nearest
	}

	idx := 0
	for k := 0; k < ref.Size[2]; k++ {
		for j := 0; j < ref.Size[1]; j++ {
			for i := 0; i < ref.Size[0]; i++ {
				var c [3]float64
				inside := true
				for r := 0; r < 3; r++ {
					c[r] = b[r] + a[r][0]*float64(i) + a[r][1]*float64(j) + a[r][2]*float64(k)
					if !(c[r] >= -0.5 && c[r] <= float64(n[r])-0.5) {
						inside = false
					}
				}
				if inside {
					for r := 0; r < 3; r++ {
						c[r] = math.Max(0, math.Min(float64(n[r]-1), c[r]))
					}
					out.Data[idx] = sample(src, c)
				} else {
					out.Data[idx] = o.fill
				}
				idx++
			}
		}
	}
	return out, nil
}

// indexTransform returns the affine map from ref indices to continuous src
// indices: c = a·i + b, with a = (D_src·S_src)⁻¹·D_ref·S_ref and
// b = (D_src·S_src)⁻¹·(o_ref - o_src).
func indexTransform(src, ref volume.Grid) (a [3][3]float64, b [3]float64, err error) {
	m := scaledDirection(src)
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return a, b, fmt.Errorf("index matrix is not invertible: %w", err)
	}

	var prod mat.Dense
	prod.Mul(&inv, scaledDirection(ref))
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			a[r][c] = prod.At(r, c)
		}
	}

	delta := mat.NewVecDense(3, []float64{
		ref.Origin[0] - src.Origin[0],
		ref.Origin[1] - src.Origin[1],
		ref.Origin[2] - src.Origin[2],
	})
	var off mat.VecDense
	off.MulVec(&inv, delta)
	for r := 0; r < 3; r++ {
		b[r] = off.AtVec(r)
	}
	return a, b, nil
}

// scaledDirection returns D·diag(spacing).
func scaledDirection(g volume.Grid) *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.Set(r, c, g.Direction[r][c]*g.Spacing[c])
		}
	}
	return m
}

func linear(src *volume.Volume, c [3]float64) float32 {
	n := src.Grid.Size
	var i0, i1 [3]int
	var f [3]float64
	for r := 0; r < 3; r++ {
		fl := math.Floor(c[r])
		i0[r] = int(fl)
		f[r] = c[r] - fl
		i1[r] = i0[r] + 1
		if i1[r] > n[r]-1 {
			i1[r] = n[r] - 1
		}
	}

	v000 := float64(src.At(i0[0], i0[1], i0[2]))
	v100 := float64(src.At(i1[0], i0[1], i0[2]))
	v010 := float64(src.At(i0[0], i1[1], i0[2]))
	v110 := float64(src.At(i1[0], i1[1], i0[2]))
	v001 := float64(src.At(i0[0], i0[1], i1[2]))
	v101 := float64(src.At(i1[0], i0[1], i1[2]))
	v011 := float64(src.At(i0[0], i1[1], i1[2]))
	v111 := float64(src.At(i1[0], i1[1], i1[2]))

	x00 := v000 + (v100-v000)*f[0]
	x10 := v010 + (v110-v010)*f[0]
	x01 := v001 + (v101-v001)*f[0]
	x11 := v011 + (v111-v011)*f[0]
	y0 := x00 + (x10-x00)*f[1]
	y1 := x01 + (x11-x01)*f[1]
	return float32(y0 + (y1-y0)*f[2])
}

func nearest(src *volume.Volume, c [3]float64) float32 {
	n := src.Grid.Size
	var i [3]int
	for r := 0; r < 3; r++ {
		i[r] = int(math.Floor(c[r] + 0.5))
		if i[r] > n[r]-1 {
			i[r] = n[r] - 1
		}
	}
	return src.At(i[0], i[1], i[2])
}
