// Package volume holds the in-memory 3D image model shared by the extractor,
// the resampler and the output writer, and the on-disk formats it is saved in.
package volume

import (
	"fmt"
	"math"
)

// Grid is the physical layout of a volume in patient (LPS) coordinates.
//
// A voxel index (i, j, k) maps to the physical point
//
//	Origin + Direction · diag(Spacing) · (i, j, k)
//
// Direction is row-major; its columns are the unit vectors of the i, j and k axes.
type Grid struct {
	Size      [3]int
	Spacing   [3]float64
	Origin    [3]float64
	Direction [3][3]float64
}

// Identity is the axial, unrotated direction matrix.
var Identity = [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// NumVoxels returns the number of voxels the grid holds.
func (g Grid) NumVoxels() int {
	return g.Size[0] * g.Size[1] * g.Size[2]
}

// Axis returns the unit direction of axis a.
func (g Grid) Axis(a int) [3]float64 {
	return [3]float64{g.Direction[0][a], g.Direction[1][a], g.Direction[2][a]}
}

// Point returns the physical coordinates of a (possibly fractional) index.
func (g Grid) Point(i, j, k float64) [3]float64 {
	idx := [3]float64{i * g.Spacing[0], j * g.Spacing[1], k * g.Spacing[2]}
	var p [3]float64
	for r := 0; r < 3; r++ {
		p[r] = g.Origin[r] + g.Direction[r][0]*idx[0] + g.Direction[r][1]*idx[1] + g.Direction[r][2]*idx[2]
	}
	return p
}

// Determinant returns det(Direction).
func (g Grid) Determinant() float64 {
	d := g.Direction
	return d[0][0]*(d[1][1]*d[2][2]-d[1][2]*d[2][1]) -
		d[0][1]*(d[1][0]*d[2][2]-d[1][2]*d[2][0]) +
		d[0][2]*(d[1][0]*d[2][1]-d[1][1]*d[2][0])
}

// Validate reports degenerate geometry: non-positive or non-finite size or
// spacing, non-finite origin, or a (near) singular direction matrix.
func (g Grid) Validate() error {
	for a := 0; a < 3; a++ {
		if g.Size[a] <= 0 {
			return fmt.Errorf("size[%d] = %d is not positive", a, g.Size[a])
		}
		if !(g.Spacing[a] > 0) || math.IsInf(g.Spacing[a], 0) {
			return fmt.Errorf("spacing[%d] = %g is not positive", a, g.Spacing[a])
		}
		if math.IsNaN(g.Origin[a]) || math.IsInf(g.Origin[a], 0) {
			return fmt.Errorf("origin[%d] = %g is not finite", a, g.Origin[a])
		}
	}
	if det := g.Determinant(); math.IsNaN(det) || math.Abs(det) < 1e-6 {
		return fmt.Errorf("direction matrix is not invertible (det = %g)", det)
	}
	return nil
}

// Equal reports whether two grids match within tol on every float attribute
// and exactly on size.
func (g Grid) Equal(o Grid, tol float64) bool {
	if g.Size != o.Size {
		return false
	}
	for a := 0; a < 3; a++ {
		if math.Abs(g.Spacing[a]-o.Spacing[a]) > tol || math.Abs(g.Origin[a]-o.Origin[a]) > tol {
			return false
		}
		for b := 0; b < 3; b++ {
			if math.Abs(g.Direction[a][b]-o.Direction[a][b]) > tol {
				return false
			}
		}
	}
	return true
}

// String formats the grid for logs.
func (g Grid) String() string {
	return fmt.Sprintf("size=%dx%dx%d spacing=%s origin=%s", g.Size[0], g.Size[1], g.Size[2],
		FormatVector(g.Spacing), FormatVector(g.Origin))
}

// Volume is a scalar image on a Grid. Data is x-fastest:
// index = i + Size[0]*(j + Size[1]*k).
type Volume struct {
	Grid Grid
	Data []float32
}

// New allocates a zero-filled volume on g.
func New(g Grid) *Volume {
	return &Volume{Grid: g, Data: make([]float32, g.NumVoxels())}
}

// Index returns the offset of voxel (i, j, k) in Data.
func (v *Volume) Index(i, j, k int) int {
	return i + v.Grid.Size[0]*(j+v.Grid.Size[1]*k)
}

// At returns the value of voxel (i, j, k).
func (v *Volume) At(i, j, k int) float32 {
	return v.Data[v.Index(i, j, k)]
}

// Set stores value at voxel (i, j, k).
func (v *Volume) Set(i, j, k int, value float32) {
	v.Data[v.Index(i, j, k)] = value
}

// Check verifies that Data matches the grid size.
func (v *Volume) Check() error {
	if len(v.Data) != v.Grid.NumVoxels() {
		return fmt.Errorf("volume holds %d voxels, grid expects %d", len(v.Data), v.Grid.NumVoxels())
	}
	return nil
}

// FormatVector prints a vector with the shortest exact representation of each
// component, separated by spaces.
func FormatVector(v [3]float64) string {
	return fmt.Sprintf("%s %s %s", formatFloat(v[0]), formatFloat(v[1]), formatFloat(v[2]))
}
