package resample

import (
	"math"
	"testing"

	"github.com/mrsinham/dicomprep/internal/failure"
	"github.com/mrsinham/dicomprep/internal/volume"
)

func grid(size [3]int, spacing, origin [3]float64) volume.Grid {
	return volume.Grid{Size: size, Spacing: spacing, Origin: origin, Direction: volume.Identity}
}

// fill sets every voxel of v to f evaluated at the voxel's physical point.
func fill(v *volume.Volume, f func(p [3]float64) float64) {
	g := v.Grid
	for k := 0; k < g.Size[2]; k++ {
		for j := 0; j < g.Size[1]; j++ {
			for i := 0; i < g.Size[0]; i++ {
				v.Set(i, j, k, float32(f(g.Point(float64(i), float64(j), float64(k)))))
			}
		}
	}
}

func linearField(p [3]float64) float64 {
	return 10 + 3*p[0] - 2*p[1] + 0.5*p[2]
}

func TestResample_SameGrid(t *testing.T) {
	src := volume.New(grid([3]int{4, 3, 2}, [3]float64{1, 1, 2}, [3]float64{0, 0, 0}))
	fill(src, linearField)

	out, err := Resample(src, src.Grid)
	if err != nil {
		t.Fatalf("Resample() error: %v", err)
	}
	if out.Grid != src.Grid {
		t.Errorf("grid = %v, want %v", out.Grid, src.Grid)
	}
	for i := range src.Data {
		if out.Data[i] != src.Data[i] {
			t.Fatalf("voxel %d = %v, want %v", i, out.Data[i], src.Data[i])
		}
	}
	out.Data[0] = -1
	if src.Data[0] == -1 {
		t.Error("output shares storage with the source")
	}
}

func TestResample_ReproducesLinearField(t *testing.T) {
	src := volume.New(grid([3]int{10, 8, 6}, [3]float64{1, 1.5, 3}, [3]float64{-5, -6, 0}))
	fill(src, linearField)

	tests := []struct {
		name string
		ref  volume.Grid
	}{
		{"finer", grid([3]int{12, 10, 8}, [3]float64{0.5, 0.75, 1.5}, [3]float64{-3, -4, 1})},
		{"coarser", grid([3]int{4, 3, 2}, [3]float64{2, 3, 6}, [3]float64{-4.5, -5, 2})},
		{"rotated", volume.Grid{
			Size:      [3]int{5, 5, 3},
			Spacing:   [3]float64{1, 1, 2},
			Origin:    [3]float64{2, -3, 3},
			Direction: [3][3]float64{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Resample(src, tt.ref)
			if err != nil {
				t.Fatalf("Resample() error: %v", err)
			}
			if out.Grid != tt.ref {
				t.Fatalf("grid = %v, want %v", out.Grid, tt.ref)
			}
			g := tt.ref
			for k := 0; k < g.Size[2]; k++ {
				for j := 0; j < g.Size[1]; j++ {
					for i := 0; i < g.Size[0]; i++ {
						want := linearField(g.Point(float64(i), float64(j), float64(k)))
						if got := float64(out.At(i, j, k)); math.Abs(got-want) > 1e-3 {
							t.Fatalf("voxel (%d,%d,%d) = %v, want %v", i, j, k, got, want)
						}
					}
				}
			}
		})
	}
}

func TestResample_Translation(t *testing.T) {
	src := volume.New(grid([3]int{4, 1, 1}, [3]float64{1, 1, 1}, [3]float64{0, 0, 0}))
	copy(src.Data, []float32{1, 2, 3, 4})

	ref := grid([3]int{4, 1, 1}, [3]float64{1, 1, 1}, [3]float64{1, 0, 0})
	out, err := Resample(src, ref, WithFillValue(-7))
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{2, 3, 4, -7}
	for i := range want {
		if math.Abs(float64(out.Data[i]-want[i])) > 1e-6 {
			t.Errorf("voxel %d = %v, want %v", i, out.Data[i], want[i])
		}
	}
}

func TestResample_HalfVoxelBoundary(t *testing.T) {
	src := volume.New(grid([3]int{4, 1, 1}, [3]float64{1, 1, 1}, [3]float64{0, 0, 0}))
	copy(src.Data, []float32{5, 6, 7, 8})

	tests := []struct {
		name   string
		origin float64
		want   float32
	}{
		{"lower edge inside", -0.5, 5},
		{"below lower edge", -0.6, 0},
		{"upper edge inside", 3.5, 8},
		{"above upper edge", 3.6, 0},
		{"between voxels", 1.25, 6.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := grid([3]int{1, 1, 1}, [3]float64{1, 1, 1}, [3]float64{tt.origin, 0, 0})
			out, err := Resample(src, ref)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(float64(out.Data[0]-tt.want)) > 1e-5 {
				t.Errorf("value = %v, want %v", out.Data[0], tt.want)
			}
		})
	}
}

func TestResample_Nearest(t *testing.T) {
	src := volume.New(grid([3]int{4, 1, 1}, [3]float64{1, 1, 1}, [3]float64{0, 0, 0}))
	copy(src.Data, []float32{1, 2, 3, 4})

	ref := grid([3]int{7, 1, 1}, [3]float64{0.5, 1, 1}, [3]float64{0, 0, 0})
	out, err := Resample(src, ref, WithInterpolator(Nearest))
	if err != nil {
		t.Fatal(err)
	}
	// 0, 0.5, 1, 1.5, 2, 2.5, 3 rounds half up
	want := []float32{1, 2, 2, 3, 3, 4, 4}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Errorf("voxel %d = %v, want %v", i, out.Data[i], want[i])
		}
	}
	if Nearest.String() != "nearest" || Linear.String() != "linear" {
		t.Error("unexpected interpolator names")
	}
}

func TestResample_BitDeterministic(t *testing.T) {
	src := volume.New(grid([3]int{9, 7, 5}, [3]float64{0.7, 0.9, 2.5}, [3]float64{-3.1, -2.2, 0.4}))
	fill(src, func(p [3]float64) float64 { return math.Sin(p[0]) * math.Cos(p[1]) * 100 * p[2] })
	ref := volume.Grid{
		Size:      [3]int{8, 8, 6},
		Spacing:   [3]float64{0.55, 0.6, 2},
		Origin:    [3]float64{-2.5, -1.9, 0.1},
		Direction: [3][3]float64{{0.98, -0.199, 0}, {0.199, 0.98, 0}, {0, 0, 1}},
	}

	first, err := Resample(src, ref)
	if err != nil {
		t.Fatal(err)
	}
	for run := 0; run < 3; run++ {
		again, err := Resample(src, ref)
		if err != nil {
			t.Fatal(err)
		}
		for i := range first.Data {
			if math.Float32bits(first.Data[i]) != math.Float32bits(again.Data[i]) {
				t.Fatalf("run %d voxel %d differs: %v vs %v", run, i, first.Data[i], again.Data[i])
			}
		}
	}
}

func TestResample_Errors(t *testing.T) {
	good := grid([3]int{2, 2, 2}, [3]float64{1, 1, 1}, [3]float64{0, 0, 0})

	zeroSpacing := good
	zeroSpacing.Spacing[2] = 0
	singular := good
	singular.Direction = [3][3]float64{{1, 0, 0}, {1, 0, 0}, {0, 0, 1}}
	emptySize := good
	emptySize.Size[0] = 0

	tests := []struct {
		name string
		src  *volume.Volume
		ref  volume.Grid
	}{
		{"zero source spacing", volume.New(zeroSpacing), good},
		{"singular source direction", volume.New(singular), good},
		{"zero reference spacing", volume.New(good), zeroSpacing},
		{"singular reference direction", volume.New(good), singular},
		{"empty reference", volume.New(good), emptySize},
		{"data length mismatch", &volume.Volume{Grid: good, Data: make([]float32, 3)}, good},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resample(tt.src, tt.ref)
			if !failure.Is(err, failure.Resampling) {
				t.Errorf("expected ResamplingError, got %v", err)
			}
		})
	}
}
