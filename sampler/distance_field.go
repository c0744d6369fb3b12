package sampler

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// edtInfinity stands in for "no obstacle seen yet" in the squared transform
const edtInfinity = 1e20

var errInvalidGrid = errors.New("occupancy grid is empty or inconsistent")

// BlurConfig controls the smoothing pass applied after the distance transform
type BlurConfig struct {
	KernelSize int     `yaml:"kernelSize" json:"kernelSize"`
	Sigma      float64 `yaml:"sigma" json:"sigma"`
}

// DistanceField holds, per grid cell, the metric distance to the nearest
// occupied cell. Rows are grid rows (v), columns are grid columns (u).
type DistanceField struct {
	Resolution float64
	data       *mat.Dense
}

// NewDistanceField wraps row-major values (index v*width+u) as a field
func NewDistanceField(width, height int, resolution float64, values []float64) *DistanceField {
	return &DistanceField{Resolution: resolution, data: mat.NewDense(height, width, values)}
}

// Dims returns the field's width and height in cells
func (f *DistanceField) Dims() (width, height int) {
	rows, cols := f.data.Dims()
	return cols, rows
}

// At returns the distance at column u, row v
func (f *DistanceField) At(u, v int) float64 {
	return f.data.At(v, u)
}

// Max returns the largest distance in the field
func (f *DistanceField) Max() float64 {
	return mat.Max(f.data)
}

// BuildDistanceField computes the Euclidean distance transform of the grid's
// occupied cells, scales it to metres and smooths it.
//
// A grid without any occupied cell saturates to its diagonal length; a grid
// made only of obstacles yields zeros.
func BuildDistanceField(grid *OccupancyGrid, blur BlurConfig) (*DistanceField, error) {
	if !grid.Valid() {
		return nil, errInvalidGrid
	}
	w, h := grid.Width, grid.Height

	sq := make([]float64, w*h)
	hasObstacle := false
	for i, c := range grid.Data {
		if c == CellOccupied {
			hasObstacle = true
		} else {
			sq[i] = edtInfinity
		}
	}

	values := make([]float64, w*h)
	if !hasObstacle {
		diag := math.Hypot(float64(w), float64(h)) * grid.Resolution
		for i := range values {
			values[i] = diag
		}
		return NewDistanceField(w, h, grid.Resolution, values), nil
	}

	// Columns first, then rows: the squared transform is separable.
	col := make([]float64, h)
	out := make([]float64, max(w, h))
	for u := 0; u < w; u++ {
		for v := 0; v < h; v++ {
			col[v] = sq[v*w+u]
		}
		squaredDistance1D(col, out[:h])
		for v := 0; v < h; v++ {
			sq[v*w+u] = out[v]
		}
	}
	for v := 0; v < h; v++ {
		row := sq[v*w : (v+1)*w]
		squaredDistance1D(row, out[:w])
		copy(row, out[:w])
	}

	for i, d := range sq {
		values[i] = math.Sqrt(d) * grid.Resolution
	}
	field := NewDistanceField(w, h, grid.Resolution, values)
	if blur.KernelSize > 1 && blur.Sigma > 0 {
		field.data = gaussianBlur(field.data, blur.KernelSize, blur.Sigma)
	}
	return field, nil
}

// squaredDistance1D is the lower-envelope-of-parabolas transform
// (Felzenszwalb & Huttenlocher) of f, written into d.
func squaredDistance1D(f, d []float64) {
	n := len(f)
	v := make([]int, n)
	z := make([]float64, n+1)
	intersect := func(q, p int) float64 {
		return ((f[q] + float64(q*q)) - (f[p] + float64(p*p))) / float64(2*q-2*p)
	}

	k := 0
	z[0] = math.Inf(-1)
	z[1] = math.Inf(1)
	for q := 1; q < n; q++ {
		s := intersect(q, v[k])
		for s <= z[k] {
			k--
			s = intersect(q, v[k])
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}
	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		diff := float64(q - v[k])
		d[q] = diff*diff + f[v[k]]
	}
}

// gaussianKernel returns a normalized 1D Gaussian of the given odd size
func gaussianKernel(size int, sigma float64) []float64 {
	if size%2 == 0 {
		size++
	}
	kernel := make([]float64, size)
	half := size / 2
	for i := range kernel {
		x := float64(i - half)
		kernel[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
	}
	floats.Scale(1/floats.Sum(kernel), kernel)
	return kernel
}

// reflect101 mirrors an out-of-range index without repeating the edge cell
// (…, 2, 1 | 0, 1, 2, …)
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

// gaussianBlur applies a separable Gaussian blur with reflect-101 borders
func gaussianBlur(m *mat.Dense, size int, sigma float64) *mat.Dense {
	kernel := gaussianKernel(size, sigma)
	half := len(kernel) / 2
	rows, cols := m.Dims()

	tmp := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			sum := 0.0
			for k, w := range kernel {
				sum += w * m.At(r, reflect101(c+k-half, cols))
			}
			tmp.Set(r, c, sum)
		}
	}

	out := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			sum := 0.0
			for k, w := range kernel {
				sum += w * tmp.At(reflect101(r+k-half, rows), c)
			}
			out.Set(r, c, sum)
		}
	}
	return out
}
