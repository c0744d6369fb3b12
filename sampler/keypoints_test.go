package sampler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// ringGrid is a 20x20 room at 0.1 m: a circular wall of radius ~9 cells
// around (10,10), free inside and unknown outside
func ringGrid() *OccupancyGrid {
	grid := NewOccupancyGrid(20, 20, 0.1, Pose2D{}, CellUnknown)
	for v := 0; v < grid.Height; v++ {
		for u := 0; u < grid.Width; u++ {
			r := math.Hypot(float64(u-10), float64(v-10))
			switch {
			case math.Abs(r-9) < 0.5:
				grid.Set(u, v, CellOccupied)
			case r < 8.5:
				grid.Set(u, v, CellFree)
			}
		}
	}
	return grid
}

func ringKeypointConfig() KeypointConfig {
	return KeypointConfig{GradientSquareTH: 1e-3, MinDistFromMap: 0.3}
}

var (
	peak = Neighborhood{
		{0, 1, 0},
		{1, 2, 1},
		{0, 1, 0},
	}
	bowl = Neighborhood{
		{0, -1, 0},
		{-1, -2, -1},
		{0, -1, 0},
	}
	pass = Neighborhood{
		{0, -1, 0},
		{1, 0, 1},
		{0, -1, 0},
	}
	slope = Neighborhood{
		{0, 1, 2},
		{0, 1, 2},
		{0, 1, 2},
	}
)

// ---------------------------------------------------------------------------
// Classify
// ---------------------------------------------------------------------------

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		d    Derivatives
		want Classification
	}{
		{"peak", Derivatives{Dxx: -2, Dyy: -2}, Maximum},
		{"bowl", Derivatives{Dxx: 2, Dyy: 2}, Minimum},
		{"saddle", Derivatives{Dxx: 2, Dyy: -2}, Saddle},
		{"saddle from cross term", Derivatives{Dxx: 1, Dyy: 1, Dxy: 3}, Saddle},
		{"flat", Derivatives{}, Invalid},
		{"ridge", Derivatives{Dxx: -2}, Invalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.d); got != tt.want {
				t.Errorf("Classify(%+v) = %v, want %v", tt.d, got, tt.want)
			}
		})
	}
}

func TestClassifyNeighborhood(t *testing.T) {
	tests := []struct {
		name string
		n    Neighborhood
		want Classification
	}{
		{"peak", peak, Maximum},
		{"bowl", bowl, Minimum},
		{"pass", pass, Saddle},
		{"slope fails flatness", slope, Invalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyNeighborhood(tt.n, 1e-3); got != tt.want {
				t.Errorf("ClassifyNeighborhood = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyNeighborhood_Deterministic(t *testing.T) {
	for _, n := range []Neighborhood{peak, bowl, pass, slope} {
		first := ClassifyNeighborhood(n, 1e-3)
		for i := 0; i < 5; i++ {
			if got := ClassifyNeighborhood(n, 1e-3); got != first {
				t.Fatalf("ClassifyNeighborhood changed from %v to %v", first, got)
			}
		}
	}
}

func TestNeighborhood_Differentiate(t *testing.T) {
	d := slope.Differentiate()
	assert.Equal(t, 6.0, d.Dx)
	assert.Equal(t, 0.0, d.Dy)
	assert.Equal(t, 0.0, d.Dxx)
	assert.Equal(t, 0.0, d.Dyy)

	d = peak.Differentiate()
	assert.Equal(t, Derivatives{Dxx: -2, Dyy: -2}, d)
	assert.Equal(t, 4.0, d.Det())
}

func TestClassification_String(t *testing.T) {
	assert.Equal(t, "maximum", Maximum.String())
	assert.Equal(t, "minimum", Minimum.String())
	assert.Equal(t, "saddle", Saddle.String())
	assert.Equal(t, "invalid", Invalid.String())
}

// ---------------------------------------------------------------------------
// DetectKeypoints
// ---------------------------------------------------------------------------

func TestDetectKeypoints_RingHasSingleCentralMaximum(t *testing.T) {
	grid := ringGrid()
	field, err := BuildDistanceField(grid, BlurConfig{KernelSize: 5, Sigma: 5})
	require.NoError(t, err)

	keypoints := DetectKeypoints(grid, field, ringKeypointConfig())
	require.Len(t, keypoints, 1)

	kp := keypoints[0]
	assert.Equal(t, Maximum, kp.Class)
	assert.Equal(t, 10, kp.U)
	assert.Equal(t, 10, kp.V)
	assert.InDelta(t, 1.0, kp.X, 1e-9)
	assert.InDelta(t, 1.0, kp.Y, 1e-9)

	counts := CountByClass(keypoints)
	assert.Equal(t, 1, counts[Maximum])
	assert.Equal(t, 0, counts[Minimum])
}

func TestDetectKeypoints_Invariants(t *testing.T) {
	grid := ringGrid()
	field, err := BuildDistanceField(grid, BlurConfig{KernelSize: 5, Sigma: 5})
	require.NoError(t, err)

	cfg := KeypointConfig{GradientSquareTH: 1, MinDistFromMap: 0.2}
	for _, kp := range DetectKeypoints(grid, field, cfg) {
		if kp.U < 1 || kp.U > grid.Width-2 || kp.V < 1 || kp.V > grid.Height-2 {
			t.Errorf("keypoint (%d,%d) on the grid border", kp.U, kp.V)
		}
		if grid.At(kp.U, kp.V) != CellFree {
			t.Errorf("keypoint (%d,%d) on a non-free cell", kp.U, kp.V)
		}
		if field.At(kp.U, kp.V) < cfg.MinDistFromMap {
			t.Errorf("keypoint (%d,%d) distance %v below %v", kp.U, kp.V, field.At(kp.U, kp.V), cfg.MinDistFromMap)
		}
		if kp.Class == Invalid {
			t.Errorf("keypoint (%d,%d) has Invalid class", kp.U, kp.V)
		}
	}
}

func TestDetectKeypoints_MinDistanceFiltersAll(t *testing.T) {
	grid := ringGrid()
	field, err := BuildDistanceField(grid, BlurConfig{KernelSize: 5, Sigma: 5})
	require.NoError(t, err)

	cfg := ringKeypointConfig()
	cfg.MinDistFromMap = field.Max() + 1
	assert.Empty(t, DetectKeypoints(grid, field, cfg))
}
