package sampler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleBeamScan(r float64) LaserScan {
	return LaserScan{
		AngleIncrement: 0.1,
		RangeMin:       0.05,
		RangeMax:       2.0,
		Ranges:         []float64{r},
	}
}

func TestBuildLocalMap_SingleBeam(t *testing.T) {
	frames := []Keyframe{{Scan: singleBeamScan(1.0), Pose: Pose2D{}}}

	grid := BuildLocalMap(frames, Pose2D{}, 0.1, 0)
	require.NotNil(t, grid)

	assert.Equal(t, 60, grid.Width)
	assert.Equal(t, 60, grid.Height)
	assert.InDelta(t, -3.0, grid.Origin.X, 1e-12)
	assert.InDelta(t, -3.0, grid.Origin.Y, 1e-12)

	assert.Equal(t, CellFree, grid.At(30, 30), "sensor cell")
	assert.Equal(t, CellFree, grid.At(35, 30), "mid-beam cell")
	assert.Equal(t, CellOccupied, grid.At(40, 30), "beam end")
	assert.Equal(t, CellUnknown, grid.At(30, 40), "untouched cell")
}

func TestBuildLocalMap_SensorOffset(t *testing.T) {
	frames := []Keyframe{{Scan: singleBeamScan(1.0), Pose: Pose2D{}}}

	grid := BuildLocalMap(frames, Pose2D{X: 0.5}, 0.1, 0)
	require.NotNil(t, grid)
	assert.Equal(t, CellOccupied, grid.At(45, 30))
	assert.Equal(t, CellUnknown, grid.At(30, 30))
}

func TestBuildLocalMap_CentredOnOldestKeyframe(t *testing.T) {
	frames := []Keyframe{
		{Scan: singleBeamScan(1.0), Pose: Pose2D{X: 1.0}},
		{Scan: singleBeamScan(1.0), Pose: Pose2D{X: 0.0}},
	}

	grid := BuildLocalMap(frames, Pose2D{}, 0.1, 0)
	require.NotNil(t, grid)
	assert.InDelta(t, -3.0, grid.Origin.X, 1e-12)
	// The newest frame is drawn first, so the oldest frame's endpoint wins
	// over the free cell the newest beam started on.
	assert.Equal(t, CellOccupied, grid.At(40, 30))
	assert.Equal(t, CellOccupied, grid.At(50, 30))
}

func TestBuildLocalMap_DropsShortAndInvalidBeams(t *testing.T) {
	scan := singleBeamScan(0.4)
	scan.Ranges = append(scan.Ranges, 5.0) // beyond RangeMax

	grid := BuildLocalMap([]Keyframe{{Scan: scan}}, Pose2D{}, 0.1, 0.5)
	require.NotNil(t, grid)
	for i, c := range grid.Data {
		if c != CellUnknown {
			t.Fatalf("cell %d = %d, want unknown", i, c)
		}
	}
}

func TestBuildLocalMap_FirstColumnUntouched(t *testing.T) {
	tests := []struct {
		name string
		r    float64
		u    int
		want int8
	}{
		{"end in column 0", 0.95, 0, CellUnknown},
		{"end in column 1", 0.85, 1, CellOccupied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scan := singleBeamScan(tt.r)
			scan.AngleMin = math.Pi
			frames := []Keyframe{
				{Scan: scan, Pose: Pose2D{X: -2.0}},
				{Scan: singleBeamScan(1.0), Pose: Pose2D{}},
			}
			grid := BuildLocalMap(frames, Pose2D{}, 0.1, 0)
			require.NotNil(t, grid)
			assert.Equal(t, tt.want, grid.At(tt.u, 30))
			assert.Equal(t, CellFree, grid.At(5, 30))
		})
	}
}

func TestBuildLocalMap_Empty(t *testing.T) {
	assert.Nil(t, BuildLocalMap(nil, Pose2D{}, 0.1, 0))
	assert.Nil(t, BuildLocalMap([]Keyframe{{Scan: singleBeamScan(1)}}, Pose2D{}, 0, 0))
}
