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

type zeroNoise struct{}

func (zeroNoise) Gaussian(float64) float64 { return 0 }

// fullNoise always draws exactly one standard deviation
type fullNoise struct{}

func (fullNoise) Gaussian(stddev float64) float64 { return stddev }

// rotatedPair builds a one-keypoint global map whose feature is turned 90°
// against a one-keypoint local map
func rotatedPair() (local, global *FeatureMap) {
	global = &FeatureMap{
		Grid:      NewOccupancyGrid(20, 20, 0.1, Pose2D{}, CellFree),
		Keypoints: []Keypoint{{U: 10, V: 10, X: 1.0, Y: 1.0, Class: Saddle}},
		Features:  []OrientationFeature{{DominantOrientation: math.Pi / 2, Histogram: hist(1), Cells: 1}},
	}
	local = &FeatureMap{
		Keypoints: []Keypoint{{X: 0.2, Y: 0, Class: Saddle}},
		Features:  []OrientationFeature{{DominantOrientation: 0, Histogram: hist(1), Cells: 1}},
	}
	return local, global
}

var onlyMatch = Correspondence{LocalIndex: 0, GlobalIndex: 0}

// ---------------------------------------------------------------------------
// Candidate
// ---------------------------------------------------------------------------

func TestPoseGenerator_CandidateRotation(t *testing.T) {
	local, global := rotatedPair()
	want := Pose2D{X: 1.0, Y: 0.8, Yaw: math.Pi / 2}

	tests := []struct {
		name   string
		offset Pose2D
	}{
		{"sensor at body origin", Pose2D{}},
		{"sensor ahead of body", Pose2D{X: 0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewPoseGenerator(HypothesisConfig{}, tt.offset, 0, zeroNoise{})
			got, ok := g.Candidate(Pose2D{}, local, global, onlyMatch)
			require.True(t, ok)
			if !posesEqual(got, want, 1e-9) {
				t.Errorf("Candidate = %+v, want %+v", got, want)
			}
		})
	}
}

func TestPoseGenerator_CandidateRejections(t *testing.T) {
	t.Run("occupied cell", func(t *testing.T) {
		local, global := rotatedPair()
		global.Grid.Set(10, 8, CellOccupied)
		g := NewPoseGenerator(HypothesisConfig{}, Pose2D{}, 0, zeroNoise{})
		_, ok := g.Candidate(Pose2D{}, local, global, onlyMatch)
		assert.False(t, ok)
	})

	t.Run("unknown cell", func(t *testing.T) {
		local, global := rotatedPair()
		global.Grid.Set(10, 8, CellUnknown)
		g := NewPoseGenerator(HypothesisConfig{}, Pose2D{}, 0, zeroNoise{})
		_, ok := g.Candidate(Pose2D{}, local, global, onlyMatch)
		assert.False(t, ok)
	})

	t.Run("outside the grid", func(t *testing.T) {
		local, global := rotatedPair()
		global.Keypoints[0].X, global.Keypoints[0].Y = 0.05, 0.05
		g := NewPoseGenerator(HypothesisConfig{}, Pose2D{}, 0, zeroNoise{})
		_, ok := g.Candidate(Pose2D{}, local, global, onlyMatch)
		assert.False(t, ok)
	})
}

// The same room seen in a frame shifted by (-0.5, +0.2): the recovered pose
// must undo the shift.
func TestPoseGenerator_RecoversShiftedFrame(t *testing.T) {
	cfg := SamplerConfig{
		KeypointConfig:    ringKeypointConfig(),
		MatchConfig:       MatchConfig{AverageDistanceDeltaTH: 1.0},
		FeatureWindowSize: 0.3,
		Blur:              BlurConfig{KernelSize: 5, Sigma: 5},
	}
	global, err := BuildFeatureMap(ringGrid(), cfg)
	require.NoError(t, err)

	shifted := ringGrid()
	shifted.Origin = Pose2D{X: -0.5, Y: 0.2}
	local, err := BuildFeatureMap(shifted, cfg)
	require.NoError(t, err)

	matches := AcceptedMatches(MatchFeatures(local, global, cfg.MatchConfig))
	require.Len(t, matches, 1)

	g := NewPoseGenerator(HypothesisConfig{}, Pose2D{}, 0, zeroNoise{})
	poses := g.Generate(Pose2D{X: 0.5, Y: 1.0}, local, global, matches, nil)
	require.Len(t, poses, 1)

	want := Pose2D{X: 1.0, Y: 0.8}
	if !posesEqual(poses[0].Pose, want, 1e-9) {
		t.Errorf("pose = %+v, want %+v", poses[0].Pose, want)
	}
	assert.Equal(t, 0, poses[0].LocalIndex)
	assert.Equal(t, 0, poses[0].GlobalIndex)
}

// ---------------------------------------------------------------------------
// Generate
// ---------------------------------------------------------------------------

func TestPoseGenerator_OppositeSamples(t *testing.T) {
	local, global := rotatedPair()
	cfg := HypothesisConfig{AddRandomSamples: true, AddOppositeSamples: true, RandomSamplesNum: 10}
	g := NewPoseGenerator(cfg, Pose2D{}, 0, zeroNoise{})

	poses := g.Generate(Pose2D{}, local, global, []Correspondence{onlyMatch}, nil)
	require.Len(t, poses, 10)

	forward, backward := 0, 0
	for i, h := range poses {
		assert.InDelta(t, 1.0, h.Pose.X, 1e-9)
		assert.InDelta(t, 0.8, h.Pose.Y, 1e-9)
		switch {
		case math.Abs(NormalizeYaw(h.Pose.Yaw-math.Pi/2)) < 1e-9:
			forward++
			assert.Zero(t, i%2, "sample %d should face forward", i)
		case math.Abs(NormalizeYaw(h.Pose.Yaw+math.Pi/2)) < 1e-9:
			backward++
			assert.Equal(t, 1, i%2, "sample %d should face backward", i)
		default:
			t.Errorf("sample %d yaw %v is neither forward nor opposite", i, h.Pose.Yaw)
		}
	}
	assert.Equal(t, 5, forward)
	assert.Equal(t, 5, backward)
}

func TestPoseGenerator_RandomSamplesUseConfiguredNoise(t *testing.T) {
	local, global := rotatedPair()
	cfg := HypothesisConfig{
		AddRandomSamples:      true,
		RandomSamplesNum:      3,
		PositionalRandomNoise: 0.2,
		AngularRandomNoise:    0.1,
	}
	g := NewPoseGenerator(cfg, Pose2D{}, 0, fullNoise{})

	poses := g.Generate(Pose2D{}, local, global, []Correspondence{onlyMatch}, nil)
	require.Len(t, poses, 3)
	for _, h := range poses {
		assert.InDelta(t, 1.2, h.Pose.X, 1e-9)
		assert.InDelta(t, 1.0, h.Pose.Y, 1e-9)
		assert.InDelta(t, math.Pi/2+0.1, h.Pose.Yaw, 1e-9)
	}
}

func TestPoseGenerator_SkipsUnmatched(t *testing.T) {
	local, global := rotatedPair()
	g := NewPoseGenerator(HypothesisConfig{}, Pose2D{}, 0, zeroNoise{})
	poses := g.Generate(Pose2D{}, local, global, []Correspondence{{LocalIndex: 0, GlobalIndex: -1}}, nil)
	assert.Empty(t, poses)
}

func TestPoseGenerator_Verification(t *testing.T) {
	// One beam pointing along +x in the map frame once the body faces +y.
	scan := &LaserScan{AngleMin: -math.Pi / 2, AngleIncrement: 0.1, RangeMax: 2, Ranges: []float64{0.55}}
	cfg := HypothesisConfig{MatchingRateTH: 0.5}

	t.Run("no wall rejects", func(t *testing.T) {
		local, global := rotatedPair()
		g := NewPoseGenerator(cfg, Pose2D{}, 0.1, zeroNoise{})
		assert.Empty(t, g.Generate(Pose2D{}, local, global, []Correspondence{onlyMatch}, scan))
	})

	t.Run("wall accepts", func(t *testing.T) {
		local, global := rotatedPair()
		for v := 0; v < global.Grid.Height; v++ {
			global.Grid.Set(15, v, CellOccupied)
		}
		g := NewPoseGenerator(cfg, Pose2D{}, 0.1, zeroNoise{})
		poses := g.Generate(Pose2D{}, local, global, []Correspondence{onlyMatch}, scan)
		require.Len(t, poses, 1)
		assert.Equal(t, 1.0, poses[0].MatchingRate)
	})

	t.Run("nil scan skips verification", func(t *testing.T) {
		local, global := rotatedPair()
		g := NewPoseGenerator(cfg, Pose2D{}, 0.1, zeroNoise{})
		assert.Len(t, g.Generate(Pose2D{}, local, global, []Correspondence{onlyMatch}, nil), 1)
	})
}

// ---------------------------------------------------------------------------
// MatchingRate
// ---------------------------------------------------------------------------

func wallGrid() *OccupancyGrid {
	grid := NewOccupancyGrid(20, 20, 0.1, Pose2D{}, CellFree)
	for v := 0; v < grid.Height; v++ {
		grid.Set(15, v, CellOccupied)
	}
	return grid
}

func TestMatchingRate(t *testing.T) {
	scan := &LaserScan{
		AngleIncrement: math.Pi / 2,
		RangeMax:       5,
		Ranges:         []float64{1.0, 0.5, math.NaN()},
	}
	rate := MatchingRate(Pose2D{X: 0.55, Y: 1.05}, scan, Pose2D{}, wallGrid(), 0.1)
	assert.InDelta(t, 0.5, rate, 1e-12)
}

func TestMatchingRate_NeighbourCounts(t *testing.T) {
	// Ends one cell short of the wall
	scan := &LaserScan{RangeMax: 5, AngleIncrement: 0.1, Ranges: []float64{0.9}}
	rate := MatchingRate(Pose2D{X: 0.55, Y: 1.05}, scan, Pose2D{}, wallGrid(), 0.1)
	assert.Equal(t, 1.0, rate)
}

func TestMatchingRate_NoValidBeams(t *testing.T) {
	tests := []struct {
		name   string
		ranges []float64
	}{
		{"empty", nil},
		{"all NaN", []float64{math.NaN(), math.NaN()}},
		{"all below min range", []float64{0.01, 0.02}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scan := &LaserScan{RangeMax: 5, AngleIncrement: 0.1, Ranges: tt.ranges}
			rate := MatchingRate(Pose2D{X: 1, Y: 1}, scan, Pose2D{}, wallGrid(), 0.1)
			assert.Equal(t, 0.0, rate)
		})
	}
}

func TestMatchingRate_BorderEndpointsAreMisses(t *testing.T) {
	grid := NewOccupancyGrid(20, 20, 0.1, Pose2D{}, CellOccupied)
	scan := &LaserScan{RangeMax: 5, AngleIncrement: 0.1, Ranges: []float64{1.9}}
	// Endpoint lands in column 19, the last one
	rate := MatchingRate(Pose2D{X: 0.05, Y: 1.05}, scan, Pose2D{}, grid, 0.1)
	assert.Equal(t, 0.0, rate)
}

func TestBoxMuller_Deterministic(t *testing.T) {
	a, b := NewBoxMuller(42), NewBoxMuller(42)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Gaussian(1), b.Gaussian(1))
	}
	assert.Equal(t, 0.0, NewBoxMuller(7).Gaussian(0))
}

func TestBoxMuller_Moments(t *testing.T) {
	g := NewBoxMuller(3)
	const n = 20000
	sum, sumSq := 0.0, 0.0
	for i := 0; i < n; i++ {
		x := g.Gaussian(2)
		sum += x
		sumSq += x * x
	}
	mean := sum / n
	assert.InDelta(t, 0, mean, 0.1)
	assert.InDelta(t, 4, sumSq/n-mean*mean, 0.3)
}
