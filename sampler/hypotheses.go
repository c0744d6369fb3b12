package sampler

import (
	"math"
	"math/rand"
)

// HypothesisConfig controls pose generation and verification
type HypothesisConfig struct {
	AddRandomSamples      bool    `yaml:"addRandomSamples" json:"addRandomSamples"`
	AddOppositeSamples    bool    `yaml:"addOppositeSamples" json:"addOppositeSamples"`
	RandomSamplesNum      int     `yaml:"randomSamplesNum" json:"randomSamplesNum"`
	PositionalRandomNoise float64 `yaml:"positionalRandomNoise" json:"positionalRandomNoise"` // metres
	AngularRandomNoise    float64 `yaml:"angularRandomNoise" json:"angularRandomNoise"`       // radians
	MatchingRateTH        float64 `yaml:"matchingRateTh" json:"matchingRateTh"`
}

// NoiseSource draws zero-mean Gaussian noise with the given deviation
type NoiseSource interface {
	Gaussian(stddev float64) float64
}

// BoxMuller generates Gaussian noise from a seedable uniform source
type BoxMuller struct {
	rng *rand.Rand
}

// NewBoxMuller creates a generator seeded with seed
func NewBoxMuller(seed int64) *BoxMuller {
	return &BoxMuller{rng: rand.New(rand.NewSource(seed))}
}

// Gaussian returns stddev·sqrt(−2 ln u1)·cos(2π u2) for uniform u1, u2
func (b *BoxMuller) Gaussian(stddev float64) float64 {
	u1 := 1 - b.rng.Float64() // (0, 1]
	u2 := b.rng.Float64()
	return stddev * math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// PoseGenerator turns accepted correspondences into global pose candidates
type PoseGenerator struct {
	cfg          HypothesisConfig
	sensorOffset Pose2D
	minRange     float64
	noise        NoiseSource
}

// NewPoseGenerator creates a generator. minRange is the shortest beam used
// by verification.
func NewPoseGenerator(cfg HypothesisConfig, sensorOffset Pose2D, minRange float64, noise NoiseSource) *PoseGenerator {
	if noise == nil {
		noise = NewBoxMuller(1)
	}
	return &PoseGenerator{cfg: cfg, sensorOffset: sensorOffset, minRange: minRange, noise: noise}
}

// Generate builds hypotheses for every accepted match. odomPose is the body
// pose at which the local map was anchored and verifyScan the scan used for
// the matching-rate check (nil disables verification).
func (g *PoseGenerator) Generate(odomPose Pose2D, local, global *FeatureMap, matches []Correspondence, verifyScan *LaserScan) []PoseHypothesis {
	var out []PoseHypothesis
	for _, m := range matches {
		if !m.Matched() {
			continue
		}
		base, ok := g.Candidate(odomPose, local, global, m)
		if !ok {
			continue
		}

		for _, pose := range g.variants(base) {
			h := PoseHypothesis{Pose: pose, LocalIndex: m.LocalIndex, GlobalIndex: m.GlobalIndex}
			if g.cfg.MatchingRateTH > 0 && verifyScan != nil {
				h.MatchingRate = MatchingRate(pose, verifyScan, g.sensorOffset, global.Grid, g.minRange)
				if h.MatchingRate < g.cfg.MatchingRateTH {
					continue
				}
			}
			out = append(out, h)
		}
	}
	return out
}

// Candidate computes the body pose implied by one correspondence. The local
// and global dominant orientations give the rotation between the odometry
// and map frames; the local keypoint's offset from the sensor is rotated
// by it and hung off the global keypoint. Candidates that land outside the
// global grid or on a cell that is not free are rejected.
func (g *PoseGenerator) Candidate(odomPose Pose2D, local, global *FeatureMap, m Correspondence) (Pose2D, bool) {
	lkp := local.Keypoints[m.LocalIndex]
	gkp := global.Keypoints[m.GlobalIndex]
	theta := NormalizeYaw(global.Features[m.GlobalIndex].DominantOrientation -
		local.Features[m.LocalIndex].DominantOrientation)

	sensorOdom := odomPose.Compose(g.sensorOffset)
	rx, ry := RotateVector(lkp.X-sensorOdom.X, lkp.Y-sensorOdom.Y, theta)
	sensor := Pose2D{
		X:   gkp.X - rx,
		Y:   gkp.Y - ry,
		Yaw: NormalizeYaw(sensorOdom.Yaw + theta),
	}
	body := sensor.Compose(g.sensorOffset.Inverse())

	u, v := global.Grid.WorldToCell(body.X, body.Y)
	if !global.Grid.InBounds(u, v) || global.Grid.At(u, v) != CellFree {
		return Pose2D{}, false
	}
	return body, true
}

// variants fans a candidate out into randomized samples when enabled. With
// opposite sampling every odd sample is also turned around.
func (g *PoseGenerator) variants(base Pose2D) []Pose2D {
	if !g.cfg.AddRandomSamples {
		return []Pose2D{base}
	}
	out := make([]Pose2D, 0, g.cfg.RandomSamplesNum)
	for j := 0; j < g.cfg.RandomSamplesNum; j++ {
		p := Pose2D{
			X:   base.X + g.noise.Gaussian(g.cfg.PositionalRandomNoise),
			Y:   base.Y + g.noise.Gaussian(g.cfg.PositionalRandomNoise),
			Yaw: base.Yaw + g.noise.Gaussian(g.cfg.AngularRandomNoise),
		}
		if g.cfg.AddOppositeSamples && j%2 == 1 {
			p.Yaw += math.Pi
		}
		p.Yaw = NormalizeYaw(p.Yaw)
		out = append(out, p)
	}
	return out
}

// MatchingRate casts scan from the body pose into grid and returns the
// fraction of usable beams whose end cell, or one of its four neighbours,
// is occupied. A scan without usable beams scores 0.
func MatchingRate(pose Pose2D, scan *LaserScan, sensorOffset Pose2D, grid *OccupancyGrid, minRange float64) float64 {
	sensor := pose.Compose(sensorOffset)
	valid, hits := 0, 0
	for i, r := range scan.Ranges {
		if !scan.InRange(r) || r < minRange {
			continue
		}
		valid++
		ex, ey := RotateVector(r, 0, scan.BeamAngle(i)+sensor.Yaw)
		u, v := grid.WorldToCell(sensor.X+ex, sensor.Y+ey)
		if u < 1 || u >= grid.Width-1 || v < 1 || v >= grid.Height-1 {
			continue
		}
		if grid.At(u, v) == CellOccupied ||
			grid.At(u, v-1) == CellOccupied ||
			grid.At(u-1, v) == CellOccupied ||
			grid.At(u+1, v) == CellOccupied ||
			grid.At(u, v+1) == CellOccupied {
			hits++
		}
	}
	if valid == 0 {
		return 0
	}
	return float64(hits) / float64(valid)
}
