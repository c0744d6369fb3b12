package sampler

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SamplerConfig gathers every tunable of the pipeline
type SamplerConfig struct {
	KeyframeConfig   `yaml:",inline"`
	KeypointConfig   `yaml:",inline"`
	MatchConfig      `yaml:",inline"`
	HypothesisConfig `yaml:",inline"`

	FeatureWindowSize float64    `yaml:"sdfFeatureWindowSize" json:"sdfFeatureWindowSize"` // metres
	Blur              BlurConfig `yaml:"blur" json:"blur"`
	// LocalMapResolution is used for local maps built before any global map
	// arrived; afterwards the global resolution wins.
	LocalMapResolution float64 `yaml:"localMapResolution" json:"localMapResolution"`
	RandomSeed         int64   `yaml:"randomSeed" json:"randomSeed"`
}

// FeatureMap bundles a grid with everything extracted from it
type FeatureMap struct {
	Grid      *OccupancyGrid
	Field     *DistanceField
	Keypoints []Keypoint
	Features  []OrientationFeature
}

// BuildFeatureMap runs the distance field, keypoint and descriptor stages
func BuildFeatureMap(grid *OccupancyGrid, cfg SamplerConfig) (*FeatureMap, error) {
	field, err := BuildDistanceField(grid, cfg.Blur)
	if err != nil {
		return nil, fmt.Errorf("building distance field: %w", err)
	}
	keypoints := DetectKeypoints(grid, field, cfg.KeypointConfig)
	return &FeatureMap{
		Grid:      grid,
		Field:     field,
		Keypoints: keypoints,
		Features:  ComputeFeatures(field, keypoints, cfg.FeatureWindowSize),
	}, nil
}

// CycleResult is everything one matching cycle produced
type CycleResult struct {
	ID         string
	Stamp      time.Time
	OdomPose   Pose2D
	LocalMap   *OccupancyGrid
	Local      *FeatureMap
	Matches    []Correspondence
	Hypotheses []PoseHypothesis
	// MatchingSkipped is set when no global map was available
	MatchingSkipped bool
}

// Batch packages the hypotheses for publishing
func (r *CycleResult) Batch(frame string) PoseBatch {
	return PoseBatch{ID: r.ID, Frame: frame, Stamp: r.Stamp, Poses: r.Hypotheses}
}

// Sampler owns the global feature map and the keyframe window. Its methods
// are safe to call from several goroutines; calls are serialized so that at
// most one scan cycle runs at a time.
type Sampler struct {
	cfg          SamplerConfig
	sensorOffset Pose2D
	generator    *PoseGenerator

	mu      sync.Mutex
	global  *FeatureMap
	window  *KeyframeWindow
	odom    Pose2D
	hasOdom bool
	cycles  int
}

// NewSampler creates a sampler. A nil noise source uses Box–Muller seeded
// from cfg.RandomSeed.
func NewSampler(cfg SamplerConfig, sensorOffset Pose2D, noise NoiseSource) *Sampler {
	if noise == nil {
		noise = NewBoxMuller(cfg.RandomSeed)
	}
	return &Sampler{
		cfg:          cfg,
		sensorOffset: sensorOffset,
		generator:    NewPoseGenerator(cfg.HypothesisConfig, sensorOffset, cfg.MinDistFromMap, noise),
		window:       NewKeyframeWindow(cfg.KeyframeConfig),
	}
}

// SetMap builds the global feature map from grid and installs it
func (s *Sampler) SetMap(grid *OccupancyGrid) (*FeatureMap, error) {
	fm, err := BuildFeatureMap(grid, s.cfg)
	if err != nil {
		return nil, err
	}
	s.SetFeatureMap(fm)
	return fm, nil
}

// SetFeatureMap installs a prebuilt global feature map
func (s *Sampler) SetFeatureMap(fm *FeatureMap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = fm
}

// GlobalFeatures returns the installed global feature map, or nil
func (s *Sampler) GlobalFeatures() *FeatureMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.global
}

// UpdateOdometry records the latest odometry pose
func (s *Sampler) UpdateOdometry(pose Pose2D) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.odom = pose
	s.hasOdom = true
}

// HasMap reports whether a global map was installed
func (s *Sampler) HasMap() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.global != nil
}

// HasOdometry reports whether any odometry sample arrived
func (s *Sampler) HasOdometry() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasOdom
}

// KeyframeCount returns the current window length
func (s *Sampler) KeyframeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Len()
}

// Cycles returns how many matching cycles ran against a global map
func (s *Sampler) Cycles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

// ProcessScan feeds one scan through the keyframe window. It returns a
// non-nil result only when the scan filled the window and a cycle ran.
// Invalid scans return ErrInvalidScan; scans before odometry ErrNoOdometry.
func (s *Sampler) ProcessScan(scan LaserScan) (*CycleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasOdom {
		return nil, ErrNoOdometry
	}
	inserted, full, err := s.window.Offer(scan, s.odom)
	if err != nil {
		return nil, err
	}
	if !inserted || !full {
		return nil, nil
	}
	return s.runCycle(scan.Stamp)
}

// runCycle builds the local map from the window and, when a global map is
// present, matches and generates hypotheses. Callers hold s.mu.
func (s *Sampler) runCycle(stamp time.Time) (*CycleResult, error) {
	frames := s.window.Frames()
	newest := frames[0]

	resolution := s.cfg.LocalMapResolution
	if s.global != nil {
		resolution = s.global.Grid.Resolution
	}
	localGrid := BuildLocalMap(frames, s.sensorOffset, resolution, s.cfg.MinDistFromMap)
	if localGrid == nil {
		return nil, fmt.Errorf("local map is empty (range max %.2f, resolution %.3f)",
			newest.Scan.RangeMax, resolution)
	}
	localGrid.Stamp = stamp

	local, err := BuildFeatureMap(localGrid, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("local features: %w", err)
	}

	result := &CycleResult{
		ID:         uuid.NewString(),
		Stamp:      stamp,
		OdomPose:   newest.Pose,
		LocalMap:   localGrid,
		Local:      local,
		Hypotheses: []PoseHypothesis{},
	}
	if s.global == nil {
		log.Printf("Warning: no global map yet, skipping matching (%d local keypoints)", len(local.Keypoints))
		result.MatchingSkipped = true
		return result, nil
	}

	result.Matches = MatchFeatures(local, s.global, s.cfg.MatchConfig)
	if poses := s.generator.Generate(newest.Pose, local, s.global, result.Matches, &newest.Scan); poses != nil {
		result.Hypotheses = poses
	}
	s.cycles++
	return result, nil
}
