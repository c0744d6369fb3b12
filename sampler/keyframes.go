package sampler

import (
	"errors"
	"math"
)

// ErrInvalidScan is returned for scans with too few in-range returns
var ErrInvalidScan = errors.New("scan has too few in-range returns")

// ErrNoOdometry is returned when a scan arrives before any odometry sample
var ErrNoOdometry = errors.New("no odometry received yet")

// KeyframeConfig controls when scans become keyframes
type KeyframeConfig struct {
	KeyScansNum         int     `yaml:"keyScansNum" json:"keyScansNum"`
	KeyScanIntervalDist float64 `yaml:"keyScanIntervalDist" json:"keyScanIntervalDist"` // metres
	KeyScanIntervalYaw  float64 `yaml:"keyScanIntervalYaw" json:"keyScanIntervalYaw"`   // degrees
	MinValidScanRatio   float64 `yaml:"minValidScanRatio" json:"minValidScanRatio"`
}

// WindowState is the accumulator's lifecycle stage
type WindowState int

const (
	WaitingForFirstKeyframe WindowState = iota
	Accumulating
)

func (s WindowState) String() string {
	if s == Accumulating {
		return "accumulating"
	}
	return "waiting-for-first-keyframe"
}

// KeyframeWindow keeps the most recent keyframes, newest first. A scan is
// only retained when odometry moved far enough since the last keyframe.
type KeyframeWindow struct {
	cfg      KeyframeConfig
	yawTH    float64 // radians
	state    WindowState
	frames   []Keyframe
	lastPose Pose2D
}

// NewKeyframeWindow creates an empty window
func NewKeyframeWindow(cfg KeyframeConfig) *KeyframeWindow {
	if cfg.KeyScansNum < 1 {
		cfg.KeyScansNum = 1
	}
	return &KeyframeWindow{
		cfg:    cfg,
		yawTH:  cfg.KeyScanIntervalYaw * math.Pi / 180,
		frames: make([]Keyframe, 0, cfg.KeyScansNum),
	}
}

// Offer presents a scan captured at pose. It reports whether the scan was
// inserted and whether that insertion filled the window, which is the
// signal to build a local map. Invalid scans return ErrInvalidScan and leave
// the window untouched.
func (w *KeyframeWindow) Offer(scan LaserScan, pose Pose2D) (inserted, full bool, err error) {
	if scan.ValidRatio() < w.cfg.MinValidScanRatio {
		return false, false, ErrInvalidScan
	}

	if w.state == WaitingForFirstKeyframe {
		w.frames = append(w.frames[:0], Keyframe{Scan: scan, Pose: pose})
		w.lastPose = pose
		w.state = Accumulating
		return true, false, nil
	}

	dist, dyaw := Displacement(w.lastPose, pose)
	if dist <= w.cfg.KeyScanIntervalDist && math.Abs(dyaw) <= w.yawTH {
		return false, false, nil
	}

	w.frames = append([]Keyframe{{Scan: scan, Pose: pose}}, w.frames...)
	if len(w.frames) > w.cfg.KeyScansNum {
		w.frames = w.frames[:w.cfg.KeyScansNum]
	}
	w.lastPose = pose
	return true, len(w.frames) == w.cfg.KeyScansNum, nil
}

// State returns the accumulator stage
func (w *KeyframeWindow) State() WindowState {
	return w.state
}

// Len returns the number of retained keyframes
func (w *KeyframeWindow) Len() int {
	return len(w.frames)
}

// Capacity returns N
func (w *KeyframeWindow) Capacity() int {
	return w.cfg.KeyScansNum
}

// Frames returns a copy of the keyframes, newest first
func (w *KeyframeWindow) Frames() []Keyframe {
	out := make([]Keyframe, len(w.frames))
	copy(out, w.frames)
	return out
}

// Newest returns the most recent keyframe
func (w *KeyframeWindow) Newest() (Keyframe, bool) {
	if len(w.frames) == 0 {
		return Keyframe{}, false
	}
	return w.frames[0], true
}

// Oldest returns the least recent retained keyframe
func (w *KeyframeWindow) Oldest() (Keyframe, bool) {
	if len(w.frames) == 0 {
		return Keyframe{}, false
	}
	return w.frames[len(w.frames)-1], true
}
