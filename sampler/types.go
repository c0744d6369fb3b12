package sampler

import (
	"math"
	"time"
)

// Occupancy cell values
const (
	CellFree     int8 = 0
	CellOccupied int8 = 100
	CellUnknown  int8 = -1
)

// Pose2D is a planar pose: x, y in metres and yaw in radians
type Pose2D struct {
	X   float64 `yaml:"x" json:"x"`
	Y   float64 `yaml:"y" json:"y"`
	Yaw float64 `yaml:"yaw" json:"yaw"`
}

// OccupancyGrid is a row-major occupancy map. Data[v*Width+u] holds the cell
// at column u, row v. Origin places cell (0,0) in the reference frame.
type OccupancyGrid struct {
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Resolution float64   `json:"resolution"`
	Origin     Pose2D    `json:"origin"`
	Data       []int8    `json:"data"`
	Frame      string    `json:"frame,omitempty"`
	Stamp      time.Time `json:"stamp,omitempty"`
}

// NewOccupancyGrid allocates a grid with every cell set to fill
func NewOccupancyGrid(width, height int, resolution float64, origin Pose2D, fill int8) *OccupancyGrid {
	data := make([]int8, width*height)
	if fill != 0 {
		for i := range data {
			data[i] = fill
		}
	}
	return &OccupancyGrid{
		Width:      width,
		Height:     height,
		Resolution: resolution,
		Origin:     origin,
		Data:       data,
	}
}

// InBounds reports whether (u, v) addresses a cell of the grid
func (g *OccupancyGrid) InBounds(u, v int) bool {
	return u >= 0 && u < g.Width && v >= 0 && v < g.Height
}

// At returns the cell value at (u, v). Out-of-bounds reads return CellUnknown.
func (g *OccupancyGrid) At(u, v int) int8 {
	if !g.InBounds(u, v) {
		return CellUnknown
	}
	return g.Data[v*g.Width+u]
}

// Set writes a cell value; out-of-bounds writes are ignored
func (g *OccupancyGrid) Set(u, v int, value int8) {
	if g.InBounds(u, v) {
		g.Data[v*g.Width+u] = value
	}
}

// CellToWorld converts grid coordinates to the grid's reference frame
func (g *OccupancyGrid) CellToWorld(u, v int) Point {
	local := Point{X: float64(u) * g.Resolution, Y: float64(v) * g.Resolution}
	return TransformPoint(local, g.Origin.Matrix())
}

// WorldToCell converts a reference-frame position into the grid cell that
// contains it. The result may lie outside the grid.
func (g *OccupancyGrid) WorldToCell(x, y float64) (int, int) {
	local := TransformPoint(Point{X: x, Y: y}, InvertMatrix(g.Origin.Matrix()))
	return int(math.Floor(local.X/g.Resolution + cellEpsilon)), int(math.Floor(local.Y/g.Resolution + cellEpsilon))
}

// cellEpsilon keeps positions that sit exactly on a cell corner in that cell
// despite floating point round-off
const cellEpsilon = 1e-9

// Valid reports whether the grid header is consistent with its data
func (g *OccupancyGrid) Valid() bool {
	return g != nil && g.Width > 0 && g.Height > 0 && g.Resolution > 0 &&
		len(g.Data) == g.Width*g.Height
}

// LaserScan is a single planar range scan
type LaserScan struct {
	AngleMin       float64   `json:"angleMin"`
	AngleMax       float64   `json:"angleMax"`
	AngleIncrement float64   `json:"angleIncrement"`
	RangeMin       float64   `json:"rangeMin"`
	RangeMax       float64   `json:"rangeMax"`
	Ranges         []float64 `json:"ranges"`
	Frame          string    `json:"frame,omitempty"`
	Stamp          time.Time `json:"stamp,omitempty"`
}

// InRange reports whether r is a usable return for this scan
func (s *LaserScan) InRange(r float64) bool {
	return !math.IsNaN(r) && s.RangeMin <= r && r <= s.RangeMax
}

// ValidRatio returns the fraction of in-range returns. Empty scans return 0.
func (s *LaserScan) ValidRatio() float64 {
	if len(s.Ranges) == 0 {
		return 0
	}
	valid := 0
	for _, r := range s.Ranges {
		if s.InRange(r) {
			valid++
		}
	}
	return float64(valid) / float64(len(s.Ranges))
}

// BeamAngle returns the sensor-frame angle of beam i
func (s *LaserScan) BeamAngle(i int) float64 {
	return s.AngleMin + float64(i)*s.AngleIncrement
}

// Odometry is a timestamped odometry pose
type Odometry struct {
	Pose  Pose2D    `json:"pose"`
	Frame string    `json:"frame,omitempty"`
	Stamp time.Time `json:"stamp,omitempty"`
}

// Classification labels a keypoint by the local shape of the distance field
type Classification int8

const (
	Invalid Classification = iota
	Maximum
	Minimum
	Saddle
)

func (c Classification) String() string {
	switch c {
	case Maximum:
		return "maximum"
	case Minimum:
		return "minimum"
	case Saddle:
		return "saddle"
	default:
		return "invalid"
	}
}

// Keypoint is a distinguished grid cell of a distance field
type Keypoint struct {
	U     int            `json:"u"`
	V     int            `json:"v"`
	X     float64        `json:"x"`
	Y     float64        `json:"y"`
	Class Classification `json:"class"`
}

// Point returns the keypoint's world position
func (k Keypoint) Point() Point {
	return Point{X: k.X, Y: k.Y}
}

// RelativeBins is the number of bins in the relative-orientation histogram
const RelativeBins = 17

// OrientationFeature describes the window around one keypoint
type OrientationFeature struct {
	DominantOrientation float64   `json:"dominantOrientation"` // radians
	AverageDistance     float64   `json:"averageDistance"`
	Histogram           []float64 `json:"histogram"`
	Cells               int       `json:"cells"` // 0 marks a low-confidence sentinel
}

// Keyframe is a retained scan with the odometry pose at capture time
type Keyframe struct {
	Scan LaserScan `json:"scan"`
	Pose Pose2D    `json:"pose"`
}

// Correspondence links a local keypoint to a global one. GlobalIndex is -1
// when the local feature was not matched.
type Correspondence struct {
	LocalIndex  int     `json:"localIndex"`
	GlobalIndex int     `json:"globalIndex"`
	Score       float64 `json:"score"`
}

// Matched reports whether the correspondence was accepted
func (c Correspondence) Matched() bool {
	return c.GlobalIndex >= 0
}

// PoseHypothesis is a candidate body pose in the global map frame
type PoseHypothesis struct {
	Pose         Pose2D  `json:"pose"`
	LocalIndex   int     `json:"localIndex"`
	GlobalIndex  int     `json:"globalIndex"`
	MatchingRate float64 `json:"matchingRate"`
}

// PoseBatch is the message emitted once per matching cycle
type PoseBatch struct {
	ID    string           `json:"id"`
	Frame string           `json:"frame"`
	Stamp time.Time        `json:"stamp"`
	Poses []PoseHypothesis `json:"poses"`
}

// TransformStamped is a static transform announcement between two frames
type TransformStamped struct {
	Parent    string `json:"parent"`
	Child     string `json:"child"`
	Transform Pose2D `json:"transform"`
}
