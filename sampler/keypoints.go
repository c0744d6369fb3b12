package sampler

// KeypointConfig holds the detector thresholds
type KeypointConfig struct {
	// GradientSquareTH bounds dx² and dy²: a candidate must sit on a nearly
	// flat spot of the distance field.
	GradientSquareTH float64 `yaml:"gradientSquareTh" json:"gradientSquareTh"`
	// MinDistFromMap drops cells closer than this (metres) to an obstacle.
	MinDistFromMap float64 `yaml:"keypointsMinDistFromMap" json:"keypointsMinDistFromMap"`
}

// Neighborhood is a 3x3 patch of distance values indexed [row][col], with
// the centre at [1][1]. Rows grow with v, columns with u.
type Neighborhood [3][3]float64

// Derivatives are the discrete first and second order partials of a patch
type Derivatives struct {
	Dx, Dy, Dxx, Dyy, Dxy float64
}

// Det returns the Hessian determinant dxx·dyy − dxy²
func (d Derivatives) Det() float64 {
	return d.Dxx*d.Dyy - d.Dxy*d.Dxy
}

// neighborhoodAt reads the patch centred on (u, v); the caller guarantees
// that (u, v) is not on the field border
func neighborhoodAt(f *DistanceField, u, v int) Neighborhood {
	var n Neighborhood
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			n[r][c] = f.At(u+c-1, v+r-1)
		}
	}
	return n
}

// Differentiate computes the Prewitt-style gradient and the second order
// partials of the patch
func (n Neighborhood) Differentiate() Derivatives {
	return Derivatives{
		Dx:  (n[0][2] + n[1][2] + n[2][2]) - (n[0][0] + n[1][0] + n[2][0]),
		Dy:  (n[2][0] + n[2][1] + n[2][2]) - (n[0][0] + n[0][1] + n[0][2]),
		Dxx: n[1][0] - 2*n[1][1] + n[1][2],
		Dyy: n[0][1] - 2*n[1][1] + n[2][1],
		Dxy: n[0][0] - n[0][1] - n[1][0] + 2*n[1][1] - n[1][2] - n[2][1] + n[2][2],
	}
}

// Classify labels second order partials: det > 0 with dxx < 0 is a Maximum,
// det > 0 with dxx > 0 a Minimum, det < 0 a Saddle. Anything else is Invalid.
func Classify(d Derivatives) Classification {
	det := d.Det()
	switch {
	case det > 0 && d.Dxx < 0:
		return Maximum
	case det > 0 && d.Dxx > 0:
		return Minimum
	case det < 0:
		return Saddle
	default:
		return Invalid
	}
}

// ClassifyNeighborhood applies the flatness test and Classify to one patch.
// Patches whose gradient is not flat enough are Invalid.
func ClassifyNeighborhood(n Neighborhood, gradientSquareTH float64) Classification {
	d := n.Differentiate()
	if d.Dx*d.Dx >= gradientSquareTH || d.Dy*d.Dy >= gradientSquareTH {
		return Invalid
	}
	return Classify(d)
}

// DetectKeypoints scans every interior free cell of the grid whose distance
// clears cfg.MinDistFromMap and keeps the ones that classify as extrema or
// saddles. Cells are visited column by column (u outer, v inner).
func DetectKeypoints(grid *OccupancyGrid, field *DistanceField, cfg KeypointConfig) []Keypoint {
	var keypoints []Keypoint
	for u := 1; u < grid.Width-1; u++ {
		for v := 1; v < grid.Height-1; v++ {
			if grid.At(u, v) != CellFree || field.At(u, v) < cfg.MinDistFromMap {
				continue
			}
			class := ClassifyNeighborhood(neighborhoodAt(field, u, v), cfg.GradientSquareTH)
			if class == Invalid {
				continue
			}
			p := grid.CellToWorld(u, v)
			keypoints = append(keypoints, Keypoint{U: u, V: v, X: p.X, Y: p.Y, Class: class})
		}
	}
	return keypoints
}

// CountByClass tallies keypoints per classification
func CountByClass(keypoints []Keypoint) map[Classification]int {
	counts := make(map[Classification]int)
	for _, kp := range keypoints {
		counts[kp.Class]++
	}
	return counts
}
