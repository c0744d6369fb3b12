package sampler

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	orientationBins   = 36
	orientationBinDeg = 10.0
)

// ComputeFeatures describes every keypoint by the gradient directions in a
// square window of half-width windowSize metres around it. The result is
// index-aligned with keypoints.
func ComputeFeatures(field *DistanceField, keypoints []Keypoint, windowSize float64) []OrientationFeature {
	features := make([]OrientationFeature, len(keypoints))
	r := int(windowSize / field.Resolution)
	width, height := field.Dims()

	for i, kp := range keypoints {
		distSum := 0.0
		directions := make([]float64, 0, (2*r+1)*(2*r+1))
		for u := kp.U - r; u <= kp.U+r; u++ {
			for v := kp.V - r; v <= kp.V+r; v++ {
				if u < 1 || u > width-2 || v < 1 || v > height-2 {
					continue
				}
				distSum += field.At(u, v)
				d := neighborhoodAt(field, u, v).Differentiate()
				directions = append(directions, gradientDirection(d.Dx, d.Dy))
			}
		}

		if len(directions) == 0 {
			features[i] = OrientationFeature{Histogram: make([]float64, RelativeBins)}
			continue
		}

		dominant, hist := DescribeDirections(directions)
		features[i] = OrientationFeature{
			DominantOrientation: dominant * math.Pi / 180,
			AverageDistance:     distSum / float64(len(directions)),
			Histogram:           hist,
			Cells:               len(directions),
		}
	}
	return features
}

// gradientDirection returns atan2(dy, dx) in degrees within [0, 360)
func gradientDirection(dx, dy float64) float64 {
	t := math.Atan2(dy, dx) * 180 / math.Pi
	if t < 0 {
		t += 360
	}
	if t >= 360 {
		t = 0
	}
	return t
}

// DescribeDirections builds the rotation-invariant part of a feature from
// gradient directions in degrees. It returns the dominant orientation (the
// centre of the first modal 10° bin) and the 17-bin histogram of absolute
// deviations from it.
func DescribeDirections(directions []float64) (dominantDeg float64, hist []float64) {
	orient := make([]float64, orientationBins)
	for _, t := range directions {
		idx := int(t / orientationBinDeg)
		if idx >= 0 && idx < orientationBins {
			orient[idx]++
		}
	}
	dominantDeg = float64(floats.MaxIdx(orient))*orientationBinDeg + orientationBinDeg/2

	hist = make([]float64, RelativeBins)
	for _, t := range directions {
		dt := dominantDeg - t
		for dt > 180 {
			dt -= 360
		}
		for dt < -180 {
			dt += 360
		}
		idx := int(math.Abs(dt) / orientationBinDeg)
		if idx >= RelativeBins {
			idx = RelativeBins - 1
		}
		hist[idx]++
	}
	return dominantDeg, hist
}
