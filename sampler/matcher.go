package sampler

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// ambiguityRatio is the nearest/second-nearest margin a match must clear
const ambiguityRatio = 1.5

// MatchConfig holds the correspondence gates
type MatchConfig struct {
	// AverageDistanceDeltaTH is the largest allowed difference between the
	// average distance values of two features.
	AverageDistanceDeltaTH float64 `yaml:"averageSdfDeltaTh" json:"averageSdfDeltaTh"`
}

// MatchFeatures pairs each local feature with its nearest global feature by
// L1 histogram distance. Only global features with the same keypoint class
// and a close average distance are candidates. A pair is accepted when it
// is the only candidate or when best·1.5 < second best; otherwise the local
// feature stays unmatched (GlobalIndex -1). Several local features may map
// to the same global one.
func MatchFeatures(local, global *FeatureMap, cfg MatchConfig) []Correspondence {
	matches := make([]Correspondence, len(local.Keypoints))
	for i, lkp := range local.Keypoints {
		lf := local.Features[i]
		bestIdx := -1
		best, second := 0.0, -1.0

		for j, gkp := range global.Keypoints {
			if gkp.Class != lkp.Class {
				continue
			}
			gf := global.Features[j]
			if math.Abs(lf.AverageDistance-gf.AverageDistance) > cfg.AverageDistanceDeltaTH {
				continue
			}

			score := floats.Distance(lf.Histogram, gf.Histogram, 1)
			switch {
			case bestIdx < 0:
				bestIdx, best = j, score
			case score < best:
				second = best
				bestIdx, best = j, score
			case second < 0 || score < second:
				second = score
			}
		}

		matches[i] = Correspondence{LocalIndex: i, GlobalIndex: -1, Score: best}
		if bestIdx >= 0 && (second < 0 || best*ambiguityRatio < second) {
			matches[i].GlobalIndex = bestIdx
		}
	}
	return matches
}

// AcceptedMatches filters out unmatched correspondences
func AcceptedMatches(matches []Correspondence) []Correspondence {
	var out []Correspondence
	for _, m := range matches {
		if m.Matched() {
			out = append(out, m)
		}
	}
	return out
}
