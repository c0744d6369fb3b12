package sampler

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
)

// ErrCacheStale is returned when a cache file belongs to another map or
// other feature parameters
var ErrCacheStale = errors.New("feature cache does not match map")

type featureCacheFile struct {
	Fingerprint string               `json:"fingerprint"`
	Keypoints   []Keypoint           `json:"keypoints"`
	Features    []OrientationFeature `json:"features"`
}

// Fingerprint hashes the grid together with every parameter that changes
// the extracted features
func Fingerprint(grid *OccupancyGrid, cfg SamplerConfig) string {
	h := sha256.New()
	put := func(vals ...float64) {
		for _, v := range vals {
			_ = binary.Write(h, binary.LittleEndian, math.Float64bits(v))
		}
	}
	put(float64(grid.Width), float64(grid.Height), grid.Resolution,
		grid.Origin.X, grid.Origin.Y, grid.Origin.Yaw,
		cfg.GradientSquareTH, cfg.MinDistFromMap, cfg.FeatureWindowSize,
		float64(cfg.Blur.KernelSize), cfg.Blur.Sigma)
	for _, c := range grid.Data {
		h.Write([]byte{byte(c)})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SaveFeatureCache writes the keypoints and features of fm to path
func SaveFeatureCache(path string, fm *FeatureMap, cfg SamplerConfig) error {
	data, err := json.Marshal(featureCacheFile{
		Fingerprint: Fingerprint(fm.Grid, cfg),
		Keypoints:   fm.Keypoints,
		Features:    fm.Features,
	})
	if err != nil {
		return fmt.Errorf("marshal feature cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write feature cache: %w", err)
	}
	return nil
}

// LoadFeatureCache restores a feature map for grid from path. The distance
// field is not cached, so the returned map has a nil Field. A cache written
// for another grid or other parameters returns ErrCacheStale.
func LoadFeatureCache(path string, grid *OccupancyGrid, cfg SamplerConfig) (*FeatureMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature cache: %w", err)
	}
	var cache featureCacheFile
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("unmarshal feature cache: %w", err)
	}
	if cache.Fingerprint != Fingerprint(grid, cfg) {
		return nil, ErrCacheStale
	}
	if len(cache.Keypoints) != len(cache.Features) {
		return nil, fmt.Errorf("feature cache has %d keypoints but %d features", len(cache.Keypoints), len(cache.Features))
	}
	return &FeatureMap{Grid: grid, Keypoints: cache.Keypoints, Features: cache.Features}, nil
}

// LoadOrBuildFeatureMap returns the cached feature map for grid when path
// holds a matching cache, and otherwise builds it and refreshes the cache.
// An empty path disables caching.
func LoadOrBuildFeatureMap(path string, grid *OccupancyGrid, cfg SamplerConfig) (*FeatureMap, error) {
	if path != "" {
		fm, err := LoadFeatureCache(path, grid, cfg)
		if err == nil {
			return fm, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("Warning: feature cache %s unusable, rebuilding: %v", path, err)
		}
	}

	fm, err := BuildFeatureMap(grid, cfg)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := SaveFeatureCache(path, fm, cfg); err != nil {
			log.Printf("Warning: failed to save feature cache: %v", err)
		}
	}
	return fm, nil
}
