package sampler

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cacheConfig() SamplerConfig {
	return testSamplerConfig(3)
}

func TestFingerprint(t *testing.T) {
	cfg := cacheConfig()
	base := Fingerprint(ringGrid(), cfg)
	assert.Len(t, base, 64)
	assert.Equal(t, base, Fingerprint(ringGrid(), cfg), "deterministic")

	changedCell := ringGrid()
	changedCell.Set(0, 0, CellOccupied)
	assert.NotEqual(t, base, Fingerprint(changedCell, cfg))

	moved := ringGrid()
	moved.Origin.X = 0.5
	assert.NotEqual(t, base, Fingerprint(moved, cfg))

	blur := cfg
	blur.Blur.Sigma = 1
	assert.NotEqual(t, base, Fingerprint(ringGrid(), blur))

	// Parameters that only affect matching leave the features alone.
	matching := cfg
	matching.AverageDistanceDeltaTH = 9
	matching.KeyScansNum = 10
	assert.Equal(t, base, Fingerprint(ringGrid(), matching))
}

func TestFeatureCache_RoundTrip(t *testing.T) {
	cfg := cacheConfig()
	fm, err := BuildFeatureMap(ringGrid(), cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cache", "features.json")
	require.NoError(t, SaveFeatureCache(path, fm, cfg))

	loaded, err := LoadFeatureCache(path, ringGrid(), cfg)
	require.NoError(t, err)
	assert.Nil(t, loaded.Field)
	assert.Equal(t, fm.Keypoints, loaded.Keypoints)
	assert.Equal(t, fm.Features, loaded.Features)
}

func TestFeatureCache_Stale(t *testing.T) {
	cfg := cacheConfig()
	fm, err := BuildFeatureMap(ringGrid(), cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "features.json")
	require.NoError(t, SaveFeatureCache(path, fm, cfg))

	other := cfg
	other.MinDistFromMap = 0.1
	_, err = LoadFeatureCache(path, ringGrid(), other)
	if !errors.Is(err, ErrCacheStale) {
		t.Errorf("LoadFeatureCache() error = %v, want ErrCacheStale", err)
	}
}

func TestLoadOrBuildFeatureMap(t *testing.T) {
	cfg := cacheConfig()
	path := filepath.Join(t.TempDir(), "features.json")

	built, err := LoadOrBuildFeatureMap(path, ringGrid(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, built.Field, "first call builds")
	_, err = os.Stat(path)
	require.NoError(t, err, "cache written")

	cached, err := LoadOrBuildFeatureMap(path, ringGrid(), cfg)
	require.NoError(t, err)
	assert.Nil(t, cached.Field, "second call reads the cache")
	assert.Equal(t, built.Keypoints, cached.Keypoints)
}

func TestLoadOrBuildFeatureMap_CorruptCacheRebuilds(t *testing.T) {
	cfg := cacheConfig()
	path := filepath.Join(t.TempDir(), "features.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	fm, err := LoadOrBuildFeatureMap(path, ringGrid(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, fm.Field)

	reloaded, err := LoadFeatureCache(path, ringGrid(), cfg)
	require.NoError(t, err, "cache repaired")
	assert.Equal(t, fm.Keypoints, reloaded.Keypoints)
}

func TestLoadOrBuildFeatureMap_NoCache(t *testing.T) {
	fm, err := LoadOrBuildFeatureMap("", ringGrid(), cacheConfig())
	require.NoError(t, err)
	assert.NotNil(t, fm.Field)

	_, err = LoadOrBuildFeatureMap("", &OccupancyGrid{}, cacheConfig())
	assert.Error(t, err)
}
