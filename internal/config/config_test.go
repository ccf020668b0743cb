package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, 45.0, cfg.LevelZeroDelta)
	assert.Equal(t, int16(-32768), cfg.MissingData)
	assert.Equal(t, int64(256<<20), cfg.CacheCapacity())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CACHE_CAPACITY_MB", "64")
	t.Setenv("LEVEL_ZERO_DELTA", "36")
	t.Setenv("ELEVATION_DIR", "/srv/dem")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, int64(64<<20), cfg.CacheCapacity())
	assert.Equal(t, 36.0, cfg.LevelZeroDelta)
	assert.Equal(t, "/srv/dem", cfg.ElevationDir)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Setenv("PORT", "0")
	t.Setenv("CACHE_CAPACITY_MB", "-1")
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := Load()
	require.Error(t, err)
	errs := multierr.Errors(err)
	assert.Len(t, errs, 3)
	for _, e := range errs {
		assert.ErrorIs(t, e, errInvalid)
	}
}
