package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

type Config struct {
	Port            int     `env:"PORT" envDefault:"8080"`
	DataDir         string  `env:"DATA_DIR" envDefault:"/data"`
	ElevationDir    string  `env:"ELEVATION_DIR"`
	LogLevel        string  `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigin   string  `env:"ALLOWED_ORIGIN"`
	CacheCapacityMB int     `env:"CACHE_CAPACITY_MB" envDefault:"256"`
	LevelZeroDelta  float64 `env:"LEVEL_ZERO_DELTA" envDefault:"45"`
	NumLevels       int     `env:"NUM_LEVELS" envDefault:"12"`
	TileSize        int     `env:"TILE_SIZE" envDefault:"256"`
	JPEGQuality     int     `env:"JPEG_QUALITY" envDefault:"82"`
	ElevationWidth  int     `env:"ELEVATION_TILE_WIDTH" envDefault:"150"`
	MissingData     int16   `env:"ELEVATION_MISSING_DATA" envDefault:"-32768"`
	WarmupLevels    int     `env:"WARMUP_LEVELS" envDefault:"1"`
	WarmupWorkers   int     `env:"WARMUP_WORKERS" envDefault:"1"`
	VipsMaxCacheMB  int     `env:"VIPS_MAX_CACHE_MB" envDefault:"256"`
	VipsConcurrency int     `env:"VIPS_CONCURRENCY" envDefault:"1"`
}

var errInvalid = errors.New("invalid configuration")

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			err = multierr.Append(err, fmt.Errorf("%w: "+format, append([]any{errInvalid}, args...)...))
		}
	}
	check(c.Port > 0 && c.Port < 65536, "PORT %d out of range", c.Port)
	check(c.CacheCapacityMB > 0, "CACHE_CAPACITY_MB must be positive, got %d", c.CacheCapacityMB)
	check(c.LevelZeroDelta > 0 && c.LevelZeroDelta <= 180, "LEVEL_ZERO_DELTA %g not in (0, 180]", c.LevelZeroDelta)
	check(c.NumLevels > 0 && c.NumLevels <= 24, "NUM_LEVELS %d not in [1, 24]", c.NumLevels)
	check(c.TileSize > 0, "TILE_SIZE must be positive, got %d", c.TileSize)
	check(c.JPEGQuality > 0 && c.JPEGQuality <= 100, "JPEG_QUALITY %d not in [1, 100]", c.JPEGQuality)
	check(c.ElevationWidth > 0, "ELEVATION_TILE_WIDTH must be positive, got %d", c.ElevationWidth)
	check(c.WarmupLevels >= 0, "WARMUP_LEVELS must not be negative, got %d", c.WarmupLevels)
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		check(false, "LOG_LEVEL %q unknown", c.LogLevel)
	}
	return err
}

// CacheCapacity is the per-layer cache bound in bytes.
func (c *Config) CacheCapacity() int64 {
	return int64(c.CacheCapacityMB) << 20
}
