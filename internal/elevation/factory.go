// Package elevation builds elevation tiles from a directory of
// zstd-compressed 16-bit BIL rasters.
package elevation

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"tilepyramid/internal/geo"
	"tilepyramid/internal/tile"
)

// ErrNoData reports a tile absent from the store.
var ErrNoData = errors.New("elevation: no data for tile")

// Tile is a square grid of elevations in meters, row 0 at the north edge.
type Tile struct {
	addr    tile.Address
	width   int
	samples []int16
	min     int16
	max     int16
}

func (t *Tile) Address() tile.Address { return t.addr }
func (t *Tile) Size() int64           { return int64(2 * len(t.samples)) }
func (t *Tile) Width() int            { return t.width }
func (t *Tile) Height() int           { return len(t.samples) / t.width }

// MinMax returns the extreme sample values, ignoring missing-data samples.
func (t *Tile) MinMax() (int16, int16) { return t.min, t.max }

// At returns the sample at pixel (x, y).
func (t *Tile) At(x, y int) int16 { return t.samples[y*t.width+x] }

// Samples returns a copy of the grid in row-major order.
func (t *Tile) Samples() []int16 {
	return append([]int16(nil), t.samples...)
}

// Factory implements tile.Factory over a Store.
type Factory struct {
	levels      *tile.LevelSet
	store       *Store
	tileWidth   int
	missingData int16
	logger      *zap.Logger
}

var _ tile.Factory = (*Factory)(nil)

// NewFactory builds tiles of tileWidth x tileWidth samples. Samples equal
// to missingData are excluded from the min/max range.
func NewFactory(levels *tile.LevelSet, store *Store, tileWidth int, missingData int16, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		levels:      levels,
		store:       store,
		tileWidth:   tileWidth,
		missingData: missingData,
		logger:      logger,
	}
}

func (f *Factory) CreateTile(ctx context.Context, sector *geo.Sector, level, row, column int) (tile.Tile, error) {
	addr, err := tile.CheckRequest(f.levels, sector, level, row, column)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	samples, err := f.store.Read(addr)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoData, addr)
	}
	if err != nil {
		return nil, err
	}
	if want := f.tileWidth * f.tileWidth; len(samples) != want {
		return nil, fmt.Errorf("tile %s has %d samples, expected %d", addr, len(samples), want)
	}

	t := &Tile{addr: addr, width: f.tileWidth, samples: samples}
	t.min, t.max = f.extremes(samples)
	f.logger.Debug("Decoded elevation tile",
		zap.String("key", addr.Key()),
		zap.Int16("min", t.min),
		zap.Int16("max", t.max),
	)
	return t, nil
}

func (f *Factory) extremes(samples []int16) (int16, int16) {
	lo, hi := int16(0), int16(0)
	seen := false
	for _, v := range samples {
		if v == f.missingData {
			continue
		}
		if !seen {
			lo, hi, seen = v, v, true
			continue
		}
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}
