// Package tile defines the quadtree addressing of a level-of-detail
// pyramid and the contract data layers implement to build tiles.
package tile

import (
	"fmt"
	"math"

	"tilepyramid/internal/geo"
)

// LevelSet describes a pyramid: a domain sector cut into a level-0 grid of
// LevelZeroDelta-degree cells, each level splitting every cell 2x2.
type LevelSet struct {
	sector         geo.Sector
	levelZeroDelta float64
	numLevels      int
	rowsZero       int
	columnsZero    int
}

// NewLevelSet validates the domain and precomputes the level-0 grid.
func NewLevelSet(sector geo.Sector, levelZeroDelta float64, numLevels int) (*LevelSet, error) {
	if err := sector.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArgument, err)
	}
	if levelZeroDelta <= 0 || math.IsInf(levelZeroDelta, 0) || math.IsNaN(levelZeroDelta) {
		return nil, fmt.Errorf("%w: level zero delta %g", ErrArgument, levelZeroDelta)
	}
	if numLevels < 1 {
		return nil, fmt.Errorf("%w: number of levels %d", ErrArgument, numLevels)
	}
	if sector.DeltaLatitude() == 0 || sector.DeltaLongitude() == 0 {
		return nil, fmt.Errorf("%w: empty sector %s", ErrArgument, sector)
	}
	return &LevelSet{
		sector:         sector,
		levelZeroDelta: levelZeroDelta,
		numLevels:      numLevels,
		rowsZero:       int(math.Ceil(sector.DeltaLatitude() / levelZeroDelta)),
		columnsZero:    int(math.Ceil(sector.DeltaLongitude() / levelZeroDelta)),
	}, nil
}

func (ls *LevelSet) Sector() geo.Sector      { return ls.sector }
func (ls *LevelSet) LevelZeroDelta() float64 { return ls.levelZeroDelta }
func (ls *LevelSet) NumLevels() int          { return ls.numLevels }
func (ls *LevelSet) LastLevel() int          { return ls.numLevels - 1 }

// Delta is the cell size in degrees at level.
func (ls *LevelSet) Delta(level int) float64 {
	return math.Ldexp(ls.levelZeroDelta, -level)
}

// Rows is the number of tile rows at level.
func (ls *LevelSet) Rows(level int) int { return ls.rowsZero << level }

// Columns is the number of tile columns at level.
func (ls *LevelSet) Columns(level int) int { return ls.columnsZero << level }

// Address validates (level, row, column) against the grid.
func (ls *LevelSet) Address(level, row, column int) (Address, error) {
	if level < 0 || level >= ls.numLevels {
		return Address{}, fmt.Errorf("%w: level %d not in [0, %d]", ErrArgument, level, ls.LastLevel())
	}
	if row < 0 || row >= ls.Rows(level) {
		return Address{}, fmt.Errorf("%w: row %d not in [0, %d) at level %d", ErrArgument, row, ls.Rows(level), level)
	}
	if column < 0 || column >= ls.Columns(level) {
		return Address{}, fmt.Errorf("%w: column %d not in [0, %d) at level %d", ErrArgument, column, ls.Columns(level), level)
	}
	return Address{levels: ls, level: level, row: row, column: column}, nil
}

// TileFor returns the address at level whose sector contains the location.
// Coordinates are normalized first and clamped to the domain.
func (ls *LevelSet) TileFor(level int, latitude, longitude float64) (Address, error) {
	if level < 0 || level >= ls.numLevels {
		return Address{}, fmt.Errorf("%w: level %d not in [0, %d]", ErrArgument, level, ls.LastLevel())
	}
	latitude = clamp(geo.NormalizedLatitude(latitude), ls.sector.MinLatitude, ls.sector.MaxLatitude)
	longitude = clamp(geo.NormalizedLongitude(longitude), ls.sector.MinLongitude, ls.sector.MaxLongitude)

	delta := ls.Delta(level)
	row := min(int((latitude-ls.sector.MinLatitude)/delta), ls.Rows(level)-1)
	column := min(int((longitude-ls.sector.MinLongitude)/delta), ls.Columns(level)-1)
	return ls.Address(level, row, column)
}

// sectorOf computes the bounds of a cell from the level-0 grid. Cells on the
// far edge of a grid that does not divide the domain evenly are clipped.
func (ls *LevelSet) sectorOf(level, row, column int) geo.Sector {
	delta := ls.Delta(level)
	minLat := ls.sector.MinLatitude + float64(row)*delta
	minLon := ls.sector.MinLongitude + float64(column)*delta
	return geo.Sector{
		MinLatitude:  min(minLat, ls.sector.MaxLatitude),
		MaxLatitude:  min(minLat+delta, ls.sector.MaxLatitude),
		MinLongitude: min(minLon, ls.sector.MaxLongitude),
		MaxLongitude: min(minLon+delta, ls.sector.MaxLongitude),
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
