package tile

import (
	"context"
	"fmt"
	"math"

	"tilepyramid/internal/geo"
)

// Tile is the materialized data of one pyramid cell. Once cached it is
// shared read-only. A tile implementing io.Closer is closed when it leaves
// the resolver, even while an earlier retriever still holds it, so
// retrievers must not use a tile after it has been evicted, invalidated or
// cleared.
type Tile interface {
	Address() Address
	// Size is the cache weight, must be positive.
	Size() int64
}

// Factory builds tiles for one data layer. Factories do not cache.
type Factory interface {
	// CreateTile fails with ErrArgument when sector is nil or invalid or
	// the level, row or column are outside the factory's pyramid.
	CreateTile(ctx context.Context, sector *geo.Sector, level, row, column int) (Tile, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, sector *geo.Sector, level, row, column int) (Tile, error)

func (f FactoryFunc) CreateTile(ctx context.Context, sector *geo.Sector, level, row, column int) (Tile, error) {
	return f(ctx, sector, level, row, column)
}

// sectorTolerance absorbs rounding in sectors computed by callers.
const sectorTolerance = 1e-9

// CheckRequest performs the argument checks shared by Factory
// implementations and returns the validated address. The sector must be
// the one derived from (level, row, column).
func CheckRequest(levels *LevelSet, sector *geo.Sector, level, row, column int) (Address, error) {
	if sector == nil {
		return Address{}, fmt.Errorf("%w: sector is nil", ErrArgument)
	}
	if err := sector.Validate(); err != nil {
		return Address{}, fmt.Errorf("%w: %w", ErrArgument, err)
	}
	addr, err := levels.Address(level, row, column)
	if err != nil {
		return Address{}, err
	}
	if want := addr.Sector(); !sameSector(*sector, want) {
		return Address{}, fmt.Errorf("%w: sector %s does not match %s (%s)", ErrArgument, sector, addr, want)
	}
	return addr, nil
}

func sameSector(a, b geo.Sector) bool {
	near := func(x, y float64) bool { return math.Abs(x-y) <= sectorTolerance }
	return near(a.MinLatitude, b.MinLatitude) && near(a.MaxLatitude, b.MaxLatitude) &&
		near(a.MinLongitude, b.MinLongitude) && near(a.MaxLongitude, b.MaxLongitude)
}
