package tile

import (
	"fmt"
	"strconv"
	"strings"

	"tilepyramid/internal/geo"
)

// Address identifies one cell of a LevelSet. Only LevelSet.Address and the
// derivation methods construct one, so a held Address is always in range.
type Address struct {
	levels *LevelSet
	level  int
	row    int
	column int
}

func (a Address) Level() int  { return a.level }
func (a Address) Row() int    { return a.row }
func (a Address) Column() int { return a.column }

// IsZero reports whether a was not produced by a LevelSet.
func (a Address) IsZero() bool { return a.levels == nil }

// LevelSet returns the pyramid the address belongs to.
func (a Address) LevelSet() *LevelSet { return a.levels }

// Sector is recomputed on every call.
func (a Address) Sector() geo.Sector {
	return a.levels.sectorOf(a.level, a.row, a.column)
}

// Key is the canonical cache key "level/row/column".
func (a Address) Key() string {
	return strconv.Itoa(a.level) + "/" + strconv.Itoa(a.row) + "/" + strconv.Itoa(a.column)
}

func (a Address) String() string { return a.Key() }

// Equal compares (level, row, column) only.
func (a Address) Equal(b Address) bool {
	return a.level == b.level && a.row == b.row && a.column == b.column
}

// Parent returns the enclosing cell one level up; false at level 0.
func (a Address) Parent() (Address, bool) {
	if a.level == 0 {
		return Address{}, false
	}
	return Address{levels: a.levels, level: a.level - 1, row: a.row / 2, column: a.column / 2}, true
}

// Children returns the 2x2 cells one level down in row-major order;
// false at the last level.
func (a Address) Children() ([4]Address, bool) {
	if a.level+1 >= a.levels.numLevels {
		return [4]Address{}, false
	}
	var children [4]Address
	level := a.level + 1
	for i := range children {
		children[i] = Address{
			levels: a.levels,
			level:  level,
			row:    2*a.row + i/2,
			column: 2*a.column + i%2,
		}
	}
	return children, true
}

// ParseKey is the inverse of Address.Key.
func (ls *LevelSet) ParseKey(key string) (Address, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return Address{}, fmt.Errorf("%w: malformed key %q", ErrArgument, key)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Address{}, fmt.Errorf("%w: malformed key %q: %w", ErrArgument, key, err)
		}
		nums[i] = n
	}
	return ls.Address(nums[0], nums[1], nums[2])
}
