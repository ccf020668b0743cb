package tile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilepyramid/internal/geo"
)

func newTestLevels(t *testing.T) *LevelSet {
	t.Helper()
	ls, err := NewLevelSet(geo.FullSphere, 45, 5)
	require.NoError(t, err)
	return ls
}

func TestNewLevelSet(t *testing.T) {
	ls := newTestLevels(t)
	assert.Equal(t, 4, ls.Rows(0))
	assert.Equal(t, 8, ls.Columns(0))
	assert.Equal(t, 16, ls.Rows(2))
	assert.Equal(t, 32, ls.Columns(2))
	assert.Equal(t, 11.25, ls.Delta(2))
	assert.Equal(t, 4, ls.LastLevel())

	tests := []struct {
		name   string
		sector geo.Sector
		delta  float64
		levels int
	}{
		{"bad sector", geo.Sector{MinLatitude: -100, MaxLatitude: 0, MinLongitude: 0, MaxLongitude: 10}, 45, 1},
		{"empty sector", geo.Sector{MinLatitude: 0, MaxLatitude: 0, MinLongitude: 0, MaxLongitude: 10}, 45, 1},
		{"zero delta", geo.FullSphere, 0, 1},
		{"no levels", geo.FullSphere, 45, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLevelSet(tt.sector, tt.delta, tt.levels)
			require.ErrorIs(t, err, ErrArgument)
		})
	}
}

func TestAddressValidation(t *testing.T) {
	ls := newTestLevels(t)

	tests := []struct {
		name               string
		level, row, column int
	}{
		{"negative level", -1, 0, 0},
		{"level past last", 5, 0, 0},
		{"negative row", 0, -1, 0},
		{"row past grid", 0, 4, 0},
		{"column past grid", 1, 0, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ls.Address(tt.level, tt.row, tt.column)
			require.ErrorIs(t, err, ErrArgument)
		})
	}

	a, err := ls.Address(1, 7, 15)
	require.NoError(t, err)
	assert.Equal(t, "1/7/15", a.Key())
	assert.False(t, a.IsZero())
	assert.True(t, Address{}.IsZero())
}

func TestSectorIsPure(t *testing.T) {
	ls := newTestLevels(t)
	a, err := ls.Address(3, 21, 50)
	require.NoError(t, err)

	first := a.Sector()
	second := a.Sector()
	assert.Equal(t, first, second)

	b, err := ls.Address(3, 21, 50)
	require.NoError(t, err)
	assert.Equal(t, first, b.Sector())
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Key(), b.Key())
}

func TestSectorBounds(t *testing.T) {
	ls := newTestLevels(t)

	a, err := ls.Address(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, geo.Sector{MinLatitude: -90, MaxLatitude: -45, MinLongitude: -180, MaxLongitude: -135}, a.Sector())

	a, err = ls.Address(1, 7, 15)
	require.NoError(t, err)
	assert.Equal(t, geo.Sector{MinLatitude: 67.5, MaxLatitude: 90, MinLongitude: 157.5, MaxLongitude: 180}, a.Sector())
}

func TestUnevenGridIsClipped(t *testing.T) {
	ls, err := NewLevelSet(geo.FullSphere, 36, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, ls.Rows(0))
	assert.Equal(t, 10, ls.Columns(0))

	ls, err = NewLevelSet(geo.Sector{MinLatitude: 0, MaxLatitude: 50, MinLongitude: 0, MaxLongitude: 50}, 20, 1)
	require.NoError(t, err)
	a, err := ls.Address(0, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, geo.Sector{MinLatitude: 40, MaxLatitude: 50, MinLongitude: 40, MaxLongitude: 50}, a.Sector())
}

func TestParentChildren(t *testing.T) {
	ls := newTestLevels(t)
	a, err := ls.Address(2, 5, 9)
	require.NoError(t, err)

	children, ok := a.Children()
	require.True(t, ok)
	want := [][2]int{{10, 18}, {10, 19}, {11, 18}, {11, 19}}
	for i, child := range children {
		assert.Equal(t, 3, child.Level())
		assert.Equal(t, want[i][0], child.Row())
		assert.Equal(t, want[i][1], child.Column())

		parent, ok := child.Parent()
		require.True(t, ok)
		assert.True(t, parent.Equal(a))
		assert.Equal(t, a.Row(), child.Row()/2)
		assert.Equal(t, a.Column(), child.Column()/2)

		s, ps := child.Sector(), a.Sector()
		assert.True(t, ps.Contains(s.MinLatitude, s.MinLongitude))
		assert.True(t, ps.Contains(s.MaxLatitude, s.MaxLongitude))
	}

	root, err := ls.Address(0, 1, 1)
	require.NoError(t, err)
	_, ok = root.Parent()
	assert.False(t, ok)

	leaf, err := ls.Address(4, 0, 0)
	require.NoError(t, err)
	_, ok = leaf.Children()
	assert.False(t, ok)
}

func TestTileFor(t *testing.T) {
	ls := newTestLevels(t)

	a, err := ls.TileFor(0, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, "0/2/4", a.Key())

	a, err = ls.TileFor(0, 90, 180)
	require.NoError(t, err)
	assert.Equal(t, "0/3/7", a.Key())

	// 200 degrees east wraps to -160.
	a, err = ls.TileFor(1, 0, 200)
	require.NoError(t, err)
	assert.Equal(t, "1/4/0", a.Key())
	assert.True(t, a.Sector().Contains(0, -160))

	_, err = ls.TileFor(9, 0, 0)
	require.ErrorIs(t, err, ErrArgument)
}

func TestParseKey(t *testing.T) {
	ls := newTestLevels(t)
	a, err := ls.ParseKey("2/5/9")
	require.NoError(t, err)
	assert.Equal(t, "2/5/9", a.Key())

	for _, key := range []string{"", "1/2", "a/b/c", "1/2/3/4", "0/9/0"} {
		_, err := ls.ParseKey(key)
		assert.ErrorIs(t, err, ErrArgument, key)
	}
}

type stubTile struct{ addr Address }

func (s stubTile) Address() Address { return s.addr }
func (s stubTile) Size() int64      { return 1 }

func TestCheckRequest(t *testing.T) {
	ls := newTestLevels(t)
	var f Factory = FactoryFunc(func(_ context.Context, sector *geo.Sector, level, row, column int) (Tile, error) {
		addr, err := CheckRequest(ls, sector, level, row, column)
		if err != nil {
			return nil, err
		}
		return stubTile{addr: addr}, nil
	})

	_, err := f.CreateTile(context.Background(), nil, 0, 0, 0)
	require.ErrorIs(t, err, ErrArgument)

	bad := geo.Sector{MinLatitude: 1, MaxLatitude: 0}
	_, err = f.CreateTile(context.Background(), &bad, 0, 0, 0)
	require.ErrorIs(t, err, ErrArgument)

	a, err := ls.Address(1, 2, 3)
	require.NoError(t, err)
	s := a.Sector()
	got, err := f.CreateTile(context.Background(), &s, 1, 2, 3)
	require.NoError(t, err)
	assert.True(t, got.Address().Equal(a))

	_, err = f.CreateTile(context.Background(), &s, 5, 0, 0)
	require.ErrorIs(t, err, ErrArgument)
}

func TestCheckRequestRejectsMismatchedSector(t *testing.T) {
	ls := newTestLevels(t)
	other, err := ls.Address(0, 3, 7)
	require.NoError(t, err)
	sector := other.Sector()

	_, err = CheckRequest(ls, &sector, 0, 0, 0)
	require.ErrorIs(t, err, ErrArgument)

	// The right cell one level down is also a mismatch.
	child, err := ls.Address(1, 6, 14)
	require.NoError(t, err)
	_, err = CheckRequest(ls, &sector, 1, 6, 14)
	require.ErrorIs(t, err, ErrArgument)

	sector = child.Sector()
	addr, err := CheckRequest(ls, &sector, 1, 6, 14)
	require.NoError(t, err)
	assert.True(t, addr.Equal(child))

	nudged := sector
	nudged.MinLatitude += 1e-12
	_, err = CheckRequest(ls, &nudged, 1, 6, 14)
	assert.NoError(t, err)
}
