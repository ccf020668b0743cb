package imagery

import (
	"fmt"
	"math"

	"tilepyramid/internal/geo"
)

// window is a pixel rectangle of the source raster.
type window struct {
	x, y, width, height int
}

// sectorWindow maps sector onto a width x height raster covering domain in
// plate carrée, y growing southward. The window is clipped to the raster
// and is at least one pixel in each direction.
func sectorWindow(domain, sector geo.Sector, width, height int) (window, error) {
	toX := func(lon float64) float64 { return (lon - domain.MinLongitude) * float64(width) / domain.DeltaLongitude() }
	toY := func(lat float64) float64 { return (domain.MaxLatitude - lat) * float64(height) / domain.DeltaLatitude() }

	x0 := int(math.Floor(toX(sector.MinLongitude)))
	x1 := int(math.Ceil(toX(sector.MaxLongitude)))
	y0 := int(math.Floor(toY(sector.MaxLatitude)))
	y1 := int(math.Ceil(toY(sector.MinLatitude)))

	x0, x1 = max(x0, 0), min(x1, width)
	y0, y1 = max(y0, 0), min(y1, height)
	if x0 >= width || y0 >= height || x1 <= 0 || y1 <= 0 {
		return window{}, fmt.Errorf("sector %s outside raster", sector)
	}
	return window{
		x:      x0,
		y:      y0,
		width:  max(x1-x0, 1),
		height: max(y1-y0, 1),
	}, nil
}
