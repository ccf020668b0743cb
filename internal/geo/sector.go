package geo

import (
	"errors"
	"fmt"
)

// ErrInvalidSector is returned by Sector.Validate.
var ErrInvalidSector = errors.New("geo: invalid sector")

// Sector is a geographic rectangle in degrees.
type Sector struct {
	MinLatitude  float64
	MaxLatitude  float64
	MinLongitude float64
	MaxLongitude float64
}

// FullSphere spans the whole globe.
var FullSphere = Sector{MinLatitude: -90, MaxLatitude: 90, MinLongitude: -180, MaxLongitude: 180}

func (s Sector) DeltaLatitude() float64  { return s.MaxLatitude - s.MinLatitude }
func (s Sector) DeltaLongitude() float64 { return s.MaxLongitude - s.MinLongitude }

// Centroid returns the sector's center as (latitude, longitude).
func (s Sector) Centroid() (float64, float64) {
	return (s.MinLatitude + s.MaxLatitude) / 2, (s.MinLongitude + s.MaxLongitude) / 2
}

// Contains reports whether the location lies in the sector, edges included.
func (s Sector) Contains(latitude, longitude float64) bool {
	return latitude >= s.MinLatitude && latitude <= s.MaxLatitude &&
		longitude >= s.MinLongitude && longitude <= s.MaxLongitude
}

// Validate checks ranges and ordering of the bounds.
func (s Sector) Validate() error {
	if !IsValidLatitude(s.MinLatitude) || !IsValidLatitude(s.MaxLatitude) {
		return fmt.Errorf("%w: latitude out of range [%g, %g]", ErrInvalidSector, s.MinLatitude, s.MaxLatitude)
	}
	if !IsValidLongitude(s.MinLongitude) || !IsValidLongitude(s.MaxLongitude) {
		return fmt.Errorf("%w: longitude out of range [%g, %g]", ErrInvalidSector, s.MinLongitude, s.MaxLongitude)
	}
	if s.MinLatitude > s.MaxLatitude || s.MinLongitude > s.MaxLongitude {
		return fmt.Errorf("%w: min exceeds max", ErrInvalidSector)
	}
	return nil
}

func (s Sector) String() string {
	return fmt.Sprintf("(%g, %g)-(%g, %g)", s.MinLatitude, s.MinLongitude, s.MaxLatitude, s.MaxLongitude)
}
