// Package geo holds the geodetic helpers used to address tiles: angle
// normalization and validation, and the Sector bounding rectangle.
// Everything here is a pure function or an immutable value.
package geo

import (
	"fmt"
	"math"
)

const (
	DegreesToRadians = math.Pi / 180.0
	RadiansToDegrees = 180.0 / math.Pi
)

// NormalizedLatitude folds degrees into [-90, 90]. Values past a pole
// come back down the other side.
func NormalizedLatitude(degrees float64) float64 {
	lat := math.Mod(degrees, 180)
	switch {
	case lat > 90:
		return 180 - lat
	case lat < -90:
		return -180 - lat
	}
	return lat
}

// NormalizedLongitude wraps degrees into [-180, 180].
func NormalizedLongitude(degrees float64) float64 {
	lon := math.Mod(degrees, 360)
	switch {
	case lon > 180:
		return lon - 360
	case lon < -180:
		return 360 + lon
	}
	return lon
}

func NormalizedRadiansLatitude(radians float64) float64 {
	lat := math.Mod(radians, math.Pi)
	switch {
	case lat > math.Pi/2:
		return math.Pi - lat
	case lat < -math.Pi/2:
		return -math.Pi - lat
	}
	return lat
}

func NormalizedRadiansLongitude(radians float64) float64 {
	lon := math.Mod(radians, 2*math.Pi)
	switch {
	case lon > math.Pi:
		return lon - 2*math.Pi
	case lon < -math.Pi:
		return 2*math.Pi + lon
	}
	return lon
}

func IsValidLatitude(degrees float64) bool {
	return degrees >= -90 && degrees <= 90
}

func IsValidLongitude(degrees float64) bool {
	return degrees >= -180 && degrees <= 180
}

// DMSString formats degrees as degrees, minutes and rounded seconds,
// e.g. -12° 30’ 5”.
func DMSString(degrees float64) string {
	sign := ""
	if degrees < 0 {
		sign = "-"
		degrees = -degrees
	}
	d := math.Floor(degrees)
	rem := (degrees - d) * 60
	m := math.Floor(rem)
	s := math.Round((rem - m) * 60)

	if s == 60 {
		m++
		s = 0
	}
	if m == 60 {
		d++
		m = 0
	}
	return fmt.Sprintf("%s%d° %d’ %d”", sign, int(d), int(m), int(s))
}
