package gps

import (
	"fmt"
	"math"

	"github.com/markus-lassfolk/locnotifier/pkg"
)

const (
	earthRadiusMeters = 6371000.0
	feetPerMeter      = 3.2808399
	e6                = 1e6
)

// Distance returns the great-circle distance between two coordinates in metres (haversine)
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DistanceTo returns the distance from a fix to the destination centre
func DistanceTo(fix pkg.LocationFix, dest pkg.Destination) float64 {
	return Distance(fix.Latitude, fix.Longitude, dest.Latitude, dest.Longitude)
}

// RoundMeters rounds a distance for display
func RoundMeters(m float64) int64 {
	return int64(math.Round(m))
}

// MetersToFeet converts metres to feet
func MetersToFeet(m float64) float64 {
	return m * feetPerMeter
}

// FormatDistance renders a rounded distance in metric or imperial units
func FormatDistance(meters int64, imperial bool) string {
	if imperial {
		return fmt.Sprintf("%d ft", int64(math.Round(MetersToFeet(float64(meters)))))
	}
	return fmt.Sprintf("%d m", meters)
}

// ToE6 converts degrees to the fixed-point microdegree form used in settings
func ToE6(deg float64) int32 {
	return int32(deg * e6)
}

// FromE6 converts microdegrees back to degrees
func FromE6(v int32) float64 {
	return float64(v) / e6
}

// Offset moves a coordinate by the given metres north and east. Used by simulations and tests.
func Offset(lat, lon, northM, eastM float64) (float64, float64) {
	dLat := northM / earthRadiusMeters
	dLon := eastM / (earthRadiusMeters * math.Cos(toRadians(lat)))
	return lat + dLat*180/math.Pi, lon + dLon*180/math.Pi
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
