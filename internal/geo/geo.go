// Package geo provides great-circle distance math for candidate search.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// DistanceKm returns the great-circle (haversine) distance in kilometers
// between two WGS84 coordinates.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// BoundingBox returns the [minLat, maxLat, minLon, maxLon] box that encloses
// a circle of radiusKm around (lat, lon). Used as a cheap SQL prefilter; the
// caller still applies the exact distance check. Near the poles the longitude
// span degenerates, so it is clamped to the full range.
func BoundingBox(lat, lon, radiusKm float64) (minLat, maxLat, minLon, maxLon float64) {
	dLat := radiusKm / EarthRadiusKm * 180 / math.Pi
	minLat = lat - dLat
	maxLat = lat + dLat

	cos := math.Cos(lat * math.Pi / 180)
	if cos < 1e-6 {
		return minLat, maxLat, -180, 180
	}
	dLon := dLat / cos
	minLon = lon - dLon
	maxLon = lon + dLon
	if minLon < -180 || maxLon > 180 {
		minLon, maxLon = -180, 180
	}
	return minLat, maxLat, minLon, maxLon
}
