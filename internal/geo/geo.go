package geo

// Package geo provides the small set of spherical-earth helpers the
// pipeline needs: great-circle distance for trip accumulation and
// containment tests, plus heading arithmetic for cornering detection.

import "math"

const earthRadiusM = 6371000.0

// HaversineM returns the great-circle distance in meters between two
// lat/lon pairs given in decimal degrees.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180.0
	phi2 := lat2 * math.Pi / 180.0
	dPhi := (lat2 - lat1) * math.Pi / 180.0
	dLambda := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// EquirectangularM is a cheaper flat-projection approximation of HaversineM.
// It scales longitude by the cosine of the mean latitude, which keeps it
// accurate to well under a percent over geofence-sized distances.
func EquirectangularM(lat1, lon1, lat2, lon2 float64) float64 {
	meanLat := (lat1 + lat2) / 2 * math.Pi / 180.0
	x := (lon2 - lon1) * math.Pi / 180.0 * math.Cos(meanLat)
	y := (lat2 - lat1) * math.Pi / 180.0
	return earthRadiusM * math.Sqrt(x*x+y*y)
}

// HeadingDeltaDeg returns the signed shortest rotation from one heading to
// another, normalized to (-180, 180]. Headings may be outside [0, 360).
func HeadingDeltaDeg(fromDeg, toDeg float64) float64 {
	d := math.Mod(toDeg-fromDeg, 360.0)
	if d > 180 {
		d -= 360
	}
	if d <= -180 {
		d += 360
	}
	return d
}
