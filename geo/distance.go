package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	φ1 := toRadians(a.Latitude)
	φ2 := toRadians(b.Latitude)
	Δφ := toRadians(b.Latitude - a.Latitude)
	Δλ := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(Δφ/2)*math.Sin(Δφ/2) + math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Within reports whether p lies inside the circle of radiusMeters around center.
// The boundary is inclusive.
func Within(center, p Point, radiusMeters float64) (bool, float64) {
	d := Distance(center, p)
	return d <= radiusMeters, d
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
