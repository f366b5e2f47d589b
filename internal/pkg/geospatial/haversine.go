package geospatial

import "math"

const earthRadiusMeters = 6371000.0

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push a just past 1 for antipodal points.
	a = math.Min(1, a)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// PointToSegment returns the distance in meters from a point to the segment a→b.
//
// The projection is computed on a flat lat/lon plane, which is only accurate
// for short segments at moderate latitudes; the reported distance is the
// haversine distance to the clamped projection.
func PointToSegment(lat, lon, aLat, aLon, bLat, bLon float64) float64 {
	dx := bLon - aLon
	dy := bLat - aLat
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return Haversine(lat, lon, aLat, aLon)
	}

	t := ((lon-aLon)*dx + (lat-aLat)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))

	return Haversine(lat, lon, aLat+t*dy, aLon+t*dx)
}

// BoundingBox returns a bounding box around a point with the given radius in meters.
func BoundingBox(lat, lon, radiusMeters float64) (minLat, minLon, maxLat, maxLon float64) {
	latDelta := radiusMeters / 111320.0
	lonDelta := radiusMeters / (111320.0 * math.Cos(toRad(lat)))

	return lat - latDelta, lon - lonDelta, lat + latDelta, lon + lonDelta
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
