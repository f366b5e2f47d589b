package usecases

import (
	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/pkg/geospatial"
)

// DefaultAdjacencyTolerance is the maximum distance in meters between a record
// and the route for the record to count as adjacent.
const DefaultAdjacencyTolerance = 200.0

// IsNearRoute reports whether poi lies within toleranceMeters of any segment
// of route. Routes with fewer than two points are never near anything.
func IsNearRoute(poi domain.POI, route *domain.Route, toleranceMeters float64) bool {
	if route == nil || len(route.Points) < 2 {
		return false
	}
	for i := 0; i < len(route.Points)-1; i++ {
		a, b := route.Points[i], route.Points[i+1]
		d := geospatial.PointToSegment(poi.Location.Lat, poi.Location.Lon, a.Lat, a.Lon, b.Lat, b.Lon)
		if d <= toleranceMeters {
			return true
		}
	}
	return false
}

// FilterNearRoute keeps the records adjacent to route, preserving order.
func FilterNearRoute(pois []domain.POI, route *domain.Route, toleranceMeters float64) []domain.POI {
	out := make([]domain.POI, 0, len(pois))
	for _, p := range pois {
		if IsNearRoute(p, route, toleranceMeters) {
			out = append(out, p)
		}
	}
	return out
}
