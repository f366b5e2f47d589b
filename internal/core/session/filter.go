package session

import (
	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/usecases"
)

// FilterState is the user-controlled part of what is shown.
type FilterState struct {
	Categories       map[domain.Category]bool
	AdjacencyEnabled bool
	Route            *domain.Route
	Tolerance        float64
}

// Filter keeps records whose category is active and, with adjacency on, that
// lie near the route. Adjacency on without a route shows nothing.
func Filter(records []domain.POI, st FilterState) []domain.POI {
	out := make([]domain.POI, 0, len(records))
	if st.AdjacencyEnabled && st.Route == nil {
		return out
	}
	for _, p := range records {
		if !st.Categories[p.Category] {
			continue
		}
		if st.AdjacencyEnabled && !usecases.IsNearRoute(p, st.Route, st.Tolerance) {
			continue
		}
		out = append(out, p)
	}
	return out
}
