package usecases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/twpayne/go-gpx"
	"github.com/twpayne/go-polyline"

	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/ports"
)

// ErrEmptyRoute is returned when an uploaded route has no points.
var ErrEmptyRoute = errors.New("route has no points")

const defaultRouteName = "Imported Route"

// RouteService imports cycling routes and finds records along them.
type RouteService struct {
	pois       ports.POIRepository
	maxRecords int
}

// NewRouteService creates a new RouteService.
func NewRouteService(pois ports.POIRepository, maxRecords int) *RouteService {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &RouteService{pois: pois, maxRecords: maxRecords}
}

// ParseGPX reads a GPX document. Track points win over route points; the name
// comes from the first named track or route.
func (s *RouteService) ParseGPX(r io.Reader) (*domain.Route, error) {
	doc, err := gpx.Read(r)
	if err != nil {
		return nil, fmt.Errorf("parse gpx: %w", err)
	}

	route := &domain.Route{ID: uuid.NewString()}

	for _, trk := range doc.Trk {
		if route.Name == "" {
			route.Name = strings.TrimSpace(trk.Name)
		}
		for _, seg := range trk.TrkSeg {
			for _, pt := range seg.TrkPt {
				route.Points = append(route.Points, domain.GeoPoint{Lat: pt.Lat, Lon: pt.Lon})
			}
		}
	}

	if len(route.Points) == 0 {
		for _, rte := range doc.Rte {
			if route.Name == "" {
				route.Name = strings.TrimSpace(rte.Name)
			}
			for _, pt := range rte.RtePt {
				route.Points = append(route.Points, domain.GeoPoint{Lat: pt.Lat, Lon: pt.Lon})
			}
		}
	}

	if len(route.Points) == 0 {
		return nil, ErrEmptyRoute
	}
	if route.Name == "" {
		route.Name = defaultRouteName
	}
	return route, nil
}

// DecodePolyline decodes a Google encoded polyline.
func (s *RouteService) DecodePolyline(encoded, name string) (*domain.Route, error) {
	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	if len(coords) == 0 {
		return nil, ErrEmptyRoute
	}
	route := &domain.Route{ID: uuid.NewString(), Name: name, Points: make([]domain.GeoPoint, 0, len(coords))}
	if route.Name == "" {
		route.Name = defaultRouteName
	}
	for _, c := range coords {
		p := domain.GeoPoint{Lat: c[0], Lon: c[1]}
		if !p.Valid() {
			return nil, fmt.Errorf("decode polyline: point (%f, %f) out of range", p.Lat, p.Lon)
		}
		route.Points = append(route.Points, p)
	}
	return route, nil
}

// EncodePolyline encodes the route points as a Google polyline.
func (s *RouteService) EncodePolyline(route *domain.Route) string {
	if route == nil {
		return ""
	}
	coords := make([][]float64, len(route.Points))
	for i, p := range route.Points {
		coords[i] = []float64{p.Lat, p.Lon}
	}
	return string(polyline.EncodeCoords(coords))
}

// POIsAlongRoute returns records within toleranceMeters of the route.
func (s *RouteService) POIsAlongRoute(ctx context.Context, route *domain.Route, categories []domain.Category, toleranceMeters float64) ([]domain.POI, error) {
	if route == nil || len(route.Points) == 0 {
		return nil, ErrEmptyRoute
	}
	if toleranceMeters <= 0 {
		toleranceMeters = DefaultAdjacencyTolerance
	}
	if len(route.Points) < 2 {
		return []domain.POI{}, nil
	}

	box, _ := route.Bounds(toleranceMeters)
	candidates, err := s.pois.FindInBounds(ctx, box, categories, s.maxRecords)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	return FilterNearRoute(candidates, route, toleranceMeters), nil
}
