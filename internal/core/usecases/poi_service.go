package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/ports"
	"github.com/bikebuddy/server/internal/pkg/metrics"
)

const (
	defaultListLimit   = 500
	maxNearbyRadius    = 10000.0
	defaultNearbyLimit = 50
	maxNearbyLimit     = 200
)

// POIService handles point-of-interest lookups.
type POIService struct {
	pois       ports.POIRepository
	cache      ports.CacheService
	maxRecords int
}

// NewPOIService creates a new POIService. cache may be nil.
func NewPOIService(pois ports.POIRepository, cache ports.CacheService, maxRecords int) *POIService {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &POIService{pois: pois, cache: cache, maxRecords: maxRecords}
}

// ListInBounds returns records inside box, optionally restricted to categories.
func (s *POIService) ListInBounds(ctx context.Context, box domain.BoundingBox, categories []domain.Category, limit int) ([]domain.POI, error) {
	if err := box.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > s.maxRecords {
		limit = s.maxRecords
	}
	return s.pois.FindInBounds(ctx, box, categories, limit)
}

// GetByID returns a single record.
func (s *POIService) GetByID(ctx context.Context, id string) (*domain.POI, error) {
	if id == "" {
		return nil, fmt.Errorf("id must not be empty")
	}

	cacheKey := "pois:id:" + id
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var poi domain.POI
			if err := json.Unmarshal(data, &poi); err == nil {
				metrics.CacheHits.WithLabelValues("poi").Inc()
				return &poi, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("poi").Inc()
	}

	poi, err := s.pois.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(poi); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, 600)
		}
	}
	return poi, nil
}

// FindNearby returns records within radiusMeters of a point, closest first.
func (s *POIService) FindNearby(ctx context.Context, lat, lon, radiusMeters float64, categories []domain.Category, limit int) ([]domain.POI, error) {
	if !(domain.GeoPoint{Lat: lat, Lon: lon}).Valid() {
		return nil, fmt.Errorf("invalid coordinates (%f, %f)", lat, lon)
	}
	if radiusMeters <= 0 {
		return nil, fmt.Errorf("radius must be positive")
	}
	if radiusMeters > maxNearbyRadius {
		radiusMeters = maxNearbyRadius
	}
	if limit <= 0 {
		limit = defaultNearbyLimit
	}
	if limit > maxNearbyLimit {
		limit = maxNearbyLimit
	}

	cacheKey := fmt.Sprintf("pois:nearby:%.4f:%.4f:%.0f:%s:%d", lat, lon, radiusMeters, joinCategories(categories), limit)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var pois []domain.POI
			if err := json.Unmarshal(data, &pois); err == nil {
				metrics.CacheHits.WithLabelValues("nearby").Inc()
				return pois, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("nearby").Inc()
	}

	pois, err := s.pois.FindNearby(ctx, lat, lon, radiusMeters, categories, limit)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(pois); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, 300)
		}
	}
	return pois, nil
}

// CategoryCounts returns how many records each known category holds,
// including categories with none.
func (s *POIService) CategoryCounts(ctx context.Context) ([]domain.CategoryCount, error) {
	counts, err := s.pois.CountByCategory(ctx)
	if err != nil {
		return nil, err
	}
	byCat := make(map[domain.Category]int, len(counts))
	for _, c := range counts {
		byCat[c.Category] = c.Count
	}
	out := make([]domain.CategoryCount, 0, len(domain.Categories))
	for _, c := range domain.Categories {
		out = append(out, domain.CategoryCount{Category: c, Count: byCat[c]})
	}
	return out, nil
}

// Ready reports whether the backing store answers.
func (s *POIService) Ready(ctx context.Context) error {
	return s.pois.Ping(ctx)
}

func joinCategories(cs []domain.Category) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = string(c)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
