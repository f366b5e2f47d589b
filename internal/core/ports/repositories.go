package ports

import (
	"context"

	"github.com/bikebuddy/server/internal/core/domain"
)

// POIRepository persists points of interest.
type POIRepository interface {
	UpsertBatch(ctx context.Context, pois []domain.POI) (int, error)
	GetByID(ctx context.Context, id string) (*domain.POI, error)
	// FindInBounds returns records inside box, ordered by id. An empty
	// categories slice matches every category.
	FindInBounds(ctx context.Context, box domain.BoundingBox, categories []domain.Category, limit int) ([]domain.POI, error)
	FindNearby(ctx context.Context, lat, lon, radiusMeters float64, categories []domain.Category, limit int) ([]domain.POI, error)
	CountByCategory(ctx context.Context) ([]domain.CategoryCount, error)
	Ping(ctx context.Context) error
}

// RegionQuerier answers region-diff requests. It is implemented in-process by
// the region service and remotely by the API client.
type RegionQuerier interface {
	Diff(ctx context.Context, req domain.RegionDiffRequest) (*domain.RegionDiff, error)
}
