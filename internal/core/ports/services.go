package ports

import (
	"context"

	"github.com/bikebuddy/server/internal/core/domain"
)

// IngestEvent announces that a batch of records was written.
type IngestEvent struct {
	Category domain.Category    `json:"category"`
	Box      domain.BoundingBox `json:"box"`
	Count    int                `json:"count"`
}

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishIngested(ctx context.Context, event IngestEvent) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribeIngested(ctx context.Context, handler func(ctx context.Context, event IngestEvent) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
	Incr(ctx context.Context, key string) (int64, error)
}

// POISource fetches records of one category inside a box from an upstream provider.
type POISource interface {
	FetchPOIs(ctx context.Context, category domain.Category, box domain.BoundingBox) ([]domain.POI, error)
}
