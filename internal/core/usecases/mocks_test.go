package usecases_test

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/ports"
)

// --- Mock POIRepository ---

type mockPOIRepo struct {
	upsertBatchFn     func(ctx context.Context, pois []domain.POI) (int, error)
	getByIDFn         func(ctx context.Context, id string) (*domain.POI, error)
	findInBoundsFn    func(ctx context.Context, box domain.BoundingBox, categories []domain.Category, limit int) ([]domain.POI, error)
	findNearbyFn      func(ctx context.Context, lat, lon, radius float64, categories []domain.Category, limit int) ([]domain.POI, error)
	countByCategoryFn func(ctx context.Context) ([]domain.CategoryCount, error)
}

func (m *mockPOIRepo) UpsertBatch(ctx context.Context, pois []domain.POI) (int, error) {
	if m.upsertBatchFn != nil {
		return m.upsertBatchFn(ctx, pois)
	}
	return len(pois), nil
}

func (m *mockPOIRepo) GetByID(ctx context.Context, id string) (*domain.POI, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockPOIRepo) FindInBounds(ctx context.Context, box domain.BoundingBox, categories []domain.Category, limit int) ([]domain.POI, error) {
	if m.findInBoundsFn != nil {
		return m.findInBoundsFn(ctx, box, categories, limit)
	}
	return nil, nil
}

func (m *mockPOIRepo) FindNearby(ctx context.Context, lat, lon, radius float64, categories []domain.Category, limit int) ([]domain.POI, error) {
	if m.findNearbyFn != nil {
		return m.findNearbyFn(ctx, lat, lon, radius, categories, limit)
	}
	return nil, nil
}

func (m *mockPOIRepo) CountByCategory(ctx context.Context) ([]domain.CategoryCount, error) {
	if m.countByCategoryFn != nil {
		return m.countByCategoryFn(ctx)
	}
	return nil, nil
}

func (m *mockPOIRepo) Ping(ctx context.Context) error { return nil }

// worldRepo serves FindInBounds from a fixed slice.
func worldRepo(world []domain.POI) *mockPOIRepo {
	return &mockPOIRepo{
		findInBoundsFn: func(_ context.Context, box domain.BoundingBox, categories []domain.Category, limit int) ([]domain.POI, error) {
			var out []domain.POI
			for _, p := range world {
				if !box.Contains(p.Location) {
					continue
				}
				if len(categories) > 0 && !hasCategory(categories, p.Category) {
					continue
				}
				out = append(out, p)
				if len(out) == limit {
					break
				}
			}
			return out, nil
		},
	}
}

func hasCategory(cs []domain.Category, c domain.Category) bool {
	for _, x := range cs {
		if x == c {
			return true
		}
	}
	return false
}

// --- In-memory CacheService ---

var errCacheMiss = errors.New("cache miss")

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, errCacheMiss
	}
	return v, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.sets++
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, _ := strconv.ParseInt(string(c.data[key]), 10, 64)
	n++
	c.data[key] = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

// --- Mock POISource / EventPublisher ---

type mockSource struct {
	fetchFn func(ctx context.Context, category domain.Category, box domain.BoundingBox) ([]domain.POI, error)
}

func (m *mockSource) FetchPOIs(ctx context.Context, category domain.Category, box domain.BoundingBox) ([]domain.POI, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, category, box)
	}
	return nil, nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []ports.IngestEvent
	err    error
}

func (m *mockPublisher) PublishIngested(_ context.Context, ev ports.IngestEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

func poi(id string, c domain.Category, lat, lon float64) domain.POI {
	return domain.POI{ID: id, SourceID: "node/" + id, Source: domain.SourceOSM, Category: c, Name: id,
		Location: domain.GeoPoint{Lat: lat, Lon: lon}}
}
