package usecases_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/ports"
	"github.com/bikebuddy/server/internal/core/usecases"
)

var (
	sfBox     = domain.BoundingBox{South: 37.70, West: -122.50, North: 37.80, East: -122.40}
	sfShifted = domain.BoundingBox{South: 37.75, West: -122.50, North: 37.85, East: -122.40}
	sfWorld   = []domain.POI{
		poi("a", domain.CategoryCafe, 37.72, -122.45),
		poi("b", domain.CategoryToilet, 37.78, -122.45),
		poi("c", domain.CategoryDrinkingWater, 37.83, -122.45),
	}
)

func keys(pois []domain.POI) []string {
	out := make([]string, len(pois))
	for i, p := range pois {
		out[i] = p.Key()
	}
	sort.Strings(out)
	return out
}

func TestRegionService_InitialLoad(t *testing.T) {
	svc := usecases.NewRegionService(worldRepo(sfWorld), nil, 0, 0)

	diff, err := svc.Diff(context.Background(), domain.RegionDiffRequest{Box: sfBox})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := keys(diff.Added); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected added [a b], got %v", got)
	}
	if len(diff.Removed) != 0 {
		t.Errorf("expected nothing removed, got %v", keys(diff.Removed))
	}
}

func TestRegionService_ShiftedBox(t *testing.T) {
	svc := usecases.NewRegionService(worldRepo(sfWorld), nil, 0, 0)
	prev := sfBox

	diff, err := svc.Diff(context.Background(), domain.RegionDiffRequest{Box: sfShifted, Previous: &prev})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := keys(diff.Added); len(got) != 1 || got[0] != "c" {
		t.Errorf("expected added [c], got %v", got)
	}
	if got := keys(diff.Removed); len(got) != 1 || got[0] != "a" {
		t.Errorf("expected removed [a], got %v", got)
	}
}

func TestRegionService_SameBoxIsEmpty(t *testing.T) {
	svc := usecases.NewRegionService(worldRepo(sfWorld), nil, 0, 0)
	prev := sfBox

	diff, err := svc.Diff(context.Background(), domain.RegionDiffRequest{Box: sfBox, Previous: &prev})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(diff.Added) != 0 || len(diff.Removed) != 0 {
		t.Errorf("expected empty diff, got +%v -%v", keys(diff.Added), keys(diff.Removed))
	}
}

func TestRegionService_CapNeverRemovesVisible(t *testing.T) {
	// Current query is capped at 1 record, so "b" is missing from it even
	// though it is still inside the box.
	svc := usecases.NewRegionService(worldRepo(sfWorld), nil, 1, 0)
	prev := domain.BoundingBox{South: 37.77, West: -122.50, North: 37.79, East: -122.40}

	diff, err := svc.Diff(context.Background(), domain.RegionDiffRequest{Box: sfBox, Previous: &prev})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(diff.Removed) != 0 {
		t.Errorf("visible record removed: %v", keys(diff.Removed))
	}
}

func TestRegionService_InvalidBoxes(t *testing.T) {
	called := false
	repo := &mockPOIRepo{findInBoundsFn: func(context.Context, domain.BoundingBox, []domain.Category, int) ([]domain.POI, error) {
		called = true
		return nil, nil
	}}
	svc := usecases.NewRegionService(repo, nil, 0, 0)

	bad := domain.BoundingBox{South: 38, West: -122.5, North: 37, East: -122.4}
	if _, err := svc.Diff(context.Background(), domain.RegionDiffRequest{Box: bad}); !errors.Is(err, domain.ErrInvalidBoundingBox) {
		t.Errorf("expected ErrInvalidBoundingBox, got %v", err)
	}
	if _, err := svc.Diff(context.Background(), domain.RegionDiffRequest{Box: sfBox, Previous: &bad}); !errors.Is(err, domain.ErrInvalidBoundingBox) {
		t.Errorf("expected ErrInvalidBoundingBox for previous, got %v", err)
	}
	if called {
		t.Error("repository must not be queried for invalid boxes")
	}
}

func TestRegionService_RepoError(t *testing.T) {
	repo := &mockPOIRepo{findInBoundsFn: func(context.Context, domain.BoundingBox, []domain.Category, int) ([]domain.POI, error) {
		return nil, errors.New("db down")
	}}
	svc := usecases.NewRegionService(repo, nil, 0, 0)

	if _, err := svc.Diff(context.Background(), domain.RegionDiffRequest{Box: sfBox}); err == nil {
		t.Error("expected error")
	}
}

func TestRegionService_CacheAndInvalidate(t *testing.T) {
	calls := 0
	world := append([]domain.POI(nil), sfWorld...)
	inner := worldRepo(world)
	repo := &mockPOIRepo{findInBoundsFn: func(ctx context.Context, box domain.BoundingBox, cs []domain.Category, limit int) ([]domain.POI, error) {
		calls++
		return inner.findInBoundsFn(ctx, box, cs, limit)
	}}
	cache := newMemCache()
	svc := usecases.NewRegionService(repo, cache, 0, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Diff(ctx, domain.RegionDiffRequest{Box: sfBox}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 repository call, got %d", calls)
	}

	if err := svc.InvalidateCache(ctx, ports.IngestEvent{Category: domain.CategoryCafe, Count: 1}); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := svc.Diff(ctx, domain.RegionDiffRequest{Box: sfBox}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected a fresh repository call after invalidation, got %d calls", calls)
	}
}
