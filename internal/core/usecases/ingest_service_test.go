package usecases_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/usecases"
)

func TestIngestService_IngestSlice(t *testing.T) {
	source := &mockSource{fetchFn: func(ctx context.Context, c domain.Category, box domain.BoundingBox) ([]domain.POI, error) {
		return []domain.POI{
			{SourceID: "node/1", Source: domain.SourceOSM, Category: c, Name: "Cafe", Location: domain.GeoPoint{Lat: 37.72, Lon: -122.45}},
			{SourceID: "node/2", Source: domain.SourceOSM, Category: c, Name: "Broken", Location: domain.GeoPoint{Lat: 137, Lon: -122.45}},
		}, nil
	}}
	var stored []domain.POI
	repo := &mockPOIRepo{upsertBatchFn: func(ctx context.Context, pois []domain.POI) (int, error) {
		stored = pois
		return len(pois), nil
	}}
	pub := &mockPublisher{}
	svc := usecases.NewIngestService(source, repo, pub, 3, 0)

	n, err := svc.IngestSlice(context.Background(), domain.CategoryCafe, sfBox)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 || len(stored) != 1 {
		t.Fatalf("expected 1 stored record, got n=%d stored=%d", n, len(stored))
	}
	if len(pub.events) != 1 || pub.events[0].Category != domain.CategoryCafe || pub.events[0].Count != 1 {
		t.Errorf("unexpected events %+v", pub.events)
	}
}

func TestIngestService_IngestSlice_PublishFailureIgnored(t *testing.T) {
	source := &mockSource{fetchFn: func(ctx context.Context, c domain.Category, box domain.BoundingBox) ([]domain.POI, error) {
		return []domain.POI{poi("1", c, 37.72, -122.45)}, nil
	}}
	pub := &mockPublisher{err: errors.New("nats down")}
	svc := usecases.NewIngestService(source, &mockPOIRepo{}, pub, 1, 0)

	if _, err := svc.IngestSlice(context.Background(), domain.CategoryCafe, sfBox); err != nil {
		t.Errorf("publish failure should not fail the slice: %v", err)
	}
}

func TestIngestService_Seed_RetriesAndContinues(t *testing.T) {
	var calls atomic.Int32
	source := &mockSource{fetchFn: func(ctx context.Context, c domain.Category, box domain.BoundingBox) ([]domain.POI, error) {
		calls.Add(1)
		// The southern toilet slice always fails.
		if c == domain.CategoryToilet && box.South == usecases.CaliforniaBBox.South {
			return nil, errors.New("overpass timeout")
		}
		mid := domain.GeoPoint{Lat: (box.South + box.North) / 2, Lon: (box.West + box.East) / 2}
		return []domain.POI{{SourceID: "node/" + box.String(), Source: domain.SourceOSM, Category: c, Location: mid}}, nil
	}}
	svc := usecases.NewIngestService(source, &mockPOIRepo{}, nil, 3, 0)

	report, err := svc.Seed(context.Background(), usecases.CaliforniaBBox,
		[]domain.Category{domain.CategoryToilet, domain.CategoryCafe}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Slices != 4 {
		t.Errorf("expected 4 slices, got %d", report.Slices)
	}
	if report.Failed != 1 || len(report.Errors) != 1 {
		t.Errorf("expected 1 failed slice, got %d (%v)", report.Failed, report.Errors)
	}
	if report.Written[domain.CategoryToilet] != 1 || report.Written[domain.CategoryCafe] != 2 {
		t.Errorf("unexpected written counts %v", report.Written)
	}
	if report.Total() != 3 {
		t.Errorf("expected total 3, got %d", report.Total())
	}
	// 3 attempts on the failing slice plus one each for the other three.
	if got := calls.Load(); got != 6 {
		t.Errorf("expected 6 fetches, got %d", got)
	}
}

func TestIngestService_Seed_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &mockSource{fetchFn: func(ctx context.Context, c domain.Category, box domain.BoundingBox) ([]domain.POI, error) {
		cancel()
		return nil, ctx.Err()
	}}
	svc := usecases.NewIngestService(source, &mockPOIRepo{}, nil, 3, 0)

	if _, err := svc.Seed(ctx, usecases.CaliforniaBBox, nil, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
