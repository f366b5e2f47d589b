package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/ports"
	"github.com/bikebuddy/server/internal/pkg/metrics"
)

// CaliforniaBBox is the default seeding region.
var CaliforniaBBox = domain.BoundingBox{South: 32.534156, West: -124.409591, North: 42.009518, East: -114.131211}

// DefaultSeedSlices is how many latitude bands the seeding region is split into.
const DefaultSeedSlices = 7

// IngestService pulls records from an upstream source into the repository.
type IngestService struct {
	source   ports.POISource
	pois     ports.POIRepository
	events   ports.EventPublisher
	attempts int
	backoff  time.Duration
}

// NewIngestService creates a new IngestService. events may be nil.
func NewIngestService(source ports.POISource, pois ports.POIRepository, events ports.EventPublisher, attempts int, backoff time.Duration) *IngestService {
	if attempts <= 0 {
		attempts = 3
	}
	return &IngestService{source: source, pois: pois, events: events, attempts: attempts, backoff: backoff}
}

// IngestSlice fetches one category inside box, stores it and announces the
// write. It returns the number of records stored.
func (s *IngestService) IngestSlice(ctx context.Context, category domain.Category, box domain.BoundingBox) (int, error) {
	if err := box.Validate(); err != nil {
		return 0, err
	}

	start := time.Now()
	pois, err := s.source.FetchPOIs(ctx, category, box)
	metrics.SourceFetchDuration.WithLabelValues(string(category)).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("fetch %s in %s: %w", category, box, err)
	}

	valid := pois[:0]
	for _, p := range pois {
		if err := p.Validate(); err != nil {
			slog.WarnContext(ctx, "skipping invalid record", "error", err)
			continue
		}
		valid = append(valid, p)
	}
	if len(valid) == 0 {
		return 0, nil
	}

	n, err := s.pois.UpsertBatch(ctx, valid)
	if err != nil {
		return 0, fmt.Errorf("store %s in %s: %w", category, box, err)
	}
	metrics.POIsIngested.WithLabelValues(string(category)).Add(float64(n))

	if s.events != nil {
		ev := ports.IngestEvent{Category: category, Box: box, Count: n}
		if err := s.events.PublishIngested(ctx, ev); err != nil {
			slog.WarnContext(ctx, "failed to publish ingest event", "category", category, "error", err)
		}
	}
	return n, nil
}

// SeedReport summarizes a seeding run.
type SeedReport struct {
	Slices  int                     `json:"slices"`
	Failed  int                     `json:"failed"`
	Written map[domain.Category]int `json:"written"`
	Errors  []string                `json:"errors,omitempty"`
}

// Total returns the number of records written across categories.
func (r *SeedReport) Total() int {
	total := 0
	for _, n := range r.Written {
		total += n
	}
	return total
}

// Seed ingests every category over region split into latitude slices. A slice
// that keeps failing is recorded and skipped; Seed only returns an error when
// ctx is cancelled.
func (s *IngestService) Seed(ctx context.Context, region domain.BoundingBox, categories []domain.Category, slices int) (*SeedReport, error) {
	if err := region.Validate(); err != nil {
		return nil, err
	}
	if len(categories) == 0 {
		categories = domain.Categories
	}
	if slices <= 0 {
		slices = DefaultSeedSlices
	}

	report := &SeedReport{Written: make(map[domain.Category]int)}
	bands := region.Slices(slices)

	for _, category := range categories {
		for i, band := range bands {
			report.Slices++
			n, err := s.ingestWithRetry(ctx, category, band)
			if err != nil {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				report.Failed++
				report.Errors = append(report.Errors, fmt.Sprintf("%s slice %d/%d: %v", category, i+1, len(bands), err))
				continue
			}
			report.Written[category] += n
			slog.InfoContext(ctx, "seeded slice", "category", category, "slice", i+1, "of", len(bands), "records", n)
		}
	}
	return report, nil
}

func (s *IngestService) ingestWithRetry(ctx context.Context, category domain.Category, box domain.BoundingBox) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		n, err := s.IngestSlice(ctx, category, box)
		if err == nil {
			return n, nil
		}
		lastErr = err
		metrics.IngestErrors.WithLabelValues(string(category)).Inc()
		slog.WarnContext(ctx, "ingest attempt failed",
			"category", category, "box", box.String(), "attempt", attempt, "max_attempts", s.attempts, "error", err)

		if attempt < s.attempts {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(s.backoff):
			}
		}
	}
	return 0, lastErr
}
