package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/ports"
	"github.com/bikebuddy/server/internal/pkg/metrics"
)

// DefaultMaxRecords caps how many records a single box query returns.
const DefaultMaxRecords = 2000

const cacheGenerationKey = "pois:gen"

var tracer = otel.Tracer("github.com/bikebuddy/server/internal/core/usecases")

// RegionService answers region-diff queries: which records entered and left
// the visible area when the map moved from one box to another.
type RegionService struct {
	pois       ports.POIRepository
	cache      ports.CacheService
	maxRecords int
	cacheTTL   int
}

// NewRegionService creates a new RegionService. cache may be nil.
func NewRegionService(pois ports.POIRepository, cache ports.CacheService, maxRecords int, cacheTTL time.Duration) *RegionService {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &RegionService{
		pois:       pois,
		cache:      cache,
		maxRecords: maxRecords,
		cacheTTL:   int(cacheTTL.Seconds()),
	}
}

// MaxRecords returns the per-box cap.
func (s *RegionService) MaxRecords() int { return s.maxRecords }

// Diff returns the records inside req.Box that were not inside req.Previous,
// and the records of req.Previous that are no longer visible. A nil Previous
// returns everything in the box as added.
func (s *RegionService) Diff(ctx context.Context, req domain.RegionDiffRequest) (*domain.RegionDiff, error) {
	ctx, span := tracer.Start(ctx, "RegionService.Diff")
	defer span.End()
	span.SetAttributes(
		attribute.String("region.box", req.Box.String()),
		attribute.Bool("region.initial", req.Previous == nil),
	)

	if err := req.Box.Validate(); err != nil {
		metrics.RegionDiffs.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if req.Previous != nil {
		if err := req.Previous.Validate(); err != nil {
			metrics.RegionDiffs.WithLabelValues("invalid").Inc()
			return nil, fmt.Errorf("previous box: %w", err)
		}
	}

	start := time.Now()
	var current, previous []domain.POI

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = s.queryBox(gctx, req.Box)
		return err
	})
	if req.Previous != nil {
		g.Go(func() error {
			var err error
			previous, err = s.queryBox(gctx, *req.Previous)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		metrics.RegionDiffs.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("region diff: %w", err)
	}
	metrics.RegionQueryDuration.Observe(time.Since(start).Seconds())

	diff := computeDiff(req.Box, current, previous)

	metrics.RegionDiffs.WithLabelValues("ok").Inc()
	metrics.RegionDiffRecords.WithLabelValues("added").Observe(float64(len(diff.Added)))
	metrics.RegionDiffRecords.WithLabelValues("removed").Observe(float64(len(diff.Removed)))
	span.SetAttributes(
		attribute.Int("region.added", len(diff.Added)),
		attribute.Int("region.removed", len(diff.Removed)),
	)
	if len(current) >= s.maxRecords {
		slog.WarnContext(ctx, "region query hit record cap", "box", req.Box.String(), "max_records", s.maxRecords)
	}

	return diff, nil
}

// computeDiff keeps removals to records outside box, so a capped current
// query never evicts records that are still visible.
func computeDiff(box domain.BoundingBox, current, previous []domain.POI) *domain.RegionDiff {
	prevKeys := make(map[string]struct{}, len(previous))
	for _, p := range previous {
		prevKeys[p.Key()] = struct{}{}
	}
	curKeys := make(map[string]struct{}, len(current))
	for _, p := range current {
		curKeys[p.Key()] = struct{}{}
	}

	diff := &domain.RegionDiff{Added: []domain.POI{}, Removed: []domain.POI{}}
	for _, p := range current {
		if _, ok := prevKeys[p.Key()]; !ok {
			diff.Added = append(diff.Added, p)
		}
	}
	for _, p := range previous {
		if _, ok := curKeys[p.Key()]; ok {
			continue
		}
		if box.Contains(p.Location) {
			continue
		}
		diff.Removed = append(diff.Removed, p)
	}
	return diff
}

func (s *RegionService) queryBox(ctx context.Context, box domain.BoundingBox) ([]domain.POI, error) {
	ctx, span := tracer.Start(ctx, "RegionService.queryBox",
		trace.WithAttributes(attribute.String("region.box", box.String())))
	defer span.End()

	cacheKey := ""
	if s.cache != nil {
		cacheKey = fmt.Sprintf("pois:bbox:%d:%s:%d", s.generation(ctx), box, s.maxRecords)
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var pois []domain.POI
			if err := json.Unmarshal(data, &pois); err == nil {
				metrics.CacheHits.WithLabelValues("region").Inc()
				span.SetAttributes(attribute.Bool("cache.hit", true))
				return pois, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("region").Inc()
	}

	pois, err := s.pois.FindInBounds(ctx, box, nil, s.maxRecords)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.cacheTTL > 0 {
		if data, err := json.Marshal(pois); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, s.cacheTTL)
		}
	}
	return pois, nil
}

func (s *RegionService) generation(ctx context.Context) int64 {
	data, err := s.cache.Get(ctx, cacheGenerationKey)
	if err != nil {
		return 0
	}
	gen, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0
	}
	return gen
}

// InvalidateCache moves every cached box query to a new generation. It is
// called when fresh records are ingested.
func (s *RegionService) InvalidateCache(ctx context.Context, event ports.IngestEvent) error {
	if s.cache == nil {
		return nil
	}
	gen, err := s.cache.Incr(ctx, cacheGenerationKey)
	if err != nil {
		return fmt.Errorf("bump cache generation: %w", err)
	}
	slog.DebugContext(ctx, "region cache invalidated",
		"category", event.Category, "count", event.Count, "generation", gen)
	return nil
}
