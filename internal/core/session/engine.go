package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/ports"
	"github.com/bikebuddy/server/internal/pkg/metrics"
)

var (
	// ErrMalformedResponse is returned when a diff carries invalid records or
	// records outside the requested box. Nothing from it is merged.
	ErrMalformedResponse = errors.New("malformed region diff")

	// ErrStaleResponse is returned when a newer sync was issued, or the
	// fetched region moved, while this one was in flight.
	ErrStaleResponse = errors.New("stale region diff")
)

// Engine keeps a Store in step with the visible map region by asking a
// RegionQuerier only for what changed since the last successful fetch.
type Engine struct {
	querier ports.RegionQuerier
	store   *Store
	logger  *slog.Logger

	mu          sync.Mutex
	seq         uint64
	lastFetched *domain.BoundingBox
}

// NewEngine creates an Engine writing into store.
func NewEngine(querier ports.RegionQuerier, store *Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{querier: querier, store: store, logger: logger}
}

// Store returns the store the engine writes into.
func (e *Engine) Store() *Store { return e.store }

// LastFetched returns the last box merged successfully, or nil before the
// first sync.
func (e *Engine) LastFetched() *domain.BoundingBox {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastFetched == nil {
		return nil
	}
	b := *e.lastFetched
	return &b
}

// SyncRegion brings the store up to date for box. On any error the store and
// the last fetched box are left untouched.
func (e *Engine) SyncRegion(ctx context.Context, box domain.BoundingBox) error {
	_, err := e.sync(ctx, box)
	return err
}

func (e *Engine) sync(ctx context.Context, box domain.BoundingBox) (bool, error) {
	if err := box.Validate(); err != nil {
		metrics.SessionSyncs.WithLabelValues("invalid").Inc()
		return false, err
	}

	e.mu.Lock()
	e.seq++
	seq := e.seq
	var prev *domain.BoundingBox
	if e.lastFetched != nil {
		b := *e.lastFetched
		prev = &b
	}
	e.mu.Unlock()

	diff, err := e.querier.Diff(ctx, domain.RegionDiffRequest{Box: box, Previous: prev})
	if err != nil {
		metrics.SessionSyncs.WithLabelValues("error").Inc()
		e.logger.Warn("region sync failed", "box", box.String(), "seq", seq, "error", err)
		return false, fmt.Errorf("sync region %s: %w", box, err)
	}

	if err := validateDiff(diff, box); err != nil {
		metrics.SessionSyncs.WithLabelValues("malformed").Inc()
		e.logger.Warn("region sync rejected", "box", box.String(), "seq", seq, "error", err)
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seq != seq || !sameBox(e.lastFetched, prev) {
		metrics.SessionSyncs.WithLabelValues("stale").Inc()
		e.logger.Debug("region sync superseded", "box", box.String(), "seq", seq, "latest", e.seq)
		return false, ErrStaleResponse
	}

	changed := e.store.Apply(diff)
	e.lastFetched = &box
	metrics.SessionSyncs.WithLabelValues("ok").Inc()
	return changed, nil
}

func validateDiff(diff *domain.RegionDiff, box domain.BoundingBox) error {
	if diff == nil {
		return fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}
	for _, p := range diff.Added {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if !box.Contains(p.Location) {
			return fmt.Errorf("%w: record %s outside %s", ErrMalformedResponse, p.Key(), box)
		}
	}
	for _, p := range diff.Removed {
		if p.Key() == "" {
			return fmt.Errorf("%w: removed record has no identity", ErrMalformedResponse)
		}
	}
	return nil
}

func sameBox(a, b *domain.BoundingBox) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
