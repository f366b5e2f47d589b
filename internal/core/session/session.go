package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/ports"
	"github.com/bikebuddy/server/internal/core/usecases"
)

// Update is delivered to subscribers after every recompute.
type Update struct {
	Records          []domain.POI      `json:"records"`
	ActiveCategories []domain.Category `json:"active_categories"`
	AdjacencyEnabled bool              `json:"adjacency_enabled"`
	Route            *domain.Route     `json:"route,omitempty"`
}

// Option configures a Session.
type Option func(*Session)

// WithTolerance overrides the route adjacency tolerance in meters.
func WithTolerance(meters float64) Option {
	return func(s *Session) {
		if meters > 0 {
			s.tolerance = meters
		}
	}
}

// WithLogger sets the logger used by the sync engine.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithCategories sets the categories active at start. Names are matched the
// way ParseCategory matches them; unknown names are ignored.
func WithCategories(cs ...domain.Category) Option {
	return func(s *Session) {
		for _, c := range cs {
			if parsed, err := domain.ParseCategory(string(c)); err == nil {
				s.categories[parsed] = true
			}
		}
	}
}

// Session is one user's map state: the synced records plus the category and
// route filter. The filtered set is recomputed on every mutation and
// subscribers are notified in mutation order.
//
// Subscribers must not mutate the session from inside the callback.
type Session struct {
	engine *Engine
	logger *slog.Logger

	// notifyMu serializes recompute+notify so updates arrive in order.
	notifyMu sync.Mutex

	mu         sync.Mutex
	categories map[domain.Category]bool
	adjacency  bool
	route      *domain.Route
	tolerance  float64
	filtered   []domain.POI
	subs       map[int]func(Update)
	nextSub    int
}

// New creates a Session syncing through querier. No category is active and
// adjacency is off until the user says otherwise.
func New(querier ports.RegionQuerier, opts ...Option) *Session {
	s := &Session{
		categories: make(map[domain.Category]bool),
		tolerance:  usecases.DefaultAdjacencyTolerance,
		subs:       make(map[int]func(Update)),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.engine = NewEngine(querier, NewStore(), s.logger)
	s.filtered = []domain.POI{}
	return s
}

// Engine exposes the underlying sync engine.
func (s *Session) Engine() *Engine { return s.engine }

// SyncRegion fetches what changed for box and refreshes the filtered set.
func (s *Session) SyncRegion(ctx context.Context, box domain.BoundingBox) error {
	changed, err := s.engine.sync(ctx, box)
	if err != nil {
		return err
	}
	if changed {
		s.refresh()
	}
	return nil
}

// ActiveCategories returns the active categories in display order.
func (s *Session) ActiveCategories() []domain.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

// ToggleCategory flips one category on or off.
func (s *Session) ToggleCategory(c domain.Category) error {
	c, err := domain.ParseCategory(string(c))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.categories[c] = !s.categories[c]
	s.mu.Unlock()
	s.refresh()
	return nil
}

// SetCategories replaces the active set.
func (s *Session) SetCategories(cs ...domain.Category) error {
	next := make(map[domain.Category]bool, len(cs))
	for _, c := range cs {
		parsed, err := domain.ParseCategory(string(c))
		if err != nil {
			return err
		}
		next[parsed] = true
	}
	s.mu.Lock()
	s.categories = next
	s.mu.Unlock()
	s.refresh()
	return nil
}

// AdjacencyEnabled reports whether only records near the route are shown.
func (s *Session) AdjacencyEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjacency
}

// ToggleAdjacency flips route adjacency filtering.
func (s *Session) ToggleAdjacency() {
	s.mu.Lock()
	s.adjacency = !s.adjacency
	s.mu.Unlock()
	s.refresh()
}

// LoadRoute replaces the loaded route.
func (s *Session) LoadRoute(route *domain.Route) error {
	if route == nil {
		return fmt.Errorf("route is nil")
	}
	s.mu.Lock()
	s.route = cloneRoute(route)
	s.mu.Unlock()
	s.refresh()
	return nil
}

// RemoveRoute clears the route and turns adjacency filtering off.
func (s *Session) RemoveRoute() {
	s.mu.Lock()
	s.route = nil
	s.adjacency = false
	s.mu.Unlock()
	s.refresh()
}

// Route returns a copy of the loaded route, or nil.
func (s *Session) Route() *domain.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRoute(s.route)
}

// Tolerance returns the adjacency tolerance in meters.
func (s *Session) Tolerance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tolerance
}

// FilteredRecords returns the current derived set.
func (s *Session) FilteredRecords() []domain.POI {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.POI, len(s.filtered))
	copy(out, s.filtered)
	return out
}

// Subscribe registers fn for change notifications. The returned func
// unregisters it.
func (s *Session) Subscribe(fn func(Update)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Snapshot returns the current state as an Update without recomputing.
func (s *Session) Snapshot() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked()
}

func (s *Session) refresh() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	records := s.engine.Store().Snapshot()

	s.mu.Lock()
	s.filtered = Filter(records, FilterState{
		Categories:       s.categories,
		AdjacencyEnabled: s.adjacency,
		Route:            s.route,
		Tolerance:        s.tolerance,
	})
	u := s.updateLocked()
	subs := make([]func(Update), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(u)
	}
}

func (s *Session) updateLocked() Update {
	records := make([]domain.POI, len(s.filtered))
	copy(records, s.filtered)
	return Update{
		Records:          records,
		ActiveCategories: s.activeLocked(),
		AdjacencyEnabled: s.adjacency,
		Route:            cloneRoute(s.route),
	}
}

func (s *Session) activeLocked() []domain.Category {
	out := make([]domain.Category, 0, len(s.categories))
	for _, c := range domain.Categories {
		if s.categories[c] {
			out = append(out, c)
		}
	}
	return out
}

func cloneRoute(route *domain.Route) *domain.Route {
	if route == nil {
		return nil
	}
	r := *route
	r.Points = append([]domain.GeoPoint(nil), route.Points...)
	return &r
}
