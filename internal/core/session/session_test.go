package session_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/session"
)

// ---- Fakes ----

type mockQuerier struct {
	diffFn func(ctx context.Context, req domain.RegionDiffRequest) (*domain.RegionDiff, error)

	mu    sync.Mutex
	calls []domain.RegionDiffRequest
}

func (m *mockQuerier) Diff(ctx context.Context, req domain.RegionDiffRequest) (*domain.RegionDiff, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.diffFn != nil {
		return m.diffFn(ctx, req)
	}
	return &domain.RegionDiff{}, nil
}

func (m *mockQuerier) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// worldQuerier answers diffs over a fixed set of records the way the region
// service does.
type worldQuerier struct {
	world []domain.POI
}

func (w *worldQuerier) Diff(_ context.Context, req domain.RegionDiffRequest) (*domain.RegionDiff, error) {
	in := func(b *domain.BoundingBox) map[string]domain.POI {
		out := map[string]domain.POI{}
		if b == nil {
			return out
		}
		for _, p := range w.world {
			if b.Contains(p.Location) {
				out[p.Key()] = p
			}
		}
		return out
	}
	cur, prev := in(&req.Box), in(req.Previous)
	diff := &domain.RegionDiff{}
	for _, p := range w.world {
		_, inCur := cur[p.Key()]
		_, inPrev := prev[p.Key()]
		if inCur && !inPrev {
			diff.Added = append(diff.Added, p)
		}
		if inPrev && !inCur {
			diff.Removed = append(diff.Removed, p)
		}
	}
	return diff, nil
}

// ---- Fixtures ----

var (
	boxA = domain.BoundingBox{South: 37.70, West: -122.50, North: 37.80, East: -122.40}
	boxB = domain.BoundingBox{South: 37.72, West: -122.48, North: 37.82, East: -122.38}

	cafe1   = poi("c1", domain.CategoryCafe, 37.75, -122.45)
	toilet1 = poi("t1", domain.CategoryToilet, 37.71, -122.49)
	water1  = poi("w1", domain.CategoryDrinkingWater, 37.76, -122.42)
	cafe2   = poi("c2", domain.CategoryCafe, 37.81, -122.39)
)

func poi(id string, c domain.Category, lat, lon float64) domain.POI {
	return domain.POI{ID: id, Category: c, Source: domain.SourceOSM, SourceID: "node/" + id, Name: id,
		Location: domain.GeoPoint{Lat: lat, Lon: lon}}
}

func ids(pois []domain.POI) []string {
	out := make([]string, len(pois))
	for i, p := range pois {
		out[i] = p.ID
	}
	return out
}

func expectIDs(t *testing.T, got []domain.POI, want ...string) {
	t.Helper()
	if g := ids(got); !slices.Equal(g, want) {
		t.Errorf("expected records %v, got %v", want, g)
	}
}

func mustSync(t *testing.T, s *session.Session, box domain.BoundingBox) {
	t.Helper()
	if err := s.SyncRegion(context.Background(), box); err != nil {
		t.Fatalf("sync %v: %v", box, err)
	}
}

var allCategories = session.WithCategories(domain.Categories...)

// ---- Engine behaviour ----

func TestSession_InitialSync(t *testing.T) {
	q := &mockQuerier{diffFn: func(_ context.Context, req domain.RegionDiffRequest) (*domain.RegionDiff, error) {
		if req.Previous != nil {
			t.Errorf("expected no previous box on first sync, got %v", *req.Previous)
		}
		return &domain.RegionDiff{Added: []domain.POI{cafe1, toilet1, water1}}, nil
	}}
	s := session.New(q, allCategories)

	mustSync(t, s, boxA)

	expectIDs(t, s.Engine().Store().Snapshot(), "c1", "t1", "w1")
	last := s.Engine().LastFetched()
	if last == nil || *last != boxA {
		t.Errorf("expected last fetched %v, got %v", boxA, last)
	}
}

func TestSession_OverlappingSync(t *testing.T) {
	responses := []*domain.RegionDiff{
		{Added: []domain.POI{cafe1, toilet1, water1}},
		{Added: []domain.POI{cafe2}, Removed: []domain.POI{toilet1}},
	}
	var call int
	q := &mockQuerier{diffFn: func(_ context.Context, req domain.RegionDiffRequest) (*domain.RegionDiff, error) {
		r := responses[call]
		call++
		return r, nil
	}}
	s := session.New(q, allCategories)

	mustSync(t, s, boxA)
	mustSync(t, s, boxB)

	expectIDs(t, s.Engine().Store().Snapshot(), "c1", "w1", "c2")
	if len(q.calls) != 2 {
		t.Fatalf("expected 2 querier calls, got %d", len(q.calls))
	}
	if prev := q.calls[1].Previous; prev == nil || *prev != boxA {
		t.Errorf("expected second request to carry previous box %v, got %v", boxA, prev)
	}
	if last := s.Engine().LastFetched(); *last != boxB {
		t.Errorf("expected last fetched %v, got %v", boxB, *last)
	}
}

func TestSession_InvalidBoxSkipsQuerier(t *testing.T) {
	q := &mockQuerier{}
	s := session.New(q)

	err := s.SyncRegion(context.Background(), domain.BoundingBox{South: 37.8, West: -122.5, North: 37.7, East: -122.4})
	if !errors.Is(err, domain.ErrInvalidBoundingBox) {
		t.Fatalf("expected ErrInvalidBoundingBox, got %v", err)
	}
	if n := q.callCount(); n != 0 {
		t.Errorf("expected querier not to be called, got %d calls", n)
	}
	if last := s.Engine().LastFetched(); last != nil {
		t.Errorf("expected no last fetched box, got %v", *last)
	}
}

func TestSession_FailureLeavesStateIntact(t *testing.T) {
	fail := false
	q := &mockQuerier{diffFn: func(_ context.Context, _ domain.RegionDiffRequest) (*domain.RegionDiff, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		return &domain.RegionDiff{Added: []domain.POI{cafe1}}, nil
	}}
	s := session.New(q, allCategories)
	mustSync(t, s, boxA)

	fail = true
	err := s.SyncRegion(context.Background(), boxB)
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected transport error, got %v", err)
	}

	expectIDs(t, s.Engine().Store().Snapshot(), "c1")
	if last := s.Engine().LastFetched(); *last != boxA {
		t.Errorf("expected last fetched to stay %v, got %v", boxA, *last)
	}
	expectIDs(t, s.FilteredRecords(), "c1")
}

func TestSession_MalformedResponseRejected(t *testing.T) {
	tests := []struct {
		name string
		diff *domain.RegionDiff
	}{
		{"nil diff", nil},
		{"added outside box", &domain.RegionDiff{Added: []domain.POI{cafe1, poi("x", domain.CategoryCafe, 40.0, -122.45)}}},
		{"added without identity", &domain.RegionDiff{Added: []domain.POI{{Category: domain.CategoryCafe, Location: cafe1.Location}}}},
		{"added with bad coordinates", &domain.RegionDiff{Added: []domain.POI{poi("x", domain.CategoryCafe, 95, -122.45)}}},
		{"removed without identity", &domain.RegionDiff{Added: []domain.POI{cafe1}, Removed: []domain.POI{{}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQuerier{diffFn: func(_ context.Context, _ domain.RegionDiffRequest) (*domain.RegionDiff, error) {
				return tt.diff, nil
			}}
			s := session.New(q, allCategories)

			err := s.SyncRegion(context.Background(), boxA)
			if !errors.Is(err, session.ErrMalformedResponse) {
				t.Fatalf("expected ErrMalformedResponse, got %v", err)
			}
			if n := s.Engine().Store().Len(); n != 0 {
				t.Errorf("expected empty store, got %d records", n)
			}
			if last := s.Engine().LastFetched(); last != nil {
				t.Errorf("expected no last fetched box, got %v", *last)
			}
		})
	}
}

func TestSession_StaleResponseDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	q := &mockQuerier{diffFn: func(_ context.Context, req domain.RegionDiffRequest) (*domain.RegionDiff, error) {
		if req.Box.Equal(boxA) {
			close(started)
			<-release
			return &domain.RegionDiff{Added: []domain.POI{toilet1}}, nil
		}
		return &domain.RegionDiff{Added: []domain.POI{cafe2}}, nil
	}}
	s := session.New(q, allCategories)

	errc := make(chan error, 1)
	go func() { errc <- s.SyncRegion(context.Background(), boxA) }()
	<-started

	mustSync(t, s, boxB)
	close(release)

	select {
	case err := <-errc:
		if !errors.Is(err, session.ErrStaleResponse) {
			t.Errorf("expected ErrStaleResponse, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first sync did not return")
	}

	expectIDs(t, s.Engine().Store().Snapshot(), "c2")
	if last := s.Engine().LastFetched(); *last != boxB {
		t.Errorf("expected last fetched %v, got %v", boxB, *last)
	}
}

func TestSession_DuplicateIdentitiesCollapsed(t *testing.T) {
	renamed := cafe1
	renamed.Name = "Renamed Cafe"
	q := &mockQuerier{diffFn: func(_ context.Context, _ domain.RegionDiffRequest) (*domain.RegionDiff, error) {
		return &domain.RegionDiff{Added: []domain.POI{cafe1, toilet1, renamed}}, nil
	}}
	s := session.New(q, allCategories)

	mustSync(t, s, boxA)
	mustSync(t, s, boxA)

	store := s.Engine().Store()
	if n := store.Len(); n != 2 {
		t.Errorf("expected 2 records, got %d", n)
	}
	got, ok := store.Get("c1")
	if !ok {
		t.Fatal("expected c1 in store")
	}
	if got.Name != "Renamed Cafe" {
		t.Errorf("expected last write to win, got name %q", got.Name)
	}
}

func TestSession_ContainedBoxKeepsRecords(t *testing.T) {
	world := []domain.POI{cafe1, toilet1, water1, cafe2, poi("far", domain.CategoryCafe, 38.5, -121.0)}
	inner := domain.BoundingBox{South: 37.74, West: -122.46, North: 37.77, East: -122.41}
	outer := boxA

	s := session.New(&worldQuerier{world: world}, allCategories)

	mustSync(t, s, inner)
	before := s.Engine().Store().Snapshot()
	if len(before) == 0 {
		t.Fatal("expected records inside the inner box")
	}

	mustSync(t, s, outer)
	for _, p := range before {
		if _, ok := s.Engine().Store().Get(p.Key()); !ok {
			t.Errorf("record %s dropped when zooming out", p.ID)
		}
	}
	after := s.Engine().Store().Snapshot()
	for _, p := range after {
		if !outer.Contains(p.Location) {
			t.Errorf("record %s lies outside %v", p.ID, outer)
		}
	}
	got := ids(after)
	slices.Sort(got)
	if want := []string{"c1", "t1", "w1"}; !slices.Equal(got, want) {
		t.Errorf("expected records %v, got %v", want, got)
	}
}

func TestSession_ResyncIsIdempotent(t *testing.T) {
	world := []domain.POI{cafe1, toilet1, water1, cafe2}
	s := session.New(&worldQuerier{world: world}, allCategories)

	mustSync(t, s, boxA)
	first := ids(s.Engine().Store().Snapshot())
	mustSync(t, s, boxA)
	expectIDs(t, s.Engine().Store().Snapshot(), first...)
}

// ---- Store behaviour ----

func TestStore_ApplyReportsOnlyRealChanges(t *testing.T) {
	store := session.NewStore()

	if !store.Apply(&domain.RegionDiff{Added: []domain.POI{cafe1, toilet1}}) {
		t.Fatal("expected first apply to report a change")
	}
	if store.Apply(&domain.RegionDiff{Added: []domain.POI{cafe1}}) {
		t.Error("expected re-adding an identical record to report no change")
	}
	if store.Apply(&domain.RegionDiff{Removed: []domain.POI{cafe2}}) {
		t.Error("expected removing an unknown record to report no change")
	}

	renamed := cafe1
	renamed.Name = "Renamed Cafe"
	if !store.Apply(&domain.RegionDiff{Added: []domain.POI{renamed}}) {
		t.Error("expected replacing a record with a different one to report a change")
	}

	retagged := renamed
	retagged.Tags = map[string]string{"opening_hours": "24/7"}
	if !store.Apply(&domain.RegionDiff{Added: []domain.POI{retagged}}) {
		t.Error("expected a tag change to report a change")
	}
	if store.Apply(&domain.RegionDiff{Added: []domain.POI{retagged}}) {
		t.Error("expected identical tags to report no change")
	}
	expectIDs(t, store.Snapshot(), "c1", "t1")
}

// ---- Filter behaviour ----

func syncedSession(t *testing.T, opts ...session.Option) *session.Session {
	t.Helper()
	q := &mockQuerier{diffFn: func(_ context.Context, _ domain.RegionDiffRequest) (*domain.RegionDiff, error) {
		return &domain.RegionDiff{Added: []domain.POI{cafe1, toilet1, water1}}, nil
	}}
	s := session.New(q, opts...)
	mustSync(t, s, boxA)
	return s
}

func TestSession_NoCategoriesByDefault(t *testing.T) {
	s := syncedSession(t)
	if got := s.ActiveCategories(); len(got) != 0 {
		t.Errorf("expected no active categories, got %v", got)
	}
	expectIDs(t, s.FilteredRecords())
	if s.AdjacencyEnabled() {
		t.Error("expected adjacency filter off")
	}
	if got := s.Tolerance(); got != 200.0 {
		t.Errorf("expected default tolerance 200, got %v", got)
	}
}

func TestSession_CategoryFilter(t *testing.T) {
	s := syncedSession(t, allCategories)
	if err := s.SetCategories(domain.CategoryCafe); err != nil {
		t.Fatalf("set categories: %v", err)
	}

	expectIDs(t, s.FilteredRecords(), "c1")
	if n := s.Engine().Store().Len(); n != 3 {
		t.Errorf("filtering must not touch the store, got %d records", n)
	}

	if err := s.ToggleCategory(domain.CategoryToilet); err != nil {
		t.Fatalf("toggle toilet: %v", err)
	}
	want := []domain.Category{domain.CategoryToilet, domain.CategoryCafe}
	if got := s.ActiveCategories(); !slices.Equal(got, want) {
		t.Errorf("expected active categories %v, got %v", want, got)
	}
	expectIDs(t, s.FilteredRecords(), "c1", "t1")

	if err := s.ToggleCategory(domain.CategoryCafe); err != nil {
		t.Fatalf("toggle cafe: %v", err)
	}
	expectIDs(t, s.FilteredRecords(), "t1")

	if err := s.ToggleCategory("bar"); err == nil {
		t.Error("expected error toggling unknown category")
	}
	if err := s.SetCategories(domain.CategoryCafe, "bar"); err == nil {
		t.Error("expected error setting unknown category")
	}
	expectIDs(t, s.FilteredRecords(), "t1")
}

func TestSession_CategoryNamesAreNormalised(t *testing.T) {
	s := syncedSession(t)

	if err := s.ToggleCategory("Cafe"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	expectIDs(t, s.FilteredRecords(), "c1")
	if got := s.ActiveCategories(); !slices.Equal(got, []domain.Category{domain.CategoryCafe}) {
		t.Errorf("expected active categories [cafe], got %v", got)
	}

	if err := s.ToggleCategory(" CAFE "); err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	expectIDs(t, s.FilteredRecords())

	if err := s.SetCategories(" CAFE ", "Drinking_Water"); err != nil {
		t.Fatalf("set categories: %v", err)
	}
	expectIDs(t, s.FilteredRecords(), "c1", "w1")

	opt := syncedSession(t, session.WithCategories("Toilet", "nonsense"))
	expectIDs(t, opt.FilteredRecords(), "t1")
	if got := opt.ActiveCategories(); !slices.Equal(got, []domain.Category{domain.CategoryToilet}) {
		t.Errorf("expected active categories [toilet], got %v", got)
	}
}

func TestSession_AdjacencyFilter(t *testing.T) {
	near := poi("near", domain.CategoryCafe, 37.72, -122.4505)
	far := poi("far", domain.CategoryCafe, 37.72, -122.46)
	q := &mockQuerier{diffFn: func(_ context.Context, _ domain.RegionDiffRequest) (*domain.RegionDiff, error) {
		return &domain.RegionDiff{Added: []domain.POI{near, far}}, nil
	}}
	s := session.New(q, allCategories)
	mustSync(t, s, boxA)

	s.ToggleAdjacency()
	if got := s.FilteredRecords(); len(got) != 0 {
		t.Errorf("adjacency without a route shows nothing, got %v", ids(got))
	}

	err := s.LoadRoute(&domain.Route{Name: "Test", Points: []domain.GeoPoint{
		{Lat: 37.70, Lon: -122.45}, {Lat: 37.75, Lon: -122.45},
	}})
	if err != nil {
		t.Fatalf("load route: %v", err)
	}
	expectIDs(t, s.FilteredRecords(), "near")

	s.ToggleAdjacency()
	expectIDs(t, s.FilteredRecords(), "near", "far")

	s.ToggleAdjacency()
	s.RemoveRoute()
	if s.AdjacencyEnabled() {
		t.Error("expected removing the route to clear the adjacency filter")
	}
	if r := s.Route(); r != nil {
		t.Errorf("expected no route, got %+v", r)
	}
	expectIDs(t, s.FilteredRecords(), "near", "far")
}

func TestSession_RouteIsCopied(t *testing.T) {
	near := poi("near", domain.CategoryCafe, 37.72, -122.4505)
	q := &mockQuerier{diffFn: func(_ context.Context, _ domain.RegionDiffRequest) (*domain.RegionDiff, error) {
		return &domain.RegionDiff{Added: []domain.POI{near}}, nil
	}}
	s := session.New(q, allCategories)
	mustSync(t, s, boxA)

	input := &domain.Route{Name: "Test", Points: []domain.GeoPoint{
		{Lat: 37.70, Lon: -122.45}, {Lat: 37.75, Lon: -122.45},
	}}
	if err := s.LoadRoute(input); err != nil {
		t.Fatalf("load route: %v", err)
	}
	s.ToggleAdjacency()
	expectIDs(t, s.FilteredRecords(), "near")

	far := domain.GeoPoint{Lat: 10, Lon: 10}
	input.Points[0], input.Points[1] = far, far

	got := s.Route()
	got.Name = "changed"
	got.Points[0], got.Points[1] = far, far

	snap := s.Snapshot()
	if snap.Route == nil {
		t.Fatal("expected route in snapshot")
	}
	snap.Route.Points[0], snap.Route.Points[1] = far, far

	if r := s.Route(); r.Name != "Test" || r.Points[0] != (domain.GeoPoint{Lat: 37.70, Lon: -122.45}) {
		t.Errorf("route mutated through a returned pointer: %+v", r)
	}
	expectIDs(t, s.FilteredRecords(), "near")
}

func TestSession_WithTolerance(t *testing.T) {
	near := poi("near", domain.CategoryCafe, 37.72, -122.4505)
	q := &mockQuerier{diffFn: func(_ context.Context, _ domain.RegionDiffRequest) (*domain.RegionDiff, error) {
		return &domain.RegionDiff{Added: []domain.POI{near}}, nil
	}}
	s := session.New(q, allCategories, session.WithTolerance(10))
	mustSync(t, s, boxA)
	err := s.LoadRoute(&domain.Route{Points: []domain.GeoPoint{
		{Lat: 37.70, Lon: -122.45}, {Lat: 37.75, Lon: -122.45},
	}})
	if err != nil {
		t.Fatalf("load route: %v", err)
	}
	s.ToggleAdjacency()
	expectIDs(t, s.FilteredRecords())
}

func TestSession_LoadRouteRejectsNil(t *testing.T) {
	s := session.New(&mockQuerier{})
	if err := s.LoadRoute(nil); err == nil {
		t.Error("expected error loading nil route")
	}
}

func TestSession_SubscribeNotifies(t *testing.T) {
	s := session.New(&mockQuerier{diffFn: func(_ context.Context, _ domain.RegionDiffRequest) (*domain.RegionDiff, error) {
		return &domain.RegionDiff{Added: []domain.POI{cafe1, toilet1}}, nil
	}})

	var updates []session.Update
	unsubscribe := s.Subscribe(func(u session.Update) { updates = append(updates, u) })

	mustSync(t, s, boxA)
	if err := s.ToggleCategory(domain.CategoryCafe); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	expectIDs(t, updates[0].Records)
	expectIDs(t, updates[1].Records, "c1")
	if got := updates[1].ActiveCategories; !slices.Equal(got, []domain.Category{domain.CategoryCafe}) {
		t.Errorf("expected active categories [cafe], got %v", got)
	}

	unsubscribe()
	s.ToggleAdjacency()
	if len(updates) != 2 {
		t.Errorf("expected no updates after unsubscribe, got %d", len(updates))
	}
}

func TestFilter_Pure(t *testing.T) {
	records := []domain.POI{cafe1, toilet1, water1}
	st := session.FilterState{Categories: map[domain.Category]bool{domain.CategoryDrinkingWater: true}}

	expectIDs(t, session.Filter(records, st), "w1")
	if len(records) != 3 {
		t.Errorf("filter must not modify its input, got %d records", len(records))
	}
}
