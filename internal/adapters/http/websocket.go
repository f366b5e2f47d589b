package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/session"
	"github.com/bikebuddy/server/internal/core/usecases"
	"github.com/bikebuddy/server/internal/pkg/metrics"
)

// wsMessage is sent by the client to drive its session.
//
//	{"action":"viewport","box":{"south":..,"west":..,"north":..,"east":..}}
//	{"action":"toggle_category","category":"cafe"}
//	{"action":"set_categories","categories":["toilet","cafe"]}
//	{"action":"toggle_adjacency"}
//	{"action":"load_route","gpx":"<gpx ...>"} or {"action":"load_route","polyline":"..."}
//	{"action":"remove_route"}
type wsMessage struct {
	Action     string              `json:"action"`
	Box        *domain.BoundingBox `json:"box,omitempty"`
	Category   string              `json:"category,omitempty"`
	Categories []string            `json:"categories,omitempty"`
	GPX        string              `json:"gpx,omitempty"`
	Polyline   string              `json:"polyline,omitempty"`
	Name       string              `json:"name,omitempty"`
}

// wsUpdate is pushed after every recompute of the filtered set.
type wsUpdate struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	session.Update
}

type wsError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// wsClient is one connection's session plus the glue that feeds it.
type wsClient struct {
	id       string
	session  *session.Session
	routes   *usecases.RouteService
	viewport *debouncer
	send     func(v interface{}) error
	logger   *slog.Logger
}

func newWSClient(ctx context.Context, deps *Dependencies, send func(v interface{}) error) *wsClient {
	id := uuid.NewString()
	logger := slog.Default().With("session_id", id)

	opts := []session.Option{session.WithLogger(logger)}
	if deps.Session.Tolerance > 0 {
		opts = append(opts, session.WithTolerance(deps.Session.Tolerance))
	}

	cl := &wsClient{
		id:      id,
		session: session.New(deps.Regions, opts...),
		routes:  deps.Routes,
		send:    send,
		logger:  logger,
	}
	cl.viewport = newDebouncer(deps.Session.Debounce, func(box domain.BoundingBox) error {
		// Failures are logged by the engine; the client keeps its last view.
		return cl.session.SyncRegion(ctx, box)
	})
	cl.session.Subscribe(func(u session.Update) {
		if err := cl.send(wsUpdate{Type: "pois", SessionID: cl.id, Update: u}); err != nil {
			cl.logger.Debug("ws push failed", "error", err)
		}
	})
	return cl
}

// handle applies one client message. Validation problems are reported back
// to the client; they never close the connection.
func (cl *wsClient) handle(raw []byte) {
	var m wsMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		cl.fail("invalid JSON")
		return
	}

	var err error
	switch m.Action {
	case "viewport":
		if m.Box == nil {
			err = errors.New("viewport requires a box")
			break
		}
		if err = m.Box.Validate(); err == nil {
			cl.viewport.Push(*m.Box)
		}
	case "toggle_category":
		var c domain.Category
		if c, err = domain.ParseCategory(m.Category); err == nil {
			err = cl.session.ToggleCategory(c)
		}
	case "set_categories":
		var cs []domain.Category
		if cs, err = domain.ParseCategories(strings.Join(m.Categories, ",")); err == nil {
			err = cl.session.SetCategories(cs...)
		}
	case "toggle_adjacency":
		cl.session.ToggleAdjacency()
	case "load_route":
		err = cl.loadRoute(m)
	case "remove_route":
		cl.session.RemoveRoute()
	default:
		err = errors.New("unknown action: " + m.Action)
	}
	if err != nil {
		cl.fail(err.Error())
	}
}

func (cl *wsClient) loadRoute(m wsMessage) error {
	var (
		route *domain.Route
		err   error
	)
	switch {
	case m.Polyline != "":
		route, err = cl.routes.DecodePolyline(m.Polyline, m.Name)
	case m.GPX != "":
		route, err = cl.routes.ParseGPX(strings.NewReader(m.GPX))
	default:
		return errors.New("load_route requires gpx or polyline")
	}
	if err != nil {
		return err
	}
	return cl.session.LoadRoute(route)
}

func (cl *wsClient) fail(msg string) {
	_ = cl.send(wsError{Type: "error", Message: msg})
}

func (cl *wsClient) close() {
	cl.viewport.Stop()
}

// debouncer delivers only the last box pushed within delay, and skips a box
// equal to the last one delivered successfully.
type debouncer struct {
	delay time.Duration
	fn    func(domain.BoundingBox) error

	mu      sync.Mutex
	timer   *time.Timer
	pending domain.BoundingBox
	last    *domain.BoundingBox
	stopped bool
}

func newDebouncer(delay time.Duration, fn func(domain.BoundingBox) error) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) Push(box domain.BoundingBox) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = box
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *debouncer) fire() {
	d.mu.Lock()
	box := d.pending
	if d.stopped || (d.last != nil && d.last.Equal(box)) {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	if err := d.fn(box); err != nil {
		return
	}

	d.mu.Lock()
	d.last = &box
	d.mu.Unlock()
}

func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}

// WebSocketHandler returns a handler that gives every connection its own
// session: the client reports viewport changes and filter toggles, and the
// server pushes the filtered record set after each change.
func WebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var mu sync.Mutex
		writeJSON := func(v interface{}) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}

		cl := newWSClient(ctx, deps, writeJSON)
		defer cl.close()

		metrics.ActiveSessions.Inc()
		defer metrics.ActiveSessions.Dec()

		cl.logger.Info("ws session opened", "remote", c.RemoteAddr().String())
		_ = writeJSON(wsUpdate{Type: "pois", SessionID: cl.id, Update: cl.session.Snapshot()})

		// Keep-alive ping
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					err := c.WriteMessage(websocket.PingMessage, nil)
					mu.Unlock()
					if err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}
			cl.handle(msg)
		}

		close(done)
		cl.logger.Info("ws session closed")
	}
}
