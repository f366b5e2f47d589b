package http

import (
	"context"
	"time"

	"github.com/bikebuddy/server/internal/adapters/postgres"
	"github.com/bikebuddy/server/internal/adapters/valkey"
	"github.com/bikebuddy/server/internal/core/usecases"
)

// Pinger is a dependency the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionConfig tunes the per-connection WebSocket sessions.
type SessionConfig struct {
	Debounce  time.Duration
	Tolerance float64
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	POIs    *usecases.POIService
	Regions *usecases.RegionService
	Routes  *usecases.RouteService
	NATS    Pinger
	DB      *postgres.DB
	Cache   *valkey.Cache
	Session SessionConfig
}
