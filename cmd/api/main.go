package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/bikebuddy/server/internal/adapters/http"
	natsadapter "github.com/bikebuddy/server/internal/adapters/nats"
	"github.com/bikebuddy/server/internal/adapters/postgres"
	"github.com/bikebuddy/server/internal/adapters/valkey"
	"github.com/bikebuddy/server/internal/core/ports"
	"github.com/bikebuddy/server/internal/core/usecases"
	"github.com/bikebuddy/server/internal/pkg/config"
	"github.com/bikebuddy/server/internal/pkg/logging"
	"github.com/bikebuddy/server/internal/pkg/metrics"
	"github.com/bikebuddy/server/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("bikebuddy-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	go reportPoolStats(ctx, db)

	// Cache
	var cacheSvc ports.CacheService
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable, serving uncached", "error", err)
	} else {
		defer cache.Close()
		cacheSvc = cache
	}

	// Use cases
	poiRepo := postgres.NewPOIRepo(db)
	poiSvc := usecases.NewPOIService(poiRepo, cacheSvc, cfg.Sync.MaxRecords)
	regionSvc := usecases.NewRegionService(poiRepo, cacheSvc, cfg.Sync.MaxRecords, cfg.Cache.BBoxTTL)
	routeSvc := usecases.NewRouteService(poiRepo, cfg.Sync.MaxRecords)

	deps := &http.Dependencies{
		POIs:    poiSvc,
		Regions: regionSvc,
		Routes:  routeSvc,
		DB:      db,
		Cache:   cache,
		Session: http.SessionConfig{
			Debounce:  cfg.Sync.Debounce,
			Tolerance: cfg.Sync.Tolerance,
		},
	}

	// NATS: ingest events invalidate cached box queries.
	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, cache relies on TTL", "error", err)
	} else {
		defer sub.Close()
		deps.NATS = sub
		if err := sub.SubscribeIngested(ctx, regionSvc.InvalidateCache); err != nil {
			slog.Warn("subscribe to ingest events failed", "error", err)
		}
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		AppName:      "BikeBuddy API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173, http://localhost:8081",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}

func reportPoolStats(ctx context.Context, db *postgres.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stat := db.Stat(); stat != nil {
				metrics.UpdateDBPoolMetrics(stat)
			}
		}
	}
}
