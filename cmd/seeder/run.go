package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	natsadapter "github.com/bikebuddy/server/internal/adapters/nats"
	"github.com/bikebuddy/server/internal/adapters/overpass"
	"github.com/bikebuddy/server/internal/adapters/postgres"
	"github.com/bikebuddy/server/internal/core/ports"
	"github.com/bikebuddy/server/internal/core/usecases"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Seed directly from this process",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		region, categories, slices, err := seedArgs(cmd)
		if err != nil {
			return err
		}

		svc, cleanup, err := newIngestService(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		slog.Info("seeding", "region", region.String(), "slices", slices)
		report, err := svc.Seed(ctx, region, categories, slices)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		logReport(report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// newIngestService wires the Overpass source, the POI store and the event
// publisher. The returned cleanup closes all of them.
func newIngestService(ctx context.Context) (*usecases.IngestService, func(), error) {
	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}

	var events ports.EventPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, ingest events disabled", "error", err)
	} else {
		events = pub
	}

	source := overpass.NewSource(cfg.Overpass.Endpoint, cfg.Overpass.Timeout, cfg.Overpass.Interval)
	svc := usecases.NewIngestService(source, postgres.NewPOIRepo(db), events, cfg.Seed.Attempts, cfg.Seed.Backoff)

	cleanup := func() {
		if pub != nil {
			pub.Close()
		}
		db.Close()
	}
	return svc, cleanup, nil
}

func logReport(r *usecases.SeedReport) {
	for category, n := range r.Written {
		slog.Info("seeded category", "category", category, "records", n)
	}
	for _, e := range r.Errors {
		slog.Warn("slice failed", "error", e)
	}
	slog.Info("seeding complete", "slices", r.Slices, "failed", r.Failed, "total", r.Total())
}
