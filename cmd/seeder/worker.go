package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"github.com/bikebuddy/server/internal/core/usecases"
	"github.com/bikebuddy/server/internal/workflows"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a Temporal worker for the seed workflow",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		svc, cleanup, err := newIngestService(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		// Overpass is rate limited per source, so one slice at a time.
		w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{MaxConcurrentActivityExecutionSize: 1})
		workflows.Register(w, &workflows.IngestActivities{Ingest: svc})

		slog.Info("seed worker started", "task_queue", cfg.Temporal.TaskQueue)
		if err := w.Run(worker.InterruptCh()); err != nil {
			return fmt.Errorf("worker: %w", err)
		}
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a seed workflow on the Temporal cluster",
	RunE: func(cmd *cobra.Command, _ []string) error {
		region, categories, slices, err := seedArgs(cmd)
		if err != nil {
			return err
		}
		wait, _ := cmd.Flags().GetBool("wait")

		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		run, err := workflows.StartSeed(cmd.Context(), c, cfg.Temporal.TaskQueue, workflows.SeedInput{
			Region:     region,
			Categories: categories,
			Slices:     slices,
			Attempts:   cfg.Seed.Attempts,
			Backoff:    cfg.Seed.Backoff,
		})
		if err != nil {
			return err
		}
		slog.Info("seed workflow started", "workflow_id", run.GetID(), "run_id", run.GetRunID())

		if !wait {
			return nil
		}
		var report usecases.SeedReport
		if err := run.Get(cmd.Context(), &report); err != nil {
			return fmt.Errorf("seed workflow: %w", err)
		}
		logReport(&report)
		return nil
	},
}

func init() {
	startCmd.Flags().Bool("wait", false, "block until the workflow finishes and print its report")
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(startCmd)
}

func dialTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tlog.NewStructuredLogger(slog.Default()),
	})
	if err != nil {
		return nil, fmt.Errorf("temporal client: %w", err)
	}
	return c, nil
}
