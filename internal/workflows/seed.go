package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/usecases"
)

// SeedInput is the input for the seed workflow.
type SeedInput struct {
	Region     domain.BoundingBox
	Categories []domain.Category
	Slices     int
	Attempts   int
	Backoff    time.Duration
}

// SeedWorkflow ingests every category over the region split into latitude
// bands, one activity per category and band. A band that exhausts its
// retries is recorded in the report and the run moves on.
func SeedWorkflow(ctx workflow.Context, input SeedInput) (*usecases.SeedReport, error) {
	logger := workflow.GetLogger(ctx)

	if err := input.Region.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidBoundingBox", err)
	}
	categories := input.Categories
	if len(categories) == 0 {
		categories = domain.Categories
	}
	slices := input.Slices
	if slices <= 0 {
		slices = usecases.DefaultSeedSlices
	}
	attempts := input.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := input.Backoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    backoff,
			BackoffCoefficient: 1.0,
			MaximumAttempts:    int32(attempts),
		},
	})

	logger.Info("Starting seed workflow", "categories", len(categories), "slices", slices)

	report := &usecases.SeedReport{Written: make(map[domain.Category]int)}
	bands := input.Region.Slices(slices)
	for _, category := range categories {
		for i, band := range bands {
			report.Slices++
			var n int
			err := workflow.ExecuteActivity(ctx, "IngestSlice", category, band).Get(ctx, &n)
			if err != nil {
				report.Failed++
				report.Errors = append(report.Errors, fmt.Sprintf("%s slice %d/%d: %v", category, i+1, len(bands), err))
				logger.Warn("slice failed", "category", string(category), "slice", i+1, "error", err)
				continue
			}
			report.Written[category] += n
		}
	}

	logger.Info("Seed workflow finished", "total", report.Total(), "failed", report.Failed)
	return report, nil
}

// Register adds the seed workflow and its activities to w.
func Register(w worker.Worker, acts *IngestActivities) {
	w.RegisterWorkflow(SeedWorkflow)
	w.RegisterActivity(acts)
}

// StartSeed starts a seed workflow on taskQueue and returns its run handle.
func StartSeed(ctx context.Context, c client.Client, taskQueue string, input SeedInput) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("seed-%d", time.Now().Unix()),
		TaskQueue: taskQueue,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, SeedWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("start seed workflow: %w", err)
	}
	return run, nil
}
