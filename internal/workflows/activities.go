package workflows

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/usecases"
)

// IngestActivities holds the activity implementations for the seed workflow.
type IngestActivities struct {
	Ingest *usecases.IngestService
}

// IngestSlice fetches and stores one category inside one latitude band.
func (a *IngestActivities) IngestSlice(ctx context.Context, category domain.Category, box domain.BoundingBox) (int, error) {
	n, err := a.Ingest.IngestSlice(ctx, category, box)
	if err != nil {
		// A malformed band fails the same way on every attempt.
		if errors.Is(err, domain.ErrInvalidBoundingBox) {
			return 0, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidBoundingBox", err)
		}
		return 0, err
	}
	activity.GetLogger(ctx).Info("ingested slice", "category", string(category), "box", box.String(), "records", n)
	return n, nil
}
