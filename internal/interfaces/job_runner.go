package interfaces

import (
	"context"

	"github.com/ternarybob/pagesponge/internal/models"
)

// JobRunner advances one job by one step and reports the outcome as an intent.
// Run never returns an error: every failure is encoded as a failure intent so the
// controller remains the single point of truth.
type JobRunner interface {
	Run(ctx context.Context, job models.JobRecord) models.Intent
}

// ActivityIndicator observes whether any job runner is active.
type ActivityIndicator interface {
	SetBusy(busy bool)
}
