// -----------------------------------------------------------------------
// Last Modified: Monday, 19th October 2026 9:12:40 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"

	"github.com/ternarybob/pagesponge/internal/models"
)

// QueueStorage persists the ordered job list as a single value.
// There is no partial update: SetQueue replaces the whole list and
// broadcasts EventQueueChanged with a copy of the new value.
type QueueStorage interface {
	// GetQueue returns the stored list; an empty store yields an empty list
	GetQueue(ctx context.Context) ([]models.JobRecord, error)

	// SetQueue replaces the stored list
	SetQueue(ctx context.Context, jobs []models.JobRecord) error

	// Close releases the underlying database
	Close() error
}
