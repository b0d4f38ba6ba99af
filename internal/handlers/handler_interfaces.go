package handlers

import (
	"context"

	"github.com/ternarybob/pagesponge/internal/models"
)

// QueueController is the part of the queue controller the HTTP layer needs.
type QueueController interface {
	Push(intent models.Intent)
	Snapshot(ctx context.Context) ([]models.JobRecord, error)
	ActiveCount() int
}
