package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pagesponge/internal/interfaces"
	"github.com/ternarybob/pagesponge/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// queueKey is the single badgerhold key holding the whole job list
const queueKey = "queue"

// queueDocument is the persisted form of the job list
type queueDocument struct {
	Key       string `badgerhold:"key"`
	Jobs      []models.JobRecord
	UpdatedAt time.Time
}

// QueueStorage implements interfaces.QueueStorage on Badger
type QueueStorage struct {
	db           *BadgerDB
	eventService interfaces.EventService
	logger       arbor.ILogger
	mu           sync.Mutex
}

// NewQueueStorage creates a queue store. eventService may be nil, in which case
// no change notifications are emitted.
func NewQueueStorage(db *BadgerDB, eventService interfaces.EventService, logger arbor.ILogger) *QueueStorage {
	return &QueueStorage{
		db:           db,
		eventService: eventService,
		logger:       logger,
	}
}

// GetQueue returns a copy of the stored list, or an empty list if nothing has been written yet
func (s *QueueStorage) GetQueue(ctx context.Context) ([]models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc queueDocument
	err := s.db.Store().Get(queueKey, &doc)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return []models.JobRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	if doc.Jobs == nil {
		return []models.JobRecord{}, nil
	}
	return models.CloneJobs(doc.Jobs), nil
}

// SetQueue replaces the stored list and notifies EventQueueChanged subscribers.
// Subscribers run synchronously so notifications arrive in write order.
func (s *QueueStorage) SetQueue(ctx context.Context, jobs []models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := queueDocument{
		Key:       queueKey,
		Jobs:      models.CloneJobs(jobs),
		UpdatedAt: time.Now(),
	}

	if err := s.db.Store().Upsert(queueKey, &doc); err != nil {
		return fmt.Errorf("failed to write queue: %w", err)
	}

	s.logger.Debug().Int("jobs", len(jobs)).Msg("Queue written")

	if s.eventService != nil {
		event := interfaces.Event{
			Type:    interfaces.EventQueueChanged,
			Payload: models.CloneJobs(jobs),
		}
		if err := s.eventService.PublishSync(ctx, event); err != nil {
			s.logger.Warn().Err(err).Msg("Queue change notification failed")
		}
	}

	return nil
}

// Close closes the underlying database
func (s *QueueStorage) Close() error {
	return s.db.Close()
}
