package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pagesponge/internal/common"
	"github.com/ternarybob/pagesponge/internal/interfaces"
)

// Manager owns the Badger connection and the stores built on it
type Manager struct {
	db     *BadgerDB
	queue  *QueueStorage
	logger arbor.ILogger
}

// NewManager opens the database and builds the queue store
func NewManager(logger arbor.ILogger, config *common.BadgerConfig, eventService interfaces.EventService) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		queue:  NewQueueStorage(db, eventService, logger),
		logger: logger,
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// QueueStorage returns the queue store
func (m *Manager) QueueStorage() interfaces.QueueStorage {
	return m.queue
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
