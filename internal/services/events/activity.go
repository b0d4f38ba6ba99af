package events

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pagesponge/internal/interfaces"
)

// ActivityIndicator publishes busy/idle transitions of the job runners.
// Repeated calls with the same state are collapsed.
type ActivityIndicator struct {
	eventService interfaces.EventService
	logger       arbor.ILogger
	mu           sync.Mutex
	busy         bool
}

// NewActivityIndicator creates an indicator that starts idle
func NewActivityIndicator(eventService interfaces.EventService, logger arbor.ILogger) *ActivityIndicator {
	return &ActivityIndicator{
		eventService: eventService,
		logger:       logger,
	}
}

// SetBusy records the current activity state. Transitions are published
// synchronously while holding the lock, so subscribers see them in call order.
func (a *ActivityIndicator) SetBusy(busy bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.busy == busy {
		return
	}
	a.busy = busy

	a.logger.Info().Bool("busy", busy).Msg("Queue activity changed")

	if a.eventService == nil {
		return
	}
	if err := a.eventService.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventActivityChanged,
		Payload: busy,
	}); err != nil {
		a.logger.Warn().Err(err).Bool("busy", busy).Msg("Failed to publish activity change")
	}
}

// Busy returns the last recorded state
func (a *ActivityIndicator) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.busy
}
