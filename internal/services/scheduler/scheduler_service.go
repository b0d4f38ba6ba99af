package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Waker is anything that can be asked to run an apply cycle
type Waker interface {
	Wake()
}

// Service wakes the queue controller once after boot and, optionally, on a cron schedule
// so persisted jobs resume without a new trigger.
type Service struct {
	waker   Waker
	cron    *cron.Cron
	logger  arbor.ILogger
	mu      sync.Mutex
	running bool
	boot    *time.Timer
	entryID cron.EntryID
}

// NewService creates a new scheduler service
func NewService(waker Waker, logger arbor.ILogger) *Service {
	return &Service{
		waker:  waker,
		cron:   cron.New(),
		logger: logger,
	}
}

// Start schedules the boot wake after wakeDelay and registers cronExpr when non-empty
func (s *Service) Start(wakeDelay time.Duration, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if cronExpr != "" {
		id, err := s.cron.AddFunc(cronExpr, func() { s.wake("schedule") })
		if err != nil {
			return fmt.Errorf("failed to add cron job: %w", err)
		}
		s.entryID = id
		s.cron.Start()
		s.logger.Info().Str("cron_expr", cronExpr).Msg("Periodic queue wake enabled")
	}

	s.boot = time.AfterFunc(wakeDelay, func() { s.wake("boot") })
	s.running = true

	s.logger.Debug().Dur("wake_delay", wakeDelay).Msg("Scheduler started")
	return nil
}

func (s *Service) wake(reason string) {
	s.logger.Debug().Str("reason", reason).Msg("Waking queue controller")
	s.waker.Wake()
}

// NextWake returns the next cron activation, or the zero time without a schedule
func (s *Service) NextWake() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Stop cancels the boot wake and the cron schedule, waiting for a running wake to finish
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if s.boot != nil {
		s.boot.Stop()
	}
	<-s.cron.Stop().Done()
	s.running = false

	s.logger.Debug().Msg("Scheduler stopped")
}
