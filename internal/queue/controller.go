// -----------------------------------------------------------------------
// Last Modified: Monday, 19th October 2026 11:02:17 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pagesponge/internal/common"
	"github.com/ternarybob/pagesponge/internal/interfaces"
	"github.com/ternarybob/pagesponge/internal/models"
)

// Controller is the single writer of the persisted queue.
// Every mutation arrives as an Intent via Push and is applied inside an apply
// cycle: read the store, drain the buffer, write once, admit runners.
// At most one cycle is in flight at any time.
type Controller struct {
	store     interfaces.QueueStorage
	extractor interfaces.JobRunner
	uploader  interfaces.JobRunner
	activity  interfaces.ActivityIndicator
	events    interfaces.EventService
	config    Config
	logger    arbor.ILogger

	now   func() time.Time
	newID func() string

	mu     sync.Mutex
	buffer []models.Intent
	busy   bool
	active map[string]struct{} // running, or finished with the result not yet committed
	closed bool

	retry         *time.Timer
	retryFailures int

	// activity reports are numbered under mu and delivered in order under reportMu
	reportMu    sync.Mutex
	activitySeq uint64
	reportedSeq uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates the queue controller. Construct exactly one per store.
func NewController(
	store interfaces.QueueStorage,
	extractor interfaces.JobRunner,
	uploader interfaces.JobRunner,
	activity interfaces.ActivityIndicator,
	config Config,
	logger arbor.ILogger,
) *Controller {
	if config.MaxConcurrency < 1 {
		config.MaxConcurrency = 1
	}
	defaults := NewDefaultConfig()
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.MaxRetryDelay < config.RetryDelay {
		config.MaxRetryDelay = max(defaults.MaxRetryDelay, config.RetryDelay)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		store:     store,
		extractor: extractor,
		uploader:  uploader,
		activity:  activity,
		config:    config,
		logger:    logger,
		now:       time.Now,
		newID:     common.NewJobID,
		active:    make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// WithEventService makes the controller publish EventJobFinished for every runner result
func (c *Controller) WithEventService(eventService interfaces.EventService) *Controller {
	c.events = eventService
	return c
}

// Push buffers intent and schedules an apply cycle. It never blocks on the store.
func (c *Controller) Push(intent models.Intent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug().Str("intent", string(intent.Kind)).Str("job_id", intent.JobID).Msg("Controller closed, intent dropped")
		return
	}
	c.buffer = append(c.buffer, intent)
	c.mu.Unlock()

	c.schedule()
}

// Wake schedules an apply cycle without a new intent, re-running admission
func (c *Controller) Wake() {
	c.schedule()
}

func (c *Controller) schedule() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	common.SafeGo(c.logger, "queue:apply", func() {
		defer c.wg.Done()
		c.Apply(c.ctx)
	})
}

// Apply runs one apply cycle. It returns immediately if a cycle is already running;
// intents buffered meanwhile are picked up by the cycle rescheduled at the end.
func (c *Controller) Apply(ctx context.Context) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return
	}
	c.busy = true
	c.mu.Unlock()

	err := c.cycle(ctx)

	c.mu.Lock()
	c.busy = false
	pending := false
	if err != nil {
		c.scheduleRetryLocked()
	} else {
		c.retryFailures = 0
		pending = len(c.buffer) > 0
	}
	busy := len(c.active) > 0
	c.activitySeq++
	seq := c.activitySeq
	c.mu.Unlock()

	c.reportActivity(seq, busy)

	if pending {
		c.schedule()
	}
}

// scheduleRetryLocked arms a backoff timer that re-runs the cycle after a store error.
// Intents pushed while the failed cycle ran are picked up by the retry too.
func (c *Controller) scheduleRetryLocked() {
	if c.closed || c.retry != nil {
		return
	}

	delay := c.config.RetryDelay << min(c.retryFailures, 16)
	if delay <= 0 || delay > c.config.MaxRetryDelay {
		delay = c.config.MaxRetryDelay
	}
	c.retryFailures++

	c.logger.Warn().Dur("delay", delay).Int("failures", c.retryFailures).Msg("Apply cycle retry scheduled")

	c.retry = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.retry = nil
		c.mu.Unlock()
		c.schedule()
	})
}

// reportActivity forwards busy/idle to the indicator, skipping reports overtaken by a newer one
func (c *Controller) reportActivity(seq uint64, busy bool) {
	if c.activity == nil {
		return
	}

	c.reportMu.Lock()
	defer c.reportMu.Unlock()

	if seq <= c.reportedSeq {
		return
	}
	c.reportedSeq = seq
	c.activity.SetBusy(busy)
}

func (c *Controller) cycle(ctx context.Context) error {
	jobs, err := c.store.GetQueue(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Apply cycle aborted: failed to read queue")
		return err
	}
	jobs = c.sanitize(jobs)

	intents := c.drain()
	for _, intent := range intents {
		jobs = c.applyIntent(jobs, intent)
	}

	if err := c.store.SetQueue(ctx, jobs); err != nil {
		c.requeue(intents)
		c.logger.Error().Err(err).Int("intents", len(intents)).Msg("Apply cycle aborted: failed to write queue, intents re-buffered")
		return err
	}

	if len(intents) > 0 {
		c.logger.Debug().Int("intents", len(intents)).Int("jobs", len(jobs)).Msg("Apply cycle committed")
	}

	c.settle(intents)
	c.admit(jobs)
	return nil
}

// settle releases the jobs whose outcome was just committed, making them admissible again
func (c *Controller) settle(intents []models.Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, intent := range intents {
		if intent.IsOutcome() {
			delete(c.active, intent.JobID)
		}
	}
}

// drain takes the whole buffer in arrival order
func (c *Controller) drain() []models.Intent {
	c.mu.Lock()
	defer c.mu.Unlock()
	intents := c.buffer
	c.buffer = nil
	return intents
}

// requeue puts intents back ahead of anything pushed since they were drained
func (c *Controller) requeue(intents []models.Intent) {
	if len(intents) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer = append(append(make([]models.Intent, 0, len(intents)+len(c.buffer)), intents...), c.buffer...)
}

// sanitize drops records without an id
func (c *Controller) sanitize(jobs []models.JobRecord) []models.JobRecord {
	clean := make([]models.JobRecord, 0, len(jobs))
	for _, job := range jobs {
		if job.ID == "" {
			continue
		}
		clean = append(clean, job)
	}
	if dropped := len(jobs) - len(clean); dropped > 0 {
		c.logger.Warn().Int("dropped", dropped).Msg("Dropped queue records without id")
	}
	return clean
}

// admit starts runners in queue order until the concurrency limit is reached
func (c *Controller) admit(jobs []models.JobRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	for _, job := range jobs {
		if len(c.active) >= c.config.MaxConcurrency {
			break
		}
		if job.IsComplete() || job.Exhausted(c.config.MaxRetries) {
			continue
		}
		if _, running := c.active[job.ID]; running {
			continue
		}

		c.active[job.ID] = struct{}{}
		c.wg.Add(1)

		if job.HasText() {
			c.launch(job.Clone(), c.uploader, "upload", func(id string, _ interface{}) models.Intent {
				return models.UploadFailure(id)
			})
		} else {
			c.launch(job.Clone(), c.extractor, "extraction", func(id string, r interface{}) models.Intent {
				return models.ExtractFailure(id, fmt.Sprintf("runner panic: %v", r))
			})
		}
	}
}

// launch runs one job; the caller holds c.mu and has already registered the job as active
func (c *Controller) launch(job models.JobRecord, runner interfaces.JobRunner, stage string, onPanic func(string, interface{}) models.Intent) {
	c.logger.Debug().Str("job_id", job.ID).Str("url", job.URL).Str("stage", stage).Int("fails", job.Fails).Msg("Job admitted")

	common.SafeGo(c.logger, "queue:"+stage+":"+job.ID, func() {
		defer c.wg.Done()

		// The job stays in c.active until the cycle that commits result settles it
		result := c.run(job, runner, onPanic)

		logEvent := c.logger.Debug()
		if result.IsFailure() {
			logEvent = c.logger.Warn()
		}
		logEvent.Str("job_id", job.ID).Str("stage", stage).Str("result", string(result.Kind)).Str("reason", result.Reason).Msg("Job runner finished")

		if c.events != nil {
			if err := c.events.Publish(c.ctx, interfaces.Event{Type: interfaces.EventJobFinished, Payload: result}); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to publish job finished event")
			}
		}

		c.Push(result)
	})
}

func (c *Controller) run(job models.JobRecord, runner interfaces.JobRunner, onPanic func(string, interface{}) models.Intent) (result models.Intent) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Str("job_id", job.ID).Str("panic", fmt.Sprintf("%v", r)).Msg("Job runner panicked")
			result = onPanic(job.ID, r)
		}
	}()
	return runner.Run(c.ctx, job)
}

// Snapshot returns a read-only copy of the stored queue
func (c *Controller) Snapshot(ctx context.Context) ([]models.JobRecord, error) {
	jobs, err := c.store.GetQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	return c.sanitize(jobs), nil
}

// ActiveCount returns the number of jobs whose runner is running or whose result is not yet committed
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Close stops accepting intents, cancels running jobs and waits for them to return.
// Results produced during shutdown are dropped; the jobs resume on the next start.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	c.logger.Info().Msg("Queue controller stopped")
}
