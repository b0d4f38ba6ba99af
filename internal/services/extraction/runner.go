// -----------------------------------------------------------------------
// Last Modified: Monday, 19th October 2026 2:41:09 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package extraction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pagesponge/internal/common"
	"github.com/ternarybob/pagesponge/internal/models"
)

// Failure reasons recorded on the job
const (
	ReasonPageClosed  = "page closed"
	ReasonPageTimeout = "page timeout"
	ReasonPageEmpty   = "page empty"
)

// Config holds the extraction protocol settings
type Config struct {
	SettleDelay    time.Duration // Delay inside the page before text is collected
	Timeout        time.Duration // Per-job deadline, started at tab creation
	IgnoreElements []string      // Element names whose subtree text is skipped
}

// NewDefaultConfig returns the standard extraction settings
func NewDefaultConfig() Config {
	return Config{
		SettleDelay:    5 * time.Second,
		Timeout:        60 * time.Second,
		IgnoreElements: []string{"NOSCRIPT", "SCRIPT", "STYLE"},
	}
}

// Runner extracts the visible text of a job's page in a background tab
type Runner struct {
	browser Browser
	config  Config
	logger  arbor.ILogger
}

// NewRunner creates an extraction runner on top of browser
func NewRunner(browser Browser, config Config, logger arbor.ILogger) *Runner {
	return &Runner{
		browser: browser,
		config:  config,
		logger:  logger,
	}
}

// Run opens a tab for job.URL and resolves with the first of: page text,
// HTTP error, tab closed, or timeout. The tab is always closed before Run returns.
func (r *Runner) Run(ctx context.Context, job models.JobRecord) models.Intent {
	tab, err := r.browser.OpenTab(ctx, job.URL)
	if err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Str("url", job.URL).Msg("Failed to open tab")
		return models.ExtractFailure(job.ID, fmt.Sprintf("tab failure: '%v'", err))
	}

	ext := newExtraction(job, tab, r.logger)
	ext.startTimer(r.config.Timeout)

	r.logger.Debug().Str("job_id", job.ID).Str("tab_id", tab.ID()).Str("url", job.URL).Msg("Extraction started")

	common.SafeGo(r.logger, "extraction:events:"+job.ID, func() {
		ext.pump(ctx, r.pageTextRequest(job))
	})

	select {
	case <-ext.done:
	case <-ctx.Done():
		ext.complete(models.ExtractFailure(job.ID, fmt.Sprintf("extraction cancelled: %v", ctx.Err())))
	}

	return ext.result
}

func (r *Runner) pageTextRequest(job models.JobRecord) PageTextRequest {
	return PageTextRequest{
		JobID:          job.ID,
		URL:            job.URL,
		SettleDelay:    r.config.SettleDelay,
		IgnoreElements: r.config.IgnoreElements,
	}
}

// extraction is the state of one in-flight job. complete resolves it exactly
// once, no matter how many event sources race to finish it.
type extraction struct {
	job    models.JobRecord
	tab    Tab
	logger arbor.ILogger

	once   sync.Once
	timer  *time.Timer
	mu     sync.Mutex
	done   chan struct{}
	result models.Intent
}

func newExtraction(job models.JobRecord, tab Tab, logger arbor.ILogger) *extraction {
	return &extraction{
		job:    job,
		tab:    tab,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (e *extraction) startTimer(timeout time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timer = time.AfterFunc(timeout, func() {
		e.complete(models.ExtractFailure(e.job.ID, ReasonPageTimeout))
	})
}

// complete records intent as the outcome, stops the deadline and closes the tab.
// Only the first call has any effect.
func (e *extraction) complete(intent models.Intent) bool {
	first := false
	e.once.Do(func() {
		first = true

		e.mu.Lock()
		if e.timer != nil {
			e.timer.Stop()
		}
		e.mu.Unlock()

		if err := e.tab.Close(); err != nil {
			e.logger.Debug().Err(err).Str("job_id", e.job.ID).Msg("Tab close failed")
		}

		e.result = intent
		close(e.done)
	})
	return first
}

func (e *extraction) finished() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// pump feeds tab events into handle until the extraction is resolved
func (e *extraction) pump(ctx context.Context, req PageTextRequest) {
	events := e.tab.Events()
	for {
		select {
		case <-e.done:
			return
		case ev, ok := <-events:
			if !ok {
				e.complete(models.ExtractFailure(e.job.ID, ReasonPageClosed))
				return
			}
			e.handle(ctx, ev, req)
		}
	}
}

func (e *extraction) handle(ctx context.Context, ev TabEvent, req PageTextRequest) {
	if e.finished() {
		return
	}

	switch ev.Kind {
	case EventLoadComplete:
		common.SafeGo(e.logger, "extraction:inject:"+e.job.ID, func() {
			if err := e.tab.Inject(ctx, req); err != nil && !e.finished() {
				// The deadline still resolves the job if the routine never posts
				e.logger.Debug().Err(err).Str("job_id", e.job.ID).Msg("Text collection injection failed")
			}
		})

	case EventPageText:
		if ev.JobID != "" && ev.JobID != e.job.ID {
			return
		}
		if ev.Text == "" {
			e.complete(models.ExtractFailure(e.job.ID, ReasonPageEmpty))
			return
		}
		e.complete(models.ExtractSuccess(e.job.ID, ev.Text))

	case EventHTTPError:
		if ev.URL != "" && ev.URL != e.job.URL {
			return
		}
		e.complete(models.ExtractFailure(e.job.ID, fmt.Sprintf("page error: '%s'", ev.Status)))

	case EventClosed:
		e.complete(models.ExtractFailure(e.job.ID, ReasonPageClosed))
	}
}
