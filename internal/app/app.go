// -----------------------------------------------------------------------
// Last Modified: Monday, 19th October 2026 5:26:03 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pagesponge/internal/common"
	"github.com/ternarybob/pagesponge/internal/handlers"
	"github.com/ternarybob/pagesponge/internal/httpclient"
	"github.com/ternarybob/pagesponge/internal/interfaces"
	"github.com/ternarybob/pagesponge/internal/queue"
	"github.com/ternarybob/pagesponge/internal/services/events"
	"github.com/ternarybob/pagesponge/internal/services/extraction"
	"github.com/ternarybob/pagesponge/internal/services/scheduler"
	"github.com/ternarybob/pagesponge/internal/services/upload"
	"github.com/ternarybob/pagesponge/internal/storage/badger"
)

// Default durations used when a config value is empty or unparseable
const (
	defaultWakeDelay      = 5 * time.Second
	defaultSettleDelay    = 5 * time.Second
	defaultExtractTimeout = 60 * time.Second
	defaultUploadTimeout  = 30 * time.Second
	browserStartupTimeout = 30 * time.Second
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Event-driven services
	EventService     interfaces.EventService
	Activity         *events.ActivityIndicator
	SchedulerService *scheduler.Service

	// Storage
	StorageManager *badger.Manager

	// Runners
	Browser         extraction.Browser
	ExtractRunner   *extraction.Runner
	UploadRunner    *upload.Runner
	QueueController *queue.Controller

	// HTTP handlers
	QueueHandler  *handlers.QueueHandler
	StatusHandler *handlers.StatusHandler
	WSHandler     *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// EventService must exist before storage: the queue store publishes through it
	app.EventService = events.NewService(app.Logger)
	if err := events.SubscribeLoggerToAllEvents(app.EventService, app.Logger); err != nil {
		app.Logger.Warn().Err(err).Msg("Failed to subscribe event logger")
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	app.initHandlers()

	// Boot wake: re-admit whatever the previous run left in the queue
	wakeDelay := common.ParseDurationOr(cfg.Queue.WakeDelay, defaultWakeDelay)
	if err := app.SchedulerService.Start(wakeDelay, cfg.Queue.WakeSchedule); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info().
		Str("extraction_mode", cfg.Extraction.Mode).
		Int("max_concurrency", cfg.Queue.MaxConcurrency).
		Int("max_retries", cfg.Queue.MaxRetries).
		Str("upload_endpoint", cfg.Upload.Endpoint).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger, a.EventService)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices builds the browser, both runners, the controller and the scheduler
func (a *App) initServices() error {
	browser, err := a.newBrowser()
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	a.Browser = browser

	a.ExtractRunner = extraction.NewRunner(a.Browser, extraction.Config{
		SettleDelay:    common.ParseDurationOr(a.Config.Extraction.SettleDelay, defaultSettleDelay),
		Timeout:        common.ParseDurationOr(a.Config.Extraction.Timeout, defaultExtractTimeout),
		IgnoreElements: a.Config.Extraction.IgnoreElements,
	}, a.Logger)

	uploadTimeout := common.ParseDurationOr(a.Config.Upload.Timeout, defaultUploadTimeout)
	a.UploadRunner = upload.NewRunner(
		httpclient.NewDefaultHTTPClient(uploadTimeout),
		upload.Config{
			Endpoint:  a.Config.Upload.Endpoint,
			Timeout:   uploadTimeout,
			RateLimit: common.ParseDurationOr(a.Config.Upload.RateLimit, 0),
		},
		upload.Metadata{
			IsDev:   !a.Config.IsProduction(),
			Version: common.GetVersion(),
		},
		a.Logger,
	)

	a.Activity = events.NewActivityIndicator(a.EventService, a.Logger)

	queueConfig := queue.NewDefaultConfig()
	queueConfig.MaxRetries = a.Config.Queue.MaxRetries
	queueConfig.MaxConcurrency = a.Config.Queue.MaxConcurrency

	a.QueueController = queue.NewController(
		a.StorageManager.QueueStorage(),
		a.ExtractRunner,
		a.UploadRunner,
		a.Activity,
		queueConfig,
		a.Logger,
	).WithEventService(a.EventService)

	a.SchedulerService = scheduler.NewService(a.QueueController, a.Logger)

	return nil
}

func (a *App) newBrowser() (extraction.Browser, error) {
	switch a.Config.Extraction.Mode {
	case "static":
		timeout := common.ParseDurationOr(a.Config.Extraction.Timeout, defaultExtractTimeout)
		return extraction.NewStaticBrowser(httpclient.NewPageClient(timeout), a.Config.Extraction.UserAgent, a.Logger), nil
	default:
		return extraction.NewChromeBrowser(extraction.ChromeConfig{
			Headless:       a.Config.Extraction.Headless,
			NoSandbox:      a.Config.Extraction.NoSandbox,
			UserAgent:      a.Config.Extraction.UserAgent,
			ChromePath:     a.Config.Extraction.ChromePath,
			StartupTimeout: browserStartupTimeout,
		}, a.Logger)
	}
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.QueueHandler = handlers.NewQueueHandler(a.QueueController, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.QueueController, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.QueueController, a.Logger)
}

// Close closes all application resources
func (a *App) Close() error {
	// Stop scheduler service
	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
		a.Logger.Info().Msg("Scheduler stopped")
	}

	// Stop the controller: cancels runners and waits for in-flight cycles
	if a.QueueController != nil {
		a.QueueController.Close()
		a.Logger.Info().Msg("Queue controller stopped")
	}

	// Close browser
	if a.Browser != nil {
		if err := a.Browser.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close browser")
		}
	}

	// Close storage
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
	}

	// Close event service
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
