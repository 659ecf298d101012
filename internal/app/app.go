// -----------------------------------------------------------------------
// App Container - wires storage, browser, queue, and API components
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/handlers"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/queue"
	"github.com/ternarybob/metior/internal/queue/workers"
	"github.com/ternarybob/metior/internal/services/browser"
	"github.com/ternarybob/metior/internal/services/events"
	"github.com/ternarybob/metior/internal/services/forms"
	"github.com/ternarybob/metior/internal/services/pdf"
	"github.com/ternarybob/metior/internal/services/resilience"
	"github.com/ternarybob/metior/internal/services/resources"
	"github.com/ternarybob/metior/internal/services/scheduler"
	"github.com/ternarybob/metior/internal/services/scraper"
	"github.com/ternarybob/metior/internal/services/vault"
	"github.com/ternarybob/metior/internal/services/workfossa"
	badgerstore "github.com/ternarybob/metior/internal/storage/badger"
)

// App owns every long-lived component and tears them down in reverse
// construction order on Close.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Storage   interfaces.StorageManager
	Vault     interfaces.CredentialVault
	Resources interfaces.ResourceManager
	Bus       interfaces.ProgressBus
	Pool      interfaces.BrowserPool
	Sessions  interfaces.SessionManager
	Driver    interfaces.SiteDriver
	Scraper   interfaces.ScraperService
	Forms     interfaces.FormService
	Recovery  interfaces.RecoveryService
	Queue     interfaces.QueueManager
	Scheduler interfaces.SchedulerService
	Reports   interfaces.ReportService

	CredentialHandler *handlers.CredentialHandler
	WorkOrderHandler  *handlers.WorkOrderHandler
	AutomationHandler *handlers.AutomationHandler
	SettingsHandler   *handlers.SettingsHandler
	WSHandler         *handlers.WebSocketHandler
	HealthHandler     *handlers.HealthHandler

	logStreamer *handlers.LogStreamer
}

// New wires the full component graph. Nothing starts running here; Start
// launches the pool, queue, and scheduler.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	// Storage first; everything else persists through it
	storage, err := badgerstore.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a.Storage = storage

	credVault, err := vault.NewService(cfg, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open credential vault: %w", err)
	}
	a.Vault = credVault

	a.Resources = resources.NewManager(cfg, logger)
	a.Bus = events.NewBus(logger)
	a.Recovery = resilience.NewService(logger)

	// Browser stack: one pool, per-user sessions, the site driver on top
	a.Pool = browser.NewPool(&cfg.Browser, logger)
	a.Driver = workfossa.NewDriver(&cfg.WorkFossa, &cfg.Browser, a.Pool, a.Recovery, cfg.DevMode, logger)
	a.Sessions = browser.NewManager(a.Pool, a.Driver, storage.SettingsStorage(), logger)

	a.Scraper = scraper.NewService(a.Driver, storage.WorkOrderStorage(), a.Recovery, logger)

	formsService, err := forms.NewService(a.Driver, a.Sessions, a.Vault, storage.WorkOrderStorage(), a.Bus, &cfg.Forms, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build form service: %w", err)
	}
	a.Forms = formsService

	a.Reports = pdf.NewService(logger)

	// Queue manager plus its four workers. The list worker's follow-up
	// submitter points back at the queue, wired after construction to
	// avoid a cycle.
	queueManager := queue.NewManager(&cfg.Queue, storage.JobStorage(), a.Resources, a.Bus, logger)
	a.Queue = queueManager

	listWorker := workers.NewScrapeListWorker(a.Vault, a.Sessions, a.Driver, a.Scraper, storage.WorkOrderStorage(), storage.HistoryStorage(), a.Bus, logger)
	listWorker.SetEnqueue(queueManager.Submit)
	queueManager.RegisterWorker(listWorker)
	queueManager.RegisterWorker(workers.NewScrapeDispensersWorker(a.Vault, a.Sessions, a.Scraper, storage.WorkOrderStorage(), a.Bus, logger))
	queueManager.RegisterWorker(workers.NewRunFormWorker(a.Vault, a.Sessions, a.Forms, logger))
	queueManager.RegisterWorker(workers.NewRunBatchWorker(a.Forms, logger))

	a.Scheduler = scheduler.NewService(&cfg.Scheduler, storage.SettingsStorage(), queueManager.Submit, logger)

	// Automation activity stays visible in the service log even with no
	// WebSocket clients connected
	a.Bus.Subscribe(events.NewLoggerSubscriber(logger))

	// API layer
	a.CredentialHandler = handlers.NewCredentialHandler(a.Vault, a.Driver, logger)
	a.WorkOrderHandler = handlers.NewWorkOrderHandler(storage.WorkOrderStorage(), a.Queue, a.Reports, a.Bus, logger)
	a.AutomationHandler = handlers.NewAutomationHandler(a.Queue, storage.WorkOrderStorage(), &cfg.Forms, logger)
	a.SettingsHandler = handlers.NewSettingsHandler(storage.SettingsStorage(), storage.HistoryStorage(), a.Scheduler, logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Bus, &cfg.Auth, &cfg.WebSocket, logger)
	a.HealthHandler = handlers.NewHealthHandler(a.Pool, a.Queue, a.WSHandler)

	// Stream server logs to connected WebSocket clients through arbor's
	// context channel
	a.logStreamer = handlers.NewLogStreamer(a.WSHandler, &cfg.WebSocket, logger)
	a.logStreamer.Start()
	logger.SetChannel("context", a.logStreamer.Channel())

	return a, nil
}

// Start launches the browser pool, queue scheduler, and cron scheduler
func (a *App) Start(ctx context.Context) error {
	if err := a.Pool.Initialize(ctx); err != nil {
		return fmt.Errorf("browser pool initialization failed: %w", err)
	}
	if err := a.Queue.Start(ctx); err != nil {
		return fmt.Errorf("queue start failed: %w", err)
	}
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("scheduler start failed: %w", err)
	}

	a.Logger.Info().
		Int("max_concurrent_jobs", a.Config.Queue.MaxConcurrentJobs).
		Int("max_sessions", a.Config.Browser.MaxSessions).
		Bool("dev_mode", a.Config.DevMode).
		Msg("Application started")
	return nil
}

// Close tears components down in reverse construction order. Safe to call
// on a partially constructed App.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Queue != nil {
		if err := a.Queue.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Queue stop reported an error")
		}
	}
	if a.Sessions != nil {
		a.Sessions.CloseAll()
	}
	if a.Pool != nil {
		if err := a.Pool.Shutdown(); err != nil {
			a.Logger.Warn().Err(err).Msg("Browser pool shutdown reported an error")
		}
	}
	if a.logStreamer != nil {
		_ = a.logStreamer.Close()
	}
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close reported an error")
		}
	}
}
