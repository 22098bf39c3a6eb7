package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/browser"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/events"
	"github.com/ternarybob/quaestor/internal/interfaces"
	"github.com/ternarybob/quaestor/internal/orchestrator"
	"github.com/ternarybob/quaestor/internal/portals"
	"github.com/ternarybob/quaestor/internal/scheduler"
	"github.com/ternarybob/quaestor/internal/server"
	"github.com/ternarybob/quaestor/internal/skills"
	storagebadger "github.com/ternarybob/quaestor/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Storage      interfaces.StorageManager
	Bus          *events.Bus
	Dispatcher   *events.Dispatcher
	Heartbeats   *events.HeartbeatMonitor
	Skills       *skills.Registry
	Sessions     *browser.Factory
	Portals      *portals.Registry
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler
	Server       *server.Server

	ctx       context.Context
	cancelCtx context.CancelFunc
}

// New initializes the application with all dependencies. The event
// dispatcher is started here; sinks added later via AddEventSink still
// receive every event published after they attach.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	if err := app.initStorage(); err != nil {
		app.cancelCtx()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initEvents(); err != nil {
		app.cancelCtx()
		return nil, fmt.Errorf("failed to initialize event pipeline: %w", err)
	}

	if err := app.initScraping(); err != nil {
		app.cancelCtx()
		return nil, fmt.Errorf("failed to initialize scraping services: %w", err)
	}

	logger.Info().
		Int("portals", len(app.Portals.All())).
		Int("workers", cfg.Scraper.Workers).
		Bool("server_enabled", cfg.Server.Enabled).
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage opens the Badger datastore and its backup manager
func (a *App) initStorage() error {
	manager, err := storagebadger.NewManager(a.Logger, &a.Config.Storage, &a.Config.Backup)
	if err != nil {
		return err
	}
	a.Storage = manager

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Path).
		Msg("Storage layer initialized")
	return nil
}

// initEvents wires the bounded event bus, its single-consumer dispatcher,
// and the heartbeat monitor sink, then starts the stuck-worker watchdog.
func (a *App) initEvents() error {
	a.Bus = events.NewBus(a.Config.Scraper.EventBufferSize)
	a.Dispatcher = events.NewDispatcher(a.Bus, a.Logger)

	a.Heartbeats = events.NewHeartbeatMonitor()
	a.Dispatcher.AddSink(a.Heartbeats)

	a.Dispatcher.Start(a.ctx)
	a.Logger.Debug().
		Int("buffer_size", a.Config.Scraper.EventBufferSize).
		Msg("Event dispatcher started")

	a.startStuckWorkerWatchdog()
	return nil
}

// initScraping builds the skill registry, browser factory, portal
// registry, orchestrator, and the optional scheduler and status server.
func (a *App) initScraping() error {
	a.Skills = skills.NewRegistry()
	if err := a.Skills.Register(skills.NewNICSkill(&a.Config.Scraper, a.Logger)); err != nil {
		return fmt.Errorf("failed to register portal skill: %w", err)
	}
	a.Logger.Debug().Strs("skills", a.Skills.IDs()).Msg("Portal skills registered")

	a.Sessions = browser.NewFactory(&a.Config.Scraper, a.Logger)

	registry, err := portals.Load(a.Config.Portals.CSVPath, a.Config.Portals.YAMLPath, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to load portal registry: %w", err)
	}
	a.Portals = registry

	a.Orchestrator = orchestrator.New(a.Config, a.Logger, a.Storage, a.Bus, a.Skills, a.Sessions)

	if a.Config.Scheduler.Enabled {
		a.Scheduler = scheduler.New(a.Logger, a.Orchestrator)
		registered := a.Scheduler.RegisterPortals(a.Portals.All(), a.Config.Scheduler.DefaultSchedule)
		if registered > 0 {
			a.Scheduler.Start()
			a.Logger.Info().Int("portals", registered).Msg("Scheduler started")
		} else {
			a.Scheduler = nil
			a.Logger.Warn().Msg("Scheduler enabled but no portal has a schedule, skipping")
		}
	}

	if a.Config.Server.Enabled {
		a.Server = server.New(&a.Config.Server, a.Logger, a.Storage, a.Orchestrator, a.Portals)
		a.Dispatcher.AddSink(a.Server.EventSink())
		a.Logger.Debug().
			Str("host", a.Config.Server.Host).
			Int("port", a.Config.Server.Port).
			Msg("Status server initialized")
	}

	return nil
}

// AddEventSink attaches a sink to the live event stream
func (a *App) AddEventSink(sink interfaces.EventSink) {
	a.Dispatcher.AddSink(sink)
}

// startStuckWorkerWatchdog periodically checks the heartbeat monitor and
// logs workers that have gone silent past the stuck timeout.
func (a *App) startStuckWorkerWatchdog() {
	interval := a.Config.Scraper.HeartbeatInterval()
	timeout := a.Config.Scraper.StuckTimeout()

	common.SafeGo(a.Logger, "stuckWorkerWatchdog", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				for _, id := range a.Heartbeats.Stuck(time.Now(), timeout) {
					task, _ := a.Heartbeats.LastTask(id)
					a.Logger.Warn().
						Int("worker_id", id).
						Str("last_task", task).
						Msg("Worker heartbeat silent past stuck timeout")
				}
			case <-a.ctx.Done():
				return
			}
		}
	})
}

// waitForActiveRuns polls until every in-flight run has unregistered or
// the deadline passes. Runs finalize on their own background context, so
// a short grace window is enough for checkpoint and run-row persistence.
func (a *App) waitForActiveRuns(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(a.Orchestrator.ActiveRuns()) == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	a.Logger.Warn().Msg("Active runs did not finish within shutdown grace period")
}

// Close closes all application resources
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
		a.Logger.Info().Msg("Scheduler stopped")
	}

	if a.Orchestrator != nil {
		a.Orchestrator.Shutdown()
		a.waitForActiveRuns(10 * time.Second)
	}

	// Close the bus first so the dispatcher drains buffered events before
	// its context is cancelled.
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Dispatcher != nil {
		select {
		case <-a.Dispatcher.Done():
		case <-time.After(2 * time.Second):
			a.Logger.Warn().Msg("Event dispatcher did not drain in time")
		}
	}
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
