package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/app"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/events"
	"github.com/ternarybob/quaestor/internal/models"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	portalName   = flag.String("portal", "", "Run a single portal by registry name, then exit")
	fullRescrape = flag.Bool("full-rescrape", false, "Re-extract details for every live tender")
	onlyNew      = flag.Bool("only-new", false, "Delta scope (the default; kept for script compatibility)")
	workerCount  = flag.Int("workers", 0, "Worker pool size (overrides config)")
	serveMode    = flag.Bool("serve", false, "Start the status API server")
	eventsPath   = flag.String("events", "", "Append the event stream as NDJSON to this path (\"-\" for stdout)")
	showVersion  = flag.Bool("version", false, "Print version information")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	// Register custom flag for multiple config files
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	defer common.RecoverWithCrashFile()

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("quaestor.toml"); err == nil {
			configFiles = append(configFiles, "quaestor.toml")
		} else if _, err := os.Stat("deployments/local/quaestor.toml"); err == nil {
			// Fallback for users running from the project root
			configFiles = append(configFiles, "deployments/local/quaestor.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		// Use temporary logger for startup errors
		tempLogger := arbor.NewLogger()
		if len(configFiles) == 0 {
			tempLogger.Fatal().Err(err).Msg("Failed to load configuration")
		} else {
			tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration files")
		}
		os.Exit(1)
	}

	// Apply command-line flag overrides (highest priority), then re-check
	// ranges since flags bypass the file-load validation.
	common.ApplyFlagOverrides(config, *workerCount, *serveMode)
	if err := config.Validate(); err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Invalid configuration after flag overrides")
		os.Exit(1)
	}

	if *portalName == "" && !config.Server.Enabled {
		fmt.Fprintln(os.Stderr, "nothing to do: pass -portal <name> for a one-shot run or -serve for the status API")
		flag.Usage()
		os.Exit(2)
	}

	logger = common.InitLogger(config)
	common.InstallCrashHandler("")
	common.PrintBanner(config, logger)

	logger.Info().
		Strs("config_files", configFiles).
		Str("log_level", config.Logging.Level).
		Str("storage_path", config.Storage.Path).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}

	// Optional NDJSON event log, attached before any run starts
	if *eventsPath != "" {
		w, closeFn, err := openEventLog(*eventsPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *eventsPath).Msg("Failed to open event log")
		}
		defer closeFn()
		application.AddEventSink(events.NewNDJSONSink(w, logger))
		logger.Debug().Str("path", *eventsPath).Msg("NDJSON event log attached")
	}

	if *portalName != "" {
		code := runSinglePortal(application)
		if err := application.Close(); err != nil {
			logger.Warn().Err(err).Msg("Shutdown finished with errors")
		}
		os.Exit(code)
	}

	serve(application)
}

// runSinglePortal executes one portal run in the foreground and returns
// the process exit code. Ctrl+C cancels the run; the orchestrator still
// persists the checkpoint and run row before returning.
func runSinglePortal(application *app.App) int {
	portal, err := application.Portals.Get(*portalName)
	if err != nil {
		logger.Error().Err(err).Strs("known", application.Portals.Names()).Msg("Portal not found")
		return 2
	}

	scope := models.ScopeOnlyNew
	if *fullRescrape {
		scope = models.ScopeFullRescrape
	}
	_ = *onlyNew // synonym of the default scope

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("portal", portal.Name).
		Str("scope", string(scope)).
		Msg("Starting portal run")

	summary, err := application.Orchestrator.RunPortal(ctx, portal, scope)
	if err != nil {
		logger.Error().Err(err).Str("portal", portal.Name).Msg("Portal run failed")
		return 1
	}

	logger.Info().
		Str("portal", summary.PortalName).
		Str("status", string(summary.Status)).
		Int("inserted", summary.Inserted).
		Int("updated", summary.Updated).
		Int("departments_visited", summary.DepartmentsVisited).
		Int("departments_skipped", summary.DepartmentsSkipped).
		Msg("Portal run finished")

	switch summary.Status {
	case models.RunStatusFailed:
		return 1
	case models.RunStatusCancelled:
		return 130
	default:
		return 0
	}
}

// serve runs the status API until interrupted
func serve(application *app.App) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Fatal().Str("panic", fmt.Sprintf("%v", r)).Msg("Server goroutine panicked")
			}
		}()

		if err := application.Server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Give goroutine a moment to start
	time.Sleep(100 * time.Millisecond)

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("Interrupt signal received")

	logger.Info().Msg("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	if err := application.Close(); err != nil {
		logger.Error().Err(err).Msg("Shutdown finished with errors")
	}

	logger.Info().Msg("Server stopped")
}

// openEventLog resolves the -events flag target. "-" streams to stdout;
// anything else appends to the named file.
func openEventLog(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
