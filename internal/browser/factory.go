package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/interfaces"
)

// Factory builds browser sessions from scraper configuration. Each session
// gets its own exec allocator, browser context and download directory; a
// startup probe against about:blank catches broken Chrome installs before a
// worker wastes a department on them.
type Factory struct {
	config *common.ScraperConfig
	logger arbor.ILogger
}

// NewFactory creates a session factory
func NewFactory(config *common.ScraperConfig, logger arbor.ILogger) *Factory {
	return &Factory{config: config, logger: logger}
}

// NewSession opens a fresh browser session. The returned session is probed
// and ready for navigation; the caller owns it until Close.
func (f *Factory) NewSession(ctx context.Context) (interfaces.BrowserSession, error) {
	id := common.NewSessionID()
	downloadDir := filepath.Join(f.config.DownloadDir, id)
	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(ctx, f.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			f.logger.Debug().Msgf("chromedp: "+format, args...)
		}),
	)

	session := &Session{
		id:              id,
		downloadDir:     downloadDir,
		navTimeout:      f.config.NavigationTimeout(),
		logger:          f.logger,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		allocatorCancel: allocatorCancel,
	}

	// Startup probe: a browser that cannot reach about:blank is useless.
	start := time.Now()
	probeCtx, probeCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer probeCancel()

	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank"), session.allowDownloads()); err != nil {
		session.Close()
		return nil, fmt.Errorf("browser failed startup probe: %w", err)
	}

	f.logger.Debug().
		Str("session_id", id).
		Dur("startup_time", time.Since(start)).
		Bool("headless", f.config.Headless).
		Msg("Browser session created")

	return session, nil
}

// allocatorOptions mirrors the stealth flag set that keeps government
// portals from serving the bot-detection page.
func (f *Factory) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserAgent(f.config.UserAgent),

		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("useAutomationExtension", false),
		chromedp.Flag("disable-background-timer-throttling", false),
		chromedp.Flag("disable-backgrounding-occluded-windows", false),
		chromedp.Flag("disable-renderer-backgrounding", false),

		chromedp.WindowSize(1920, 1080),
	}

	if f.config.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}

	return opts
}

var _ interfaces.SessionFactory = (*Factory)(nil)
