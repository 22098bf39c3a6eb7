package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/interfaces"
	"github.com/ternarybob/quaestor/internal/models"
)

// Session owns one Chrome instance plus a dedicated download directory.
// A session is exclusively held by one worker for its lifetime; Close
// releases the browser and removes the download directory on every exit
// path.
type Session struct {
	id          string
	downloadDir string
	navTimeout  time.Duration
	logger      arbor.ILogger

	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc

	poisoned  atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// ID returns the unique session identifier
func (s *Session) ID() string {
	return s.id
}

// DownloadDir returns the session's private download directory
func (s *Session) DownloadDir() string {
	return s.downloadDir
}

// Navigate loads url and waits for waitSelector to become visible. An empty
// selector waits for the document body only. Timeouts come back as transient
// ScrapeErrors; a dead browser comes back poisoned.
func (s *Session) Navigate(ctx context.Context, url, waitSelector string) error {
	navCtx, cancel := context.WithTimeout(s.browserCtx, s.navTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	actions := []chromedp.Action{chromedp.Navigate(url)}
	if waitSelector != "" {
		actions = append(actions, chromedp.WaitVisible(waitSelector, chromedp.ByQuery))
	} else {
		actions = append(actions, chromedp.WaitReady("body", chromedp.ByQuery))
	}

	start := time.Now()
	err := chromedp.Run(navCtx, actions...)
	if err != nil {
		return s.classify(ctx, "navigate "+url, err)
	}

	s.logger.Debug().
		Str("session_id", s.id).
		Str("url", url).
		Dur("duration", time.Since(start)).
		Msg("Navigation completed")
	return nil
}

// Script evaluates in-page JavaScript and unmarshals the result into out.
// Pass a nil out to discard the result.
func (s *Session) Script(ctx context.Context, js string, out interface{}) error {
	evalCtx, cancel := context.WithTimeout(s.browserCtx, s.navTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(evalCtx, chromedp.Evaluate(js, out)); err != nil {
		return s.classify(ctx, "script evaluation", err)
	}
	return nil
}

// HTML returns the current page's outer HTML
func (s *Session) HTML(ctx context.Context) (string, error) {
	htmlCtx, cancel := context.WithTimeout(s.browserCtx, s.navTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	if err := chromedp.Run(htmlCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", s.classify(ctx, "outer html", err)
	}
	return html, nil
}

// CurrentURL returns the page URL after redirects
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	locCtx, cancel := context.WithTimeout(s.browserCtx, s.navTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var loc string
	if err := chromedp.Run(locCtx, chromedp.Location(&loc)); err != nil {
		return "", s.classify(ctx, "location", err)
	}
	return loc, nil
}

// Screenshot writes a full-page capture to path. Best effort: failures are
// logged, never propagated.
func (s *Session) Screenshot(ctx context.Context, path string) {
	shotCtx, cancel := context.WithTimeout(s.browserCtx, s.navTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var buf []byte
	if err := chromedp.Run(shotCtx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		s.logger.Warn().Err(err).Str("session_id", s.id).Msg("Screenshot capture failed")
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Screenshot directory creation failed")
		return
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Screenshot write failed")
	}
}

// MarkPoisoned flags the session as unusable. The owning worker discards it
// and requests a fresh one from the factory.
func (s *Session) MarkPoisoned() {
	if s.poisoned.CompareAndSwap(false, true) {
		s.logger.Warn().Str("session_id", s.id).Msg("Session marked poisoned")
	}
}

// Poisoned reports whether the session has been flagged
func (s *Session) Poisoned() bool {
	return s.poisoned.Load()
}

// Close releases the browser and removes the download directory. Safe to
// call more than once; later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.browserCancel != nil {
			s.browserCancel()
		}
		if s.allocatorCancel != nil {
			s.allocatorCancel()
		}
		if s.downloadDir != "" {
			if err := os.RemoveAll(s.downloadDir); err != nil {
				s.closeErr = err
				s.logger.Warn().Err(err).
					Str("session_id", s.id).
					Str("download_dir", s.downloadDir).
					Msg("Failed to remove session download directory")
			}
		}
		s.logger.Debug().Str("session_id", s.id).Msg("Session closed")
	})
	return s.closeErr
}

// classify maps a chromedp failure onto the error taxonomy. Caller
// cancellation passes through untouched so workers can tell a cancelled run
// from a flaky portal.
func (s *Session) classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewScrapeError(models.ErrKindTransient, op+" timed out", err)
	}
	// The browser context dying surfaces as a cancellation that the caller
	// did not request: the Chrome process is gone.
	if errors.Is(err, context.Canceled) || s.browserCtx.Err() != nil {
		s.MarkPoisoned()
		return models.NewScrapeError(models.ErrKindPoisoned, op+" on dead browser", err)
	}
	return models.NewScrapeError(models.ErrKindTransient, op+" failed", err)
}

// allowDownloads points Chrome's download machinery at the session's
// private directory.
func (s *Session) allowDownloads() chromedp.Action {
	return browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
		WithDownloadPath(s.downloadDir).
		WithEventsEnabled(true)
}

var _ interfaces.BrowserSession = (*Session)(nil)
