package interfaces

import "context"

// BrowserSession owns one browser instance plus a dedicated download
// directory. A session is exclusively held by one worker for its lifetime
// and is never shared.
type BrowserSession interface {
	// ID returns the unique session identifier
	ID() string

	// Navigate loads url and waits until waitSelector is visible. An empty
	// selector waits for document readiness only. Timeouts surface as
	// transient ScrapeErrors; callers retry only those.
	Navigate(ctx context.Context, url, waitSelector string) error

	// Script evaluates in-page JavaScript and unmarshals the result into out
	Script(ctx context.Context, js string, out interface{}) error

	// HTML returns the current page's outer HTML
	HTML(ctx context.Context) (string, error)

	// CurrentURL returns the page URL after redirects
	CurrentURL(ctx context.Context) (string, error)

	// Screenshot writes a full-page capture to path. Best effort: failures
	// are logged by the session and never propagate.
	Screenshot(ctx context.Context, path string)

	// DownloadDir returns the session's private download directory
	DownloadDir() string

	// MarkPoisoned flags the session as unusable; the owning worker discards
	// it and requests a fresh one.
	MarkPoisoned()

	// Poisoned reports whether the session has been flagged
	Poisoned() bool

	// Close releases the browser and removes the download directory. Safe to
	// call more than once.
	Close() error
}

// SessionFactory creates browser sessions for workers
type SessionFactory interface {
	NewSession(ctx context.Context) (BrowserSession, error)
}
