// -----------------------------------------------------------------------
// Safe Goroutine - Panic-protected goroutine wrappers
// -----------------------------------------------------------------------

package common

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
)

// SafeGo runs fn in a goroutine with panic recovery. A panic is logged
// with its stack and the process keeps running; use this for background
// work (checkpoint saver, watchdogs, API-started runs) where one failure
// must not take the service down.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	go func() {
		defer recoverGoroutine(logger, name)
		fn()
	}()
}

// SafeGoWithContext is SafeGo for goroutines that may be cancelled before
// they ever run; fn is skipped when ctx is already done at start.
func SafeGoWithContext(ctx context.Context, logger arbor.ILogger, name string, fn func()) {
	go func() {
		defer recoverGoroutine(logger, name)

		select {
		case <-ctx.Done():
			if logger != nil {
				logger.Debug().Str("goroutine", name).Msg("Goroutine cancelled before start")
			}
			return
		default:
		}

		fn()
	}()
}

func recoverGoroutine(logger arbor.ILogger, name string) {
	r := recover()
	if r == nil {
		return
	}

	if logger == nil {
		logger = GetLogger()
	}
	logger.Error().
		Str("goroutine", name).
		Str("panic", fmt.Sprintf("%v", r)).
		Str("stack", GetStackTrace()).
		Msg("Recovered from panic in goroutine")
}
