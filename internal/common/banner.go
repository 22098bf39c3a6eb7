package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and a short summary of the
// resolved configuration.
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("Quaestor", GetVersion())

	if config == nil || logger == nil {
		return
	}
	logger.Info().
		Str("environment", config.Environment).
		Str("storage_path", config.Storage.Path).
		Str("log_level", config.Logging.Level).
		Int("workers", config.Scraper.Workers).
		Msg("Resolved configuration")
}
