package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quaestor.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Scraper.Workers != 2 {
		t.Errorf("default workers = %d, want 2", cfg.Scraper.Workers)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Enabled {
		t.Error("server enabled by default")
	}
	if cfg.Scraper.EventBufferSize != 4096 {
		t.Errorf("default event buffer = %d, want 4096", cfg.Scraper.EventBufferSize)
	}
	if cfg.Backup.DailyRetention != 7 || cfg.Backup.WeeklyRetention != 16 ||
		cfg.Backup.MonthlyRetention != 24 || cfg.Backup.YearlyRetention != 7 {
		t.Errorf("backup retention = %d/%d/%d/%d, want 7/16/24/7",
			cfg.Backup.DailyRetention, cfg.Backup.WeeklyRetention,
			cfg.Backup.MonthlyRetention, cfg.Backup.YearlyRetention)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoadFromFilesOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
[scraper]
workers = 4

[logging]
level = "debug"
`)

	cfg, err := LoadFromFiles(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scraper.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Scraper.Workers)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestLoadFromFilesLaterFileWins(t *testing.T) {
	first := writeConfigFile(t, "[scraper]\nworkers = 3\n")
	second := writeConfigFile(t, "[scraper]\nworkers = 5\n")

	cfg, err := LoadFromFiles(first, second)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scraper.Workers != 5 {
		t.Errorf("workers = %d, want 5 from later file", cfg.Scraper.Workers)
	}
}

func TestLoadFromFilesRejectsUnknownKeys(t *testing.T) {
	path := writeConfigFile(t, `
[scraper]
wokers = 4
`)

	_, err := LoadFromFiles(path)
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "unknown keys") {
		t.Errorf("error %q does not mention unknown keys", err)
	}
}

func TestLoadFromFilesRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"workers above max", "[scraper]\nworkers = 99\n"},
		{"workers below min", "[scraper]\nworkers = 0\n"},
		{"event buffer too small", "[scraper]\nevent_buffer_size = 8\n"},
		{"port above range", "[server]\nport = 70000\n"},
		{"backoff inversion", "[scraper]\nretry_base_backoff_seconds = 120\nretry_max_backoff_seconds = 60\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.content)
			if _, err := LoadFromFiles(path); err == nil {
				t.Error("expected range validation error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("QUAESTOR_SCRAPER_WORKERS", "3")
	t.Setenv("QUAESTOR_SERVER_PORT", "9090")
	t.Setenv("QUAESTOR_LOG_LEVEL", "warn")

	cfg, err := LoadFromFiles()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scraper.Workers != 3 {
		t.Errorf("workers = %d, want 3 from env", cfg.Scraper.Workers)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090 from env", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q, want warn from env", cfg.Logging.Level)
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := NewDefaultConfig()

	ApplyFlagOverrides(cfg, 0, false)
	if cfg.Scraper.Workers != 2 || cfg.Server.Enabled {
		t.Error("zero-value flags must not override config")
	}

	ApplyFlagOverrides(cfg, 4, true)
	if cfg.Scraper.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Scraper.Workers)
	}
	if !cfg.Server.Enabled {
		t.Error("serve flag did not enable server")
	}
}

func TestEnvironmentProfileAdjustsJSBatchThreshold(t *testing.T) {
	// The development profile lowers the threshold so small fixtures still
	// exercise the batched path.
	dev, err := LoadFromFiles()
	if err != nil {
		t.Fatal(err)
	}
	if dev.Scraper.JSBatchThreshold != 300 {
		t.Errorf("development threshold = %d, want 300", dev.Scraper.JSBatchThreshold)
	}

	path := writeConfigFile(t, "environment = \"production\"\n")
	prod, err := LoadFromFiles(path)
	if err != nil {
		t.Fatal(err)
	}
	if prod.Scraper.JSBatchThreshold != 3000 {
		t.Errorf("production threshold = %d, want 3000", prod.Scraper.JSBatchThreshold)
	}

	// An explicit value is never touched by the profile.
	path = writeConfigFile(t, "[scraper]\njs_batch_threshold = 1000\n")
	explicit, err := LoadFromFiles(path)
	if err != nil {
		t.Fatal(err)
	}
	if explicit.Scraper.JSBatchThreshold != 1000 {
		t.Errorf("explicit threshold = %d, want 1000", explicit.Scraper.JSBatchThreshold)
	}
}

func TestValidateSchedule(t *testing.T) {
	valid := []string{"0 6 * * *", "*/15 * * * *", "30 2 * * 1"}
	for _, s := range valid {
		if err := ValidateSchedule(s); err != nil {
			t.Errorf("ValidateSchedule(%q) = %v, want nil", s, err)
		}
	}

	invalid := []string{"", "not a cron", "* * * * *", "*/1 * * * *", "*/4 * * * *"}
	for _, s := range invalid {
		if err := ValidateSchedule(s); err == nil {
			t.Errorf("ValidateSchedule(%q) = nil, want error", s)
		}
	}
}

func TestIsProduction(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.IsProduction() {
		t.Error("default environment reported as production")
	}
	cfg.Environment = "production"
	if !cfg.IsProduction() {
		t.Error("production not recognized")
	}
	cfg.Environment = " PROD "
	if !cfg.IsProduction() {
		t.Error("prod alias not recognized")
	}
}
