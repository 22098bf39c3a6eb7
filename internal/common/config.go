package common

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment" json:"environment"` // "development" or "production" - picks the js_batch_threshold default
	Server      ServerConfig    `toml:"server" json:"server"`
	Logging     LoggingConfig   `toml:"logging" json:"logging"`
	Storage     StorageConfig   `toml:"storage" json:"storage"`
	Backup      BackupConfig    `toml:"backup" json:"backup"`
	Scraper     ScraperConfig   `toml:"scraper" json:"scraper"`
	Portals     PortalsConfig   `toml:"portals" json:"portals"`
	Scheduler   SchedulerConfig `toml:"scheduler" json:"scheduler"`
}

type ServerConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Port    int    `toml:"port" json:"port" validate:"min=0,max=65535"`
	Host    string `toml:"host" json:"host"`
}

type LoggingConfig struct {
	Level  string   `toml:"level" json:"level"`   // "debug", "info", "warn", "error"
	Output []string `toml:"output" json:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Path           string `toml:"path" json:"path" validate:"required"` // Badger database directory
	ResetOnStartup bool   `toml:"reset_on_startup" json:"reset_on_startup"`
}

// BackupConfig controls the tiered datastore backups written after a
// completed run.
type BackupConfig struct {
	Dir              string `toml:"dir" json:"dir"`
	DailyRetention   int    `toml:"daily_retention" json:"daily_retention" validate:"min=1"`
	WeeklyRetention  int    `toml:"weekly_retention" json:"weekly_retention" validate:"min=1"`
	MonthlyRetention int    `toml:"monthly_retention" json:"monthly_retention" validate:"min=1"`
	YearlyRetention  int    `toml:"yearly_retention" json:"yearly_retention" validate:"min=1"`
}

// ScraperConfig holds the extraction and worker-pool tuning knobs. The
// validated ranges are hard limits; values outside them are configuration
// errors, not clamps.
type ScraperConfig struct {
	Workers                    int    `toml:"workers" json:"workers" validate:"min=1,max=8"`
	JSBatchThreshold           int    `toml:"js_batch_threshold" json:"js_batch_threshold" validate:"min=100,max=10000"`
	JSBatchSize                int    `toml:"js_batch_size" json:"js_batch_size" validate:"min=500,max=5000"`
	OversizedCeiling           int    `toml:"oversized_ceiling" json:"oversized_ceiling" validate:"min=1"`
	CheckpointIntervalSeconds  int    `toml:"checkpoint_interval_seconds" json:"checkpoint_interval_seconds" validate:"min=1"`
	HeartbeatIntervalSeconds   int    `toml:"heartbeat_interval_seconds" json:"heartbeat_interval_seconds" validate:"min=1"`
	StuckTimeoutSeconds        int    `toml:"stuck_timeout_seconds" json:"stuck_timeout_seconds" validate:"min=1"`
	EventBufferSize            int    `toml:"event_buffer_size" json:"event_buffer_size" validate:"min=16"`
	VerificationSweepCap       int    `toml:"verification_sweep_cap" json:"verification_sweep_cap" validate:"min=0"`
	DefaultRateLimitRPM        int    `toml:"default_rate_limit_rpm" json:"default_rate_limit_rpm" validate:"min=1"`
	NavigationTimeoutSeconds   int    `toml:"navigation_timeout_seconds" json:"navigation_timeout_seconds" validate:"min=1"`
	RetryMaxAttempts           int    `toml:"retry_max_attempts" json:"retry_max_attempts" validate:"min=1"`
	RetryBaseBackoffSeconds    int    `toml:"retry_base_backoff_seconds" json:"retry_base_backoff_seconds" validate:"min=1"`
	RetryMaxBackoffSeconds     int    `toml:"retry_max_backoff_seconds" json:"retry_max_backoff_seconds" validate:"min=1"`
	Headless                   bool   `toml:"headless" json:"headless"`
	CheckpointDir              string `toml:"checkpoint_dir" json:"checkpoint_dir"`
	DownloadDir                string `toml:"download_dir" json:"download_dir"`
	UserAgent                  string `toml:"user_agent" json:"user_agent"`
}

type PortalsConfig struct {
	CSVPath  string `toml:"csv_path" json:"csv_path"`
	YAMLPath string `toml:"yaml_path" json:"yaml_path"`
}

type SchedulerConfig struct {
	Enabled         bool   `toml:"enabled" json:"enabled"`
	DefaultSchedule string `toml:"default_schedule" json:"default_schedule"`
}

// CheckpointInterval returns the checkpoint tick period
func (c *ScraperConfig) CheckpointInterval() time.Duration {
	return time.Duration(c.CheckpointIntervalSeconds) * time.Second
}

// HeartbeatInterval returns the per-worker heartbeat period
func (c *ScraperConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// StuckTimeout returns the heartbeat silence threshold for stuck detection
func (c *ScraperConfig) StuckTimeout() time.Duration {
	return time.Duration(c.StuckTimeoutSeconds) * time.Second
}

// NavigationTimeout returns the per-navigation browser deadline
func (c *ScraperConfig) NavigationTimeout() time.Duration {
	return time.Duration(c.NavigationTimeoutSeconds) * time.Second
}

// RetryBaseBackoff returns the first retry delay
func (c *ScraperConfig) RetryBaseBackoff() time.Duration {
	return time.Duration(c.RetryBaseBackoffSeconds) * time.Second
}

// RetryMaxBackoff returns the backoff cap
func (c *ScraperConfig) RetryMaxBackoff() time.Duration {
	return time.Duration(c.RetryMaxBackoffSeconds) * time.Second
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability; only
// user-facing settings should be exposed in quaestor.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Enabled: false,
			Port:    8080,
			Host:    "localhost",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Storage: StorageConfig{
			Path: "./data/quaestor",
		},
		Backup: BackupConfig{
			Dir:              "./backups",
			DailyRetention:   7,
			WeeklyRetention:  16,
			MonthlyRetention: 24,
			YearlyRetention:  7,
		},
		Scraper: ScraperConfig{
			Workers:                   2,
			JSBatchThreshold:          3000, // 300 in test profiles, see applyEnvironmentDefaults
			JSBatchSize:               2000,
			OversizedCeiling:          15000,
			CheckpointIntervalSeconds: 120,
			HeartbeatIntervalSeconds:  30,
			StuckTimeoutSeconds:       300,
			EventBufferSize:           4096,
			VerificationSweepCap:      10,
			DefaultRateLimitRPM:       60,
			NavigationTimeoutSeconds:  45,
			RetryMaxAttempts:          3,
			RetryBaseBackoffSeconds:   2,
			RetryMaxBackoffSeconds:    60,
			Headless:                  true,
			CheckpointDir:             "./data/checkpoints",
			DownloadDir:               "./data/downloads",
			UserAgent:                 "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Portals: PortalsConfig{
			CSVPath:  "./base_urls.csv",
			YAMLPath: "./portals.yaml",
		},
		Scheduler: SchedulerConfig{
			Enabled:         false,
			DefaultSchedule: "",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier
// files. Unknown keys in a config file are rejected with a clear error.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		decoder := toml.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(config); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, fmt.Errorf("unknown keys in config file %s:\n%s", path, strict.String())
			}
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvironmentDefaults(config)
	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvironmentDefaults adjusts profile-sensitive defaults. The JS batch
// threshold historically ran lower outside production so small fixtures still
// exercise the batched path.
func applyEnvironmentDefaults(config *Config) {
	if !config.IsProduction() && config.Scraper.JSBatchThreshold == 3000 {
		config.Scraper.JSBatchThreshold = 300
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("QUAESTOR_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("QUAESTOR_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("QUAESTOR_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if enabled := os.Getenv("QUAESTOR_SERVER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Server.Enabled = e
		}
	}

	// Logging configuration
	if level := os.Getenv("QUAESTOR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("QUAESTOR_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Storage configuration
	if path := os.Getenv("QUAESTOR_STORAGE_PATH"); path != "" {
		config.Storage.Path = path
	}
	if backupDir := os.Getenv("QUAESTOR_BACKUP_DIR"); backupDir != "" {
		config.Backup.Dir = backupDir
	}

	// Scraper configuration
	if workers := os.Getenv("QUAESTOR_SCRAPER_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Scraper.Workers = w
		}
	}
	if threshold := os.Getenv("QUAESTOR_SCRAPER_JS_BATCH_THRESHOLD"); threshold != "" {
		if t, err := strconv.Atoi(threshold); err == nil {
			config.Scraper.JSBatchThreshold = t
		}
	}
	if batchSize := os.Getenv("QUAESTOR_SCRAPER_JS_BATCH_SIZE"); batchSize != "" {
		if b, err := strconv.Atoi(batchSize); err == nil {
			config.Scraper.JSBatchSize = b
		}
	}
	if ceiling := os.Getenv("QUAESTOR_SCRAPER_OVERSIZED_CEILING"); ceiling != "" {
		if c, err := strconv.Atoi(ceiling); err == nil {
			config.Scraper.OversizedCeiling = c
		}
	}
	if interval := os.Getenv("QUAESTOR_SCRAPER_CHECKPOINT_INTERVAL_SECONDS"); interval != "" {
		if i, err := strconv.Atoi(interval); err == nil {
			config.Scraper.CheckpointIntervalSeconds = i
		}
	}
	if headless := os.Getenv("QUAESTOR_SCRAPER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Scraper.Headless = h
		}
	}
	if rpm := os.Getenv("QUAESTOR_SCRAPER_DEFAULT_RATE_LIMIT_RPM"); rpm != "" {
		if r, err := strconv.Atoi(rpm); err == nil {
			config.Scraper.DefaultRateLimitRPM = r
		}
	}
	if checkpointDir := os.Getenv("QUAESTOR_SCRAPER_CHECKPOINT_DIR"); checkpointDir != "" {
		config.Scraper.CheckpointDir = checkpointDir
	}
	if downloadDir := os.Getenv("QUAESTOR_SCRAPER_DOWNLOAD_DIR"); downloadDir != "" {
		config.Scraper.DownloadDir = downloadDir
	}

	// Portal registry configuration
	if csvPath := os.Getenv("QUAESTOR_PORTALS_CSV_PATH"); csvPath != "" {
		config.Portals.CSVPath = csvPath
	}
	if yamlPath := os.Getenv("QUAESTOR_PORTALS_YAML_PATH"); yamlPath != "" {
		config.Portals.YAMLPath = yamlPath
	}

	// Scheduler configuration
	if enabled := os.Getenv("QUAESTOR_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}
	if schedule := os.Getenv("QUAESTOR_SCHEDULER_DEFAULT_SCHEDULE"); schedule != "" {
		config.Scheduler.DefaultSchedule = schedule
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, workers int, serve bool) {
	if workers > 0 {
		config.Scraper.Workers = workers
	}
	if serve {
		config.Server.Enabled = true
	}
}

// Validate checks the configuration against the allowed ranges. Out-of-range
// values are errors, never silently clamped.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid config: %s=%v violates %s=%s", f.Namespace(), f.Value(), f.Tag(), f.Param())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Scraper.RetryBaseBackoffSeconds > c.Scraper.RetryMaxBackoffSeconds {
		return fmt.Errorf("invalid config: retry_base_backoff_seconds %d exceeds retry_max_backoff_seconds %d",
			c.Scraper.RetryBaseBackoffSeconds, c.Scraper.RetryMaxBackoffSeconds)
	}
	return nil
}

// ValidateSchedule validates a cron schedule expression and enforces a
// minimum 5-minute interval so scheduled runs cannot hammer a portal.
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}
	if strings.HasPrefix(minuteField, "*/") {
		interval, err := strconv.Atoi(strings.TrimPrefix(minuteField, "*/"))
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
