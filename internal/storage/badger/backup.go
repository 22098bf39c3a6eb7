package badger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/interfaces"
)

// backupTier is one retention bucket under the backup directory
type backupTier struct {
	name      string
	retention int
	stamp     func(time.Time) string
}

// BackupManager streams full-database backups into tiered directories
// after completed runs. A tier gets at most one copy per period; older
// copies beyond the retention are pruned. Backup trouble is never allowed
// to fail the run that triggered it.
type BackupManager struct {
	db     *BadgerDB
	config *common.BackupConfig
	logger arbor.ILogger
}

// NewBackupManager creates a new BackupManager instance
func NewBackupManager(db *BadgerDB, config *common.BackupConfig, logger arbor.ILogger) interfaces.BackupManager {
	return &BackupManager{
		db:     db,
		config: config,
		logger: logger,
	}
}

func (m *BackupManager) tiers() []backupTier {
	return []backupTier{
		{"daily", m.config.DailyRetention, func(t time.Time) string {
			return t.Format("2006-01-02")
		}},
		{"weekly", m.config.WeeklyRetention, func(t time.Time) string {
			year, week := t.ISOWeek()
			return fmt.Sprintf("%d-W%02d", year, week)
		}},
		{"monthly", m.config.MonthlyRetention, func(t time.Time) string {
			return t.Format("2006-01")
		}},
		{"yearly", m.config.YearlyRetention, func(t time.Time) string {
			return t.Format("2006")
		}},
	}
}

func (m *BackupManager) RunBackups(ctx context.Context) error {
	now := time.Now()

	for _, tier := range m.tiers() {
		if ctx.Err() != nil {
			return nil
		}
		if err := m.backupTierOnce(tier, now); err != nil {
			m.logger.Warn().Err(err).Str("tier", tier.name).Msg("Backup tier failed")
			continue
		}
		if err := m.pruneTier(tier); err != nil {
			m.logger.Warn().Err(err).Str("tier", tier.name).Msg("Backup prune failed")
		}
	}

	return nil
}

// backupTierOnce writes the tier's copy for the current period unless one
// already exists.
func (m *BackupManager) backupTierOnce(tier backupTier, now time.Time) error {
	dir := filepath.Join(m.config.Dir, tier.name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create backup dir: %w", err)
	}

	target := filepath.Join(dir, fmt.Sprintf("quaestor-%s.bak", tier.stamp(now)))
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	tmp, err := os.CreateTemp(dir, ".quaestor-*.bak.tmp")
	if err != nil {
		return fmt.Errorf("failed to create backup temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// Full backup stream from version zero.
	if _, err := m.db.Store().Badger().Backup(tmp, 0); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to stream backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close backup temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move backup into place: %w", err)
	}

	m.logger.Info().Str("tier", tier.name).Str("path", target).Msg("Backup written")
	return nil
}

// pruneTier removes the oldest copies beyond the tier's retention. Stamps
// sort lexicographically within a tier, so name order is age order.
func (m *BackupManager) pruneTier(tier backupTier) error {
	dir := filepath.Join(m.config.Dir, tier.name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".bak") {
			continue
		}
		names = append(names, name)
	}
	if len(names) <= tier.retention {
		return nil
	}

	sort.Strings(names)
	for _, name := range names[:len(names)-tier.retention] {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			m.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove expired backup")
			continue
		}
		m.logger.Debug().Str("tier", tier.name).Str("path", path).Msg("Expired backup removed")
	}

	return nil
}
