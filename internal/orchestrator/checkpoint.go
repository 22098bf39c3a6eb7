package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/interfaces"
	"github.com/ternarybob/quaestor/internal/models"
)

// CheckpointSaver periodically flushes the accumulator: dirty tenders go
// to the datastore, the full snapshot goes to the per-portal checkpoint
// file (temp file + rename, so a crash mid-write never corrupts the
// previous checkpoint), and the run row's counters advance.
type CheckpointSaver struct {
	config  *common.ScraperConfig
	logger  arbor.ILogger
	storage interfaces.StorageManager
	bus     interfaces.EventBus
	acc     *Accumulator

	portalName string
	runID      uint64

	stop chan struct{}
	done chan struct{}
}

// NewCheckpointSaver wires a saver for one run
func NewCheckpointSaver(config *common.ScraperConfig, logger arbor.ILogger, storage interfaces.StorageManager, bus interfaces.EventBus, acc *Accumulator, portalName string, runID uint64) *CheckpointSaver {
	return &CheckpointSaver{
		config:     config,
		logger:     logger,
		storage:    storage,
		bus:        bus,
		acc:        acc,
		portalName: portalName,
		runID:      runID,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the periodic flush loop
func (s *CheckpointSaver) Start(ctx context.Context) {
	common.SafeGo(s.logger, "checkpointSaver", func() {
		defer close(s.done)

		ticker := time.NewTicker(s.config.CheckpointInterval())
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Flush(ctx); err != nil {
					s.logger.Warn().Err(err).
						Str("portal", s.portalName).
						Msg("Periodic checkpoint flush failed")
				}
			}
		}
	})
}

// Stop ends the periodic loop. The caller still owns the final flush.
func (s *CheckpointSaver) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}

// Flush persists the current run state. Failures leave the drained rows
// queued for the next attempt, so a flaky flush loses nothing.
func (s *CheckpointSaver) Flush(ctx context.Context) error {
	dirty := s.acc.DrainDirty()
	if len(dirty) > 0 {
		rows := make([]models.Tender, 0, len(dirty))
		for _, row := range dirty {
			rows = append(rows, row)
		}

		result, err := s.storage.Tenders().ReplaceRunTenders(ctx, s.runID, rows)
		if err != nil {
			s.acc.RestoreDirty(dirty)
			return fmt.Errorf("failed to flush tenders: %w", err)
		}
		s.acc.AddReplaceResult(result)
	}

	cp := s.acc.BuildCheckpoint()

	if err := s.writeCheckpointFile(cp); err != nil {
		return err
	}
	if err := s.storage.Checkpoints().SaveCheckpoint(ctx, cp); err != nil {
		s.logger.Warn().Err(err).Str("portal", s.portalName).Msg("Checkpoint mirror save failed")
	}
	if err := s.storage.Runs().UpdateRunProgress(ctx, s.runID, cp.Counters); err != nil {
		s.logger.Warn().Err(err).Str("portal", s.portalName).Msg("Run progress update failed")
	}

	s.logger.Debug().
		Str("portal", s.portalName).
		Int64("run_id", int64(s.runID)).
		Int("tenders", len(cp.AllTenderDetails)).
		Int("departments", len(cp.ProcessedDepartmentNamesNorm)).
		Msg("Checkpoint saved")

	event := models.NewEvent(models.EventLog)
	event.RunID = s.runID
	event.Portal = s.portalName
	event.Level = "debug"
	event.Message = fmt.Sprintf("checkpoint saved: %d tenders, %d departments", len(cp.AllTenderDetails), len(cp.ProcessedDepartmentNamesNorm))
	s.bus.Publish(event)

	return nil
}

// Path returns the portal's checkpoint file location
func (s *CheckpointSaver) Path() string {
	return CheckpointPath(s.config, s.portalName)
}

// DeleteFile removes the checkpoint file after a completed run
func (s *CheckpointSaver) DeleteFile() {
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("path", s.Path()).Msg("Failed to remove checkpoint file")
	}
}

func (s *CheckpointSaver) writeCheckpointFile(cp *models.Checkpoint) error {
	path := s.Path()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move checkpoint into place: %w", err)
	}

	return nil
}

// CheckpointPath is the portal's checkpoint file location
func CheckpointPath(config *common.ScraperConfig, portalName string) string {
	return filepath.Join(config.CheckpointDir, common.PortalSlug(portalName)+"_checkpoint.json")
}

// LoadCheckpoint reads a portal's saved checkpoint. The file is the
// source of truth; the datastore mirror covers the file going missing.
// Returns nil when neither exists.
func LoadCheckpoint(ctx context.Context, config *common.ScraperConfig, storage interfaces.StorageManager, logger arbor.ILogger, portalName string) *models.Checkpoint {
	path := CheckpointPath(config, portalName)
	if data, err := os.ReadFile(path); err == nil {
		var cp models.Checkpoint
		if err := json.Unmarshal(data, &cp); err == nil && cp.RunID != 0 {
			return &cp
		}
		logger.Warn().Str("path", path).Msg("Checkpoint file unreadable, trying datastore mirror")
	}

	cp, err := storage.Checkpoints().GetCheckpoint(ctx, portalName)
	if err != nil {
		logger.Warn().Err(err).Str("portal", portalName).Msg("Checkpoint mirror read failed")
		return nil
	}
	return cp
}

// DiscardCheckpoint removes both the checkpoint file and its mirror
func DiscardCheckpoint(ctx context.Context, config *common.ScraperConfig, storage interfaces.StorageManager, logger arbor.ILogger, portalName string) {
	path := CheckpointPath(config, portalName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("path", path).Msg("Failed to remove checkpoint file")
	}
	if err := storage.Checkpoints().DeleteCheckpoint(ctx, portalName); err != nil {
		logger.Warn().Err(err).Str("portal", portalName).Msg("Failed to remove checkpoint mirror")
	}
}
