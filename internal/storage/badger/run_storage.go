package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/interfaces"
	"github.com/ternarybob/quaestor/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RunStorage implements the RunStorage interface for Badger
type RunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunStorage creates a new RunStorage instance
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RunStorage {
	return &RunStorage{
		db:     db,
		logger: logger,
	}
}

func (s *RunStorage) BeginRun(ctx context.Context, portalName string, scope models.ScopeMode) (uint64, error) {
	run := &models.Run{
		PortalName: portalName,
		ScopeMode:  scope,
		Status:     models.RunStatusRunning,
		StartedAt:  time.Now(),
	}

	if err := s.db.Store().Insert(badgerhold.NextSequence(), run); err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}

	s.logger.Debug().
		Int64("run_id", int64(run.ID)).
		Str("portal", portalName).
		Str("scope", string(scope)).
		Msg("Run row created")

	return run.ID, nil
}

func (s *RunStorage) GetRun(ctx context.Context, runID uint64) (*models.Run, error) {
	var run models.Run
	if err := s.db.Store().Get(runID, &run); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("run not found: %d", runID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

func (s *RunStorage) UpdateRunProgress(ctx context.Context, runID uint64, counters models.RunCounters) error {
	var run models.Run
	if err := s.db.Store().Get(runID, &run); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("run not found: %d", runID)
		}
		return fmt.Errorf("failed to load run for progress update: %w", err)
	}

	run.Counters.AdvanceTo(counters)

	if err := s.db.Store().Update(runID, &run); err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	return nil
}

func (s *RunStorage) SetDepartmentSnapshot(ctx context.Context, runID uint64, snapshot []models.DepartmentCount) error {
	var run models.Run
	if err := s.db.Store().Get(runID, &run); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("run not found: %d", runID)
		}
		return fmt.Errorf("failed to load run for snapshot: %w", err)
	}

	run.DepartmentSnapshot = snapshot

	if err := s.db.Store().Update(runID, &run); err != nil {
		return fmt.Errorf("failed to set department snapshot: %w", err)
	}
	return nil
}

func (s *RunStorage) FinalizeRun(ctx context.Context, runID uint64, status models.RunStatus, errorMessage string) error {
	var run models.Run
	if err := s.db.Store().Get(runID, &run); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("run not found: %d", runID)
		}
		return fmt.Errorf("failed to load run for finalize: %w", err)
	}

	// Finalize is idempotent: the first terminal status wins.
	if run.Status.IsTerminal() {
		return nil
	}

	now := time.Now()
	run.Status = status
	run.CompletedAt = &now
	run.DurationSeconds = now.Sub(run.StartedAt).Seconds()
	run.ErrorMessage = errorMessage

	if err := s.db.Store().Update(runID, &run); err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}

	s.logger.Debug().
		Int64("run_id", int64(runID)).
		Str("status", string(status)).
		Msg("Run finalized")

	return nil
}

func (s *RunStorage) GetLastCompletedRun(ctx context.Context, portalName string) (*models.Run, error) {
	var runs []models.Run
	err := s.db.Store().Find(&runs, badgerhold.
		Where("PortalName").Eq(portalName).
		And("Status").Eq(models.RunStatusCompleted).
		SortBy("StartedAt").Reverse().Limit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to find last completed run: %w", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (s *RunStorage) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	query := badgerhold.Where("ID").Gt(uint64(0)).SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []models.Run
	if err := s.db.Store().Find(&runs, query); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	result := make([]*models.Run, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}
