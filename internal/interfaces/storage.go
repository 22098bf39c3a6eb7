package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/quaestor/internal/models"
)

// RunStorage persists Run rows
type RunStorage interface {
	// BeginRun inserts a runs row with status=running and returns its id
	BeginRun(ctx context.Context, portalName string, scope models.ScopeMode) (uint64, error)

	// GetRun loads one run by id
	GetRun(ctx context.Context, runID uint64) (*models.Run, error)

	// UpdateRunProgress applies counters to the run row. Counter fields only
	// advance; a lower value never overwrites a higher one.
	UpdateRunProgress(ctx context.Context, runID uint64, counters models.RunCounters) error

	// SetDepartmentSnapshot records the (name, count) list observed this run
	SetDepartmentSnapshot(ctx context.Context, runID uint64, snapshot []models.DepartmentCount) error

	// FinalizeRun sets the terminal status, completion time and duration
	FinalizeRun(ctx context.Context, runID uint64, status models.RunStatus, errorMessage string) error

	// GetLastCompletedRun returns the portal's most recent completed run,
	// or nil without error when none exists.
	GetLastCompletedRun(ctx context.Context, portalName string) (*models.Run, error)

	// ListRuns returns recent runs newest-first, all portals
	ListRuns(ctx context.Context, limit int) ([]*models.Run, error)
}

// TenderStorage persists tenders with the unique (portal, tender id)
// contract.
type TenderStorage interface {
	// GetLiveSkipSnapshot returns tender_id_norm -> closing_at_text_norm for
	// every persisted tender of the portal whose parsed closing is strictly
	// after now, or whose closing text is unparseable (conservatively live).
	GetLiveSkipSnapshot(ctx context.Context, portalName string, now time.Time) (map[string]string, error)

	// ReplaceRunTenders upserts rows for a run: invalid ids dropped,
	// in-batch duplicates collapsed keeping the last, existing rows replaced
	// in place with CreatedAt preserved and UpdatedAt bumped, run
	// association overwritten. Idempotent: re-applying the same batch
	// converges on the same store.
	ReplaceRunTenders(ctx context.Context, runID uint64, rows []models.Tender) (*models.ReplaceResult, error)

	// GetTender loads one tender by its normalized (portal, id) key,
	// returning nil without error when absent.
	GetTender(ctx context.Context, portalName, tenderID string) (*models.Tender, error)

	// CountTenders returns the number of persisted tenders for a portal;
	// empty portal counts all.
	CountTenders(ctx context.Context, portalName string) (int, error)

	// ListTendersByRun returns the tenders last written by a run
	ListTendersByRun(ctx context.Context, runID uint64) ([]*models.Tender, error)
}

// CheckpointStorage mirrors the on-disk checkpoint per portal
type CheckpointStorage interface {
	SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error
	GetCheckpoint(ctx context.Context, portalName string) (*models.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, portalName string) error
}

// BackupManager writes tiered datastore backups after completed runs
type BackupManager interface {
	// RunBackups writes the backup stream into each tier that has no copy
	// for the current day/week/month/year and prunes each tier to its
	// retention. Never fails the caller: errors are logged and swallowed.
	RunBackups(ctx context.Context) error
}

// StorageManager aggregates the datastore facets and owns the connection
type StorageManager interface {
	Runs() RunStorage
	Tenders() TenderStorage
	Checkpoints() CheckpointStorage
	Backups() BackupManager
	Close() error
}
