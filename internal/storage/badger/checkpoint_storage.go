package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/interfaces"
	"github.com/ternarybob/quaestor/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CheckpointStorage keeps the datastore mirror of the per-portal checkpoint.
// The on-disk JSON file is the resume source of truth; this mirror survives
// the file being deleted out from under a crashed run.
type CheckpointStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCheckpointStorage creates a new CheckpointStorage instance
func NewCheckpointStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CheckpointStorage {
	return &CheckpointStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CheckpointStorage) SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	if cp.PortalName == "" {
		return fmt.Errorf("checkpoint portal name is required")
	}

	key := common.NormalizePortalName(cp.PortalName)
	if err := s.db.Store().Upsert(key, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *CheckpointStorage) GetCheckpoint(ctx context.Context, portalName string) (*models.Checkpoint, error) {
	key := common.NormalizePortalName(portalName)

	var cp models.Checkpoint
	if err := s.db.Store().Get(key, &cp); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *CheckpointStorage) DeleteCheckpoint(ctx context.Context, portalName string) error {
	key := common.NormalizePortalName(portalName)

	if err := s.db.Store().Delete(key, &models.Checkpoint{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
