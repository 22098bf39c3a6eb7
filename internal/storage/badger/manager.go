package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db          *BadgerDB
	runs        interfaces.RunStorage
	tenders     interfaces.TenderStorage
	checkpoints interfaces.CheckpointStorage
	backups     interfaces.BackupManager
	logger      arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, storage *common.StorageConfig, backup *common.BackupConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, storage)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:          db,
		runs:        NewRunStorage(db, logger),
		tenders:     NewTenderStorage(db, logger),
		checkpoints: NewCheckpointStorage(db, logger),
		backups:     NewBackupManager(db, backup, logger),
		logger:      logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// Runs returns the Run storage interface
func (m *Manager) Runs() interfaces.RunStorage {
	return m.runs
}

// Tenders returns the Tender storage interface
func (m *Manager) Tenders() interfaces.TenderStorage {
	return m.tenders
}

// Checkpoints returns the Checkpoint storage interface
func (m *Manager) Checkpoints() interfaces.CheckpointStorage {
	return m.checkpoints
}

// Backups returns the backup manager
func (m *Manager) Backups() interfaces.BackupManager {
	return m.backups
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
