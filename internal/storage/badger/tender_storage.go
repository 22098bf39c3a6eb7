package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/interfaces"
	"github.com/ternarybob/quaestor/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// upsertChunkSize bounds one write transaction; batches above it are split
// so a large run cannot hit the Badger transaction size ceiling.
const upsertChunkSize = 500

// TenderStorage implements the TenderStorage interface for Badger. Tender
// rows are keyed by the composite (portal_name_norm, tender_id_norm) key,
// which is what makes the upsert path a dedup rather than an append.
type TenderStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTenderStorage creates a new TenderStorage instance
func NewTenderStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TenderStorage {
	return &TenderStorage{
		db:     db,
		logger: logger,
	}
}

func (s *TenderStorage) GetLiveSkipSnapshot(ctx context.Context, portalName string, now time.Time) (map[string]string, error) {
	var tenders []models.Tender
	err := s.db.Store().Find(&tenders,
		badgerhold.Where("PortalNameNorm").Eq(common.NormalizePortalName(portalName)))
	if err != nil {
		return nil, fmt.Errorf("failed to load portal tenders for skip snapshot: %w", err)
	}

	snapshot := make(map[string]string, len(tenders))
	for i := range tenders {
		t := &tenders[i]
		// Unparseable closing dates stay in the snapshot: treating them as
		// expired would re-extract them on every run.
		if t.ClosingAtIST != nil && !t.ClosingAtIST.After(now) {
			continue
		}
		id := common.NormalizeTenderID(t.TenderIDExtracted)
		if id == "" {
			continue
		}
		snapshot[id] = common.NormalizeClosingText(t.ClosingAtText)
	}

	s.logger.Debug().
		Str("portal", portalName).
		Int("stored", len(tenders)).
		Int("live", len(snapshot)).
		Msg("Live skip snapshot built")

	return snapshot, nil
}

func (s *TenderStorage) ReplaceRunTenders(ctx context.Context, runID uint64, rows []models.Tender) (*models.ReplaceResult, error) {
	result := &models.ReplaceResult{}

	// Collapse the batch first: invalid ids are dropped, in-batch duplicates
	// keep the last occurrence.
	collapsed := make(map[string]*models.Tender, len(rows))
	for i := range rows {
		row := &rows[i]
		if common.IsInvalidTenderID(row.TenderIDExtracted) {
			result.SkippedInvalid++
			continue
		}
		key := common.TenderKey(row.PortalName, row.TenderIDExtracted)
		row.Key = key
		row.PortalNameNorm = common.NormalizePortalName(row.PortalName)
		collapsed[key] = row
	}

	keys := make([]string, 0, len(collapsed))
	for key := range collapsed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	now := time.Now()
	for start := 0; start < len(keys); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(keys) {
			end = len(keys)
		}

		err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
			for _, key := range keys[start:end] {
				row := collapsed[key]

				var existing models.Tender
				switch err := s.db.Store().TxGet(tx, key, &existing); err {
				case nil:
					row.CreatedAt = existing.CreatedAt
					result.Updated++
				case badgerhold.ErrNotFound:
					row.CreatedAt = now
					result.Inserted++
				default:
					return fmt.Errorf("failed to read tender %s: %w", key, err)
				}

				row.UpdatedAt = now
				row.RunID = runID

				if err := s.db.Store().TxUpsert(tx, key, row); err != nil {
					return fmt.Errorf("failed to upsert tender %s: %w", key, err)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (s *TenderStorage) GetTender(ctx context.Context, portalName, tenderID string) (*models.Tender, error) {
	key := common.TenderKey(portalName, tenderID)

	var tender models.Tender
	if err := s.db.Store().Get(key, &tender); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tender: %w", err)
	}
	return &tender, nil
}

func (s *TenderStorage) CountTenders(ctx context.Context, portalName string) (int, error) {
	var query *badgerhold.Query
	if portalName != "" {
		query = badgerhold.Where("PortalNameNorm").Eq(common.NormalizePortalName(portalName))
	}

	count, err := s.db.Store().Count(&models.Tender{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count tenders: %w", err)
	}
	return int(count), nil
}

func (s *TenderStorage) ListTendersByRun(ctx context.Context, runID uint64) ([]*models.Tender, error) {
	var tenders []models.Tender
	err := s.db.Store().Find(&tenders, badgerhold.Where("RunID").Eq(runID).SortBy("Key"))
	if err != nil {
		return nil, fmt.Errorf("failed to list run tenders: %w", err)
	}

	result := make([]*models.Tender, len(tenders))
	for i := range tenders {
		result[i] = &tenders[i]
	}
	return result, nil
}
