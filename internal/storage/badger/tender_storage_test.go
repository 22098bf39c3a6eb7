package badger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "badger-test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	return &BadgerDB{store: store}
}

func testTender(portal, id, closing string) models.Tender {
	tender := models.Tender{
		PortalName:        portal,
		TenderIDExtracted: id,
		TitleRef:          "Test tender " + id,
		ClosingAtText:     closing,
	}
	if t, ok := common.ParseClosingTime(closing); ok {
		tender.ClosingAtIST = &t
	}
	return tender
}

func TestReplaceRunTendersDedup(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	storage := NewTenderStorage(db, logger)
	ctx := context.Background()

	// 1. First run inserts two distinct tenders
	result, err := storage.ReplaceRunTenders(ctx, 1, []models.Tender{
		testTender("Haryana", "2024_HRY_001_1", "15-Jan-2099 3:00 PM"),
		testTender("Haryana", "2024_HRY_002_1", "20-Jan-2099 3:00 PM"),
	})
	if err != nil {
		t.Fatalf("Failed to replace run tenders: %v", err)
	}
	if result.Inserted != 2 {
		t.Errorf("Expected 2 inserted, got %d", result.Inserted)
	}
	if result.Updated != 0 {
		t.Errorf("Expected 0 updated, got %d", result.Updated)
	}

	// 2. Second run re-extracts one of them: must update in place, not append
	result, err = storage.ReplaceRunTenders(ctx, 2, []models.Tender{
		testTender("Haryana", "2024_HRY_001_1", "18-Jan-2099 3:00 PM"),
	})
	if err != nil {
		t.Fatalf("Failed to replace run tenders: %v", err)
	}
	if result.Inserted != 0 || result.Updated != 1 {
		t.Errorf("Expected 0 inserted / 1 updated, got %d / %d", result.Inserted, result.Updated)
	}

	count, err := storage.CountTenders(ctx, "Haryana")
	if err != nil {
		t.Fatalf("Failed to count tenders: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 tenders after re-extraction, got %d", count)
	}

	// 3. The updated row carries the new run id and the new closing text
	tender, err := storage.GetTender(ctx, "Haryana", "2024_HRY_001_1")
	if err != nil {
		t.Fatalf("Failed to get tender: %v", err)
	}
	if tender == nil {
		t.Fatal("Expected tender, got nil")
	}
	if tender.RunID != 2 {
		t.Errorf("Expected run id 2, got %d", tender.RunID)
	}
	if tender.ClosingAtText != "18-Jan-2099 3:00 PM" {
		t.Errorf("Expected updated closing text, got %q", tender.ClosingAtText)
	}
	if tender.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt preserved on update")
	}
	if !tender.UpdatedAt.After(tender.CreatedAt) {
		t.Error("Expected UpdatedAt after CreatedAt on update")
	}
}

func TestReplaceRunTendersIDVariants(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	storage := NewTenderStorage(db, logger)
	ctx := context.Background()

	// "2024_ABC 123" and "2024_abc-123" normalize to the same id and must
	// collapse onto one row, keeping the last occurrence of the batch.
	result, err := storage.ReplaceRunTenders(ctx, 1, []models.Tender{
		testTender("Haryana", "2024_ABC 123", "15-Jan-2099 3:00 PM"),
		testTender("Haryana", "2024_abc-123", "16-Jan-2099 3:00 PM"),
	})
	if err != nil {
		t.Fatalf("Failed to replace run tenders: %v", err)
	}
	if result.Inserted != 1 {
		t.Errorf("Expected 1 inserted after collapse, got %d", result.Inserted)
	}

	tender, err := storage.GetTender(ctx, "Haryana", "2024_ABC_123")
	if err != nil {
		t.Fatalf("Failed to get tender: %v", err)
	}
	if tender == nil {
		t.Fatal("Expected collapsed tender, got nil")
	}
	if tender.ClosingAtText != "16-Jan-2099 3:00 PM" {
		t.Errorf("Expected last occurrence to win, got closing %q", tender.ClosingAtText)
	}
}

func TestReplaceRunTendersInvalidIDs(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	storage := NewTenderStorage(db, logger)
	ctx := context.Background()

	rows := []models.Tender{
		testTender("Haryana", "", "15-Jan-2099 3:00 PM"),
		testTender("Haryana", "NA", "15-Jan-2099 3:00 PM"),
		testTender("Haryana", "--", "15-Jan-2099 3:00 PM"),
		testTender("Haryana", "2024_OK_001_1", "15-Jan-2099 3:00 PM"),
	}
	result, err := storage.ReplaceRunTenders(ctx, 1, rows)
	if err != nil {
		t.Fatalf("Failed to replace run tenders: %v", err)
	}
	if result.SkippedInvalid != 3 {
		t.Errorf("Expected 3 skipped invalid, got %d", result.SkippedInvalid)
	}
	if result.Inserted != 1 {
		t.Errorf("Expected 1 inserted, got %d", result.Inserted)
	}
}

func TestGetLiveSkipSnapshot(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	storage := NewTenderStorage(db, logger)
	ctx := context.Background()

	_, err := storage.ReplaceRunTenders(ctx, 1, []models.Tender{
		testTender("Haryana", "2024_LIVE_001_1", "15-Jan-2099 3:00 PM"),
		testTender("Haryana", "2024_DEAD_001_1", "15-Jan-2020 3:00 PM"),
		testTender("Haryana", "2024_ODD_001_1", "whenever the committee meets"),
		testTender("Punjab", "2024_PB_001_1", "15-Jan-2099 3:00 PM"),
	})
	if err != nil {
		t.Fatalf("Failed to seed tenders: %v", err)
	}

	snapshot, err := storage.GetLiveSkipSnapshot(ctx, "Haryana", time.Now())
	if err != nil {
		t.Fatalf("Failed to build skip snapshot: %v", err)
	}

	// Live tender present, expired tender absent, unparseable closing kept
	// as conservatively live, other portal excluded.
	if _, ok := snapshot["2024_LIVE_001_1"]; !ok {
		t.Error("Expected live tender in snapshot")
	}
	if _, ok := snapshot["2024_DEAD_001_1"]; ok {
		t.Error("Expected expired tender excluded from snapshot")
	}
	if _, ok := snapshot["2024_ODD_001_1"]; !ok {
		t.Error("Expected unparseable closing treated as live")
	}
	if _, ok := snapshot["2024_PB_001_1"]; ok {
		t.Error("Expected other portal's tender excluded")
	}

	if got := snapshot["2024_LIVE_001_1"]; got != common.NormalizeClosingText("15-Jan-2099 3:00 PM") {
		t.Errorf("Expected normalized closing text in snapshot, got %q", got)
	}
}

func TestGetTenderAbsent(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	storage := NewTenderStorage(db, logger)
	ctx := context.Background()

	tender, err := storage.GetTender(ctx, "Haryana", "2024_NOPE_001_1")
	if err != nil {
		t.Fatalf("Expected no error for absent tender, got %v", err)
	}
	if tender != nil {
		t.Errorf("Expected nil for absent tender, got %+v", tender)
	}
}

func TestListTendersByRun(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	storage := NewTenderStorage(db, logger)
	ctx := context.Background()

	_, err := storage.ReplaceRunTenders(ctx, 7, []models.Tender{
		testTender("Haryana", "2024_HRY_001_1", "15-Jan-2099 3:00 PM"),
		testTender("Haryana", "2024_HRY_002_1", "15-Jan-2099 3:00 PM"),
	})
	if err != nil {
		t.Fatalf("Failed to seed tenders: %v", err)
	}
	_, err = storage.ReplaceRunTenders(ctx, 8, []models.Tender{
		testTender("Haryana", "2024_HRY_002_1", "18-Jan-2099 3:00 PM"),
	})
	if err != nil {
		t.Fatalf("Failed to seed second run: %v", err)
	}

	tenders, err := storage.ListTendersByRun(ctx, 8)
	if err != nil {
		t.Fatalf("Failed to list run tenders: %v", err)
	}
	if len(tenders) != 1 {
		t.Fatalf("Expected 1 tender for run 8, got %d", len(tenders))
	}
	if tenders[0].TenderIDExtracted != "2024_HRY_002_1" {
		t.Errorf("Expected re-extracted tender, got %s", tenders[0].TenderIDExtracted)
	}
}
