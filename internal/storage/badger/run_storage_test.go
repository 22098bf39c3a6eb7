package badger

import (
	"context"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/models"
)

func TestRunLifecycle(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	storage := NewRunStorage(db, logger)
	ctx := context.Background()

	// 1. Begin a run
	runID, err := storage.BeginRun(ctx, "Haryana", models.ScopeOnlyNew)
	if err != nil {
		t.Fatalf("Failed to begin run: %v", err)
	}
	if runID == 0 {
		t.Fatal("Expected non-zero run id")
	}

	run, err := storage.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if run.Status != models.RunStatusRunning {
		t.Errorf("Expected running status, got %s", run.Status)
	}
	if run.StartedAt.IsZero() {
		t.Error("Expected StartedAt set")
	}

	// 2. Progress counters advance monotonically
	if err := storage.UpdateRunProgress(ctx, runID, models.RunCounters{ExtractedTotalTenders: 10}); err != nil {
		t.Fatalf("Failed to update progress: %v", err)
	}
	if err := storage.UpdateRunProgress(ctx, runID, models.RunCounters{ExtractedTotalTenders: 5, SoftMissTotal: 2}); err != nil {
		t.Fatalf("Failed to update progress: %v", err)
	}

	run, err = storage.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if run.Counters.ExtractedTotalTenders != 10 {
		t.Errorf("Expected counter held at 10, got %d", run.Counters.ExtractedTotalTenders)
	}
	if run.Counters.SoftMissTotal != 2 {
		t.Errorf("Expected soft miss 2, got %d", run.Counters.SoftMissTotal)
	}

	// 3. Department snapshot round-trips
	snapshot := []models.DepartmentCount{
		{NameNorm: "public works", TenderCount: 12},
		{NameNorm: "irrigation", TenderCount: 3},
	}
	if err := storage.SetDepartmentSnapshot(ctx, runID, snapshot); err != nil {
		t.Fatalf("Failed to set snapshot: %v", err)
	}

	// 4. Finalize is terminal and idempotent
	if err := storage.FinalizeRun(ctx, runID, models.RunStatusCompleted, ""); err != nil {
		t.Fatalf("Failed to finalize run: %v", err)
	}
	if err := storage.FinalizeRun(ctx, runID, models.RunStatusFailed, "late failure"); err != nil {
		t.Fatalf("Second finalize should be a no-op, got %v", err)
	}

	run, err = storage.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if run.Status != models.RunStatusCompleted {
		t.Errorf("Expected first terminal status kept, got %s", run.Status)
	}
	if run.CompletedAt == nil {
		t.Error("Expected CompletedAt set")
	}
	if len(run.DepartmentSnapshot) != 2 {
		t.Errorf("Expected snapshot kept through finalize, got %d entries", len(run.DepartmentSnapshot))
	}
}

func TestGetLastCompletedRun(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	storage := NewRunStorage(db, logger)
	ctx := context.Background()

	// No history yet
	run, err := storage.GetLastCompletedRun(ctx, "Haryana")
	if err != nil {
		t.Fatalf("Failed to query empty history: %v", err)
	}
	if run != nil {
		t.Errorf("Expected nil with no history, got %+v", run)
	}

	first, err := storage.BeginRun(ctx, "Haryana", models.ScopeOnlyNew)
	if err != nil {
		t.Fatal(err)
	}
	if err := storage.FinalizeRun(ctx, first, models.RunStatusCompleted, ""); err != nil {
		t.Fatal(err)
	}

	second, err := storage.BeginRun(ctx, "Haryana", models.ScopeOnlyNew)
	if err != nil {
		t.Fatal(err)
	}
	if err := storage.FinalizeRun(ctx, second, models.RunStatusFailed, "browser died"); err != nil {
		t.Fatal(err)
	}

	// Other portal's completed run must not leak in
	other, err := storage.BeginRun(ctx, "Punjab", models.ScopeOnlyNew)
	if err != nil {
		t.Fatal(err)
	}
	if err := storage.FinalizeRun(ctx, other, models.RunStatusCompleted, ""); err != nil {
		t.Fatal(err)
	}

	run, err = storage.GetLastCompletedRun(ctx, "Haryana")
	if err != nil {
		t.Fatalf("Failed to get last completed run: %v", err)
	}
	if run == nil {
		t.Fatal("Expected a completed run")
	}
	if run.ID != first {
		t.Errorf("Expected run %d (failed runs excluded), got %d", first, run.ID)
	}

	runs, err := storage.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("Expected 3 runs listed, got %d", len(runs))
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	storage := NewCheckpointStorage(db, logger)
	ctx := context.Background()

	cp, err := storage.GetCheckpoint(ctx, "Haryana")
	if err != nil {
		t.Fatalf("Failed to query absent checkpoint: %v", err)
	}
	if cp != nil {
		t.Errorf("Expected nil for absent checkpoint, got %+v", cp)
	}

	saved := &models.Checkpoint{
		PortalName:                   "Haryana",
		RunID:                        3,
		SavedAtISO:                   "2026-01-10T09:30:00Z",
		ProcessedDepartmentNamesNorm: []string{"public works"},
		Counters:                     models.RunCounters{ExtractedTotalTenders: 42},
	}
	if err := storage.SaveCheckpoint(ctx, saved); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}

	cp, err = storage.GetCheckpoint(ctx, "haryana")
	if err != nil {
		t.Fatalf("Failed to get checkpoint: %v", err)
	}
	if cp == nil {
		t.Fatal("Expected checkpoint via case-insensitive portal key")
	}
	if cp.RunID != 3 {
		t.Errorf("Expected run id 3, got %d", cp.RunID)
	}
	if cp.Counters.ExtractedTotalTenders != 42 {
		t.Errorf("Expected counters kept, got %d", cp.Counters.ExtractedTotalTenders)
	}
	if cp.SavedAt().IsZero() {
		t.Error("Expected SavedAt to parse")
	}

	if err := storage.DeleteCheckpoint(ctx, "Haryana"); err != nil {
		t.Fatalf("Failed to delete checkpoint: %v", err)
	}
	if err := storage.DeleteCheckpoint(ctx, "Haryana"); err != nil {
		t.Fatalf("Second delete should be a no-op, got %v", err)
	}

	cp, err = storage.GetCheckpoint(ctx, "Haryana")
	if err != nil {
		t.Fatal(err)
	}
	if cp != nil {
		t.Error("Expected checkpoint gone after delete")
	}
}
