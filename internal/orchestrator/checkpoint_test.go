package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/models"
)

// saverHarness wires a checkpoint saver over the package fakes
type saverHarness struct {
	config  *common.Config
	storage *testStorage
	acc     *Accumulator
	saver   *CheckpointSaver
}

func newSaverHarness(t *testing.T) *saverHarness {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Scraper.CheckpointDir = t.TempDir()

	storage := newTestStorage()
	storage.runs[7] = &models.Run{ID: 7, PortalName: "Haryana", Status: models.RunStatusRunning}

	acc := NewAccumulator("Haryana", 7)
	saver := NewCheckpointSaver(&config.Scraper, arbor.NewLogger(), storage, &testBus{}, acc, "Haryana", 7)

	return &saverHarness{config: config, storage: storage, acc: acc, saver: saver}
}

func (h *saverHarness) path() string {
	return CheckpointPath(&h.config.Scraper, "Haryana")
}

func (h *saverHarness) readFile(t *testing.T) *models.Checkpoint {
	t.Helper()
	data, err := os.ReadFile(h.path())
	if err != nil {
		t.Fatal(err)
	}
	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		t.Fatal(err)
	}
	return &cp
}

func TestCheckpointFlushWritesFileAndMirror(t *testing.T) {
	h := newSaverHarness(t)
	h.acc.AddTender(newTender("Haryana", "2025_PWD_1_1", "road work"))

	if err := h.saver.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	cp := h.readFile(t)
	if cp.RunID != 7 || cp.PortalName != "Haryana" {
		t.Errorf("checkpoint identity = %q/%d", cp.PortalName, cp.RunID)
	}
	if len(cp.AllTenderDetails) != 1 {
		t.Fatalf("AllTenderDetails = %d, want 1", len(cp.AllTenderDetails))
	}
	if cp.SavedAtISO == "" {
		t.Error("SavedAtISO empty")
	}

	mirror, err := h.storage.GetCheckpoint(context.Background(), "Haryana")
	if err != nil || mirror == nil {
		t.Fatalf("mirror = %v, %v", mirror, err)
	}

	if got := h.storage.tenderCount(); got != 1 {
		t.Errorf("flushed tenders = %d, want 1", got)
	}
	run, _ := h.storage.GetRun(context.Background(), 7)
	if run.Counters.ExtractedTotalTenders != 1 {
		t.Errorf("run progress = %+v, want extracted advanced", run.Counters)
	}

	summary := h.acc.Summary(models.ScopeOnlyNew, models.RunStatusCompleted, time.Now(), "")
	if summary.Inserted != 1 {
		t.Errorf("Inserted = %d, want the replace result attributed", summary.Inserted)
	}
}

func TestCheckpointFlushFailureKeepsDirtyRows(t *testing.T) {
	h := newSaverHarness(t)
	h.acc.AddTender(newTender("Haryana", "2025_PWD_1_1", "road work"))
	h.storage.replaceErr = errors.New("disk full")

	if err := h.saver.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if _, err := os.Stat(h.path()); !os.IsNotExist(err) {
		t.Error("checkpoint file written despite failed tender flush")
	}

	// The drained rows went back; the next flush carries them through.
	h.storage.replaceErr = nil
	if err := h.saver.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := h.storage.tenderCount(); got != 1 {
		t.Errorf("flushed tenders = %d, want the restored row persisted", got)
	}
}

func TestCheckpointFileReplacedAtomically(t *testing.T) {
	h := newSaverHarness(t)

	h.acc.AddTender(newTender("Haryana", "2025_PWD_1_1", "road work"))
	if err := h.saver.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.acc.AddTender(newTender("Haryana", "2025_PWD_2_1", "bridge work"))
	if err := h.saver.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	if cp := h.readFile(t); len(cp.AllTenderDetails) != 2 {
		t.Errorf("AllTenderDetails = %d, want the newer snapshot", len(cp.AllTenderDetails))
	}

	leftovers, err := filepath.Glob(filepath.Join(h.config.Scraper.CheckpointDir, ".checkpoint-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestLoadCheckpointPrefersFileOverMirror(t *testing.T) {
	h := newSaverHarness(t)
	logger := arbor.NewLogger()

	h.acc.AddTender(newTender("Haryana", "2025_PWD_1_1", "road work"))
	if err := h.saver.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	cp := LoadCheckpoint(context.Background(), &h.config.Scraper, h.storage, logger, "Haryana")
	if cp == nil || cp.RunID != 7 {
		t.Fatalf("cp = %+v", cp)
	}

	// A corrupt file falls back to the datastore mirror.
	if err := os.WriteFile(h.path(), []byte("{torn write"), 0644); err != nil {
		t.Fatal(err)
	}
	cp = LoadCheckpoint(context.Background(), &h.config.Scraper, h.storage, logger, "Haryana")
	if cp == nil || cp.RunID != 7 {
		t.Fatalf("mirror fallback cp = %+v", cp)
	}

	// Neither file nor mirror: no checkpoint.
	if err := os.Remove(h.path()); err != nil {
		t.Fatal(err)
	}
	if err := h.storage.DeleteCheckpoint(context.Background(), "Haryana"); err != nil {
		t.Fatal(err)
	}
	if cp = LoadCheckpoint(context.Background(), &h.config.Scraper, h.storage, logger, "Haryana"); cp != nil {
		t.Fatalf("cp = %+v, want nil", cp)
	}
}

func TestLoadCheckpointIgnoresZeroRunIDFile(t *testing.T) {
	h := newSaverHarness(t)

	data, err := json.Marshal(&models.Checkpoint{PortalName: "Haryana"})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(h.path(), data, 0644); err != nil {
		t.Fatal(err)
	}

	cp := LoadCheckpoint(context.Background(), &h.config.Scraper, h.storage, arbor.NewLogger(), "Haryana")
	if cp != nil {
		t.Fatalf("cp = %+v, want a zero run id treated as no checkpoint", cp)
	}
}

func TestDiscardCheckpointRemovesFileAndMirror(t *testing.T) {
	h := newSaverHarness(t)

	h.acc.AddTender(newTender("Haryana", "2025_PWD_1_1", "road work"))
	if err := h.saver.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	DiscardCheckpoint(context.Background(), &h.config.Scraper, h.storage, arbor.NewLogger(), "Haryana")

	if _, err := os.Stat(h.path()); !os.IsNotExist(err) {
		t.Error("checkpoint file still present")
	}
	mirror, err := h.storage.GetCheckpoint(context.Background(), "Haryana")
	if err != nil {
		t.Fatal(err)
	}
	if mirror != nil {
		t.Error("checkpoint mirror still present")
	}
}

func TestCheckpointSaverPeriodicFlush(t *testing.T) {
	h := newSaverHarness(t)
	h.config.Scraper.CheckpointIntervalSeconds = 1
	h.acc.AddTender(newTender("Haryana", "2025_PWD_1_1", "road work"))

	h.saver.Start(context.Background())
	defer h.saver.Stop()

	waitFor(t, "periodic checkpoint flush", func() bool {
		_, err := os.Stat(h.path())
		return err == nil
	})
}

func TestCheckpointSaverStopBeforeFirstTick(t *testing.T) {
	h := newSaverHarness(t)
	h.config.Scraper.CheckpointIntervalSeconds = 3600

	h.saver.Start(context.Background())
	h.saver.Stop()

	if _, err := os.Stat(h.path()); !os.IsNotExist(err) {
		t.Error("no flush should have happened before the first tick")
	}
}
