package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/models"
)

// Accumulator is the shared in-memory state of one run. Workers feed it
// concurrently; the checkpoint saver drains it periodically. Tenders are
// keyed so a tender extracted twice in one run keeps only the latest
// observation, and changed closing dates count once per id per run no
// matter how many departments list the tender.
type Accumulator struct {
	mu sync.Mutex

	portalName string
	runID      uint64

	tenders map[string]models.Tender // key -> latest observation
	dirty   map[string]models.Tender // keys not yet flushed to the store

	changedIDs  map[string]bool
	changedBase int // changed count carried in from a resumed checkpoint

	processedDepts map[string]bool
	skippedDepts   []models.DepartmentResult

	expectedTotal   int
	extractedTotal  int
	skippedExisting int
	softMissTotal   int
	oversizedDepts  int

	replaceTotals models.ReplaceResult
	errorCount    int
}

// NewAccumulator creates the empty run state
func NewAccumulator(portalName string, runID uint64) *Accumulator {
	return &Accumulator{
		portalName:     portalName,
		runID:          runID,
		tenders:        make(map[string]models.Tender),
		dirty:          make(map[string]models.Tender),
		changedIDs:     make(map[string]bool),
		processedDepts: make(map[string]bool),
	}
}

// SeedFromCheckpoint loads a resumed run's partial state. Every restored
// tender is marked dirty so the first flush re-upserts it; the store write
// is idempotent, and re-writing closes any gap between the checkpoint file
// and what the crashed process managed to flush.
func (a *Accumulator) SeedFromCheckpoint(cp *models.Checkpoint) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range cp.AllTenderDetails {
		t := cp.AllTenderDetails[i]
		if t.Key == "" {
			t.Key = common.TenderKey(t.PortalName, t.TenderIDExtracted)
		}
		a.tenders[t.Key] = t
		a.dirty[t.Key] = t
	}
	for _, name := range cp.ProcessedDepartmentNamesNorm {
		a.processedDepts[name] = true
	}

	a.expectedTotal = cp.Counters.ExpectedTotalTenders
	a.extractedTotal = cp.Counters.ExtractedTotalTenders
	a.skippedExisting = cp.Counters.SkippedExistingTotal
	a.softMissTotal = cp.Counters.SoftMissTotal
	a.oversizedDepts = cp.Counters.OversizedDepartments
	a.changedBase = cp.Counters.ChangedClosingDateCount
}

// AddTender records one extracted tender, latest observation winning
func (a *Accumulator) AddTender(t *models.Tender) {
	if t.Key == "" {
		t.Key = common.TenderKey(t.PortalName, t.TenderIDExtracted)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.tenders[t.Key] = *t
	a.dirty[t.Key] = *t
}

// AbsorbResult folds a finished department into the run counters and marks
// the department processed. Partial results from a re-queued department
// must not be absorbed, or their counters would double once the department
// runs again.
func (a *Accumulator) AbsorbResult(result *models.DepartmentResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if result.Expected > 0 {
		a.expectedTotal += result.Expected
	}
	a.extractedTotal += result.Extracted
	a.skippedExisting += result.SkippedExisting
	a.softMissTotal += result.SoftMiss
	a.errorCount += len(result.Errors)

	for _, id := range result.ChangedIDs {
		a.changedIDs[id] = true
	}

	switch {
	case result.Reason == models.DeptReasonOversized:
		a.oversizedDepts++
		a.skippedDepts = append(a.skippedDepts, *result)
	case result.Reason != "" && result.Reason != models.DeptReasonCancelled:
		a.skippedDepts = append(a.skippedDepts, *result)
	case !result.Partial:
		a.processedDepts[result.Department.NameNorm] = true
	}
}

// RecordSkippedDepartment notes a department the delta dismissed without a
// visit.
func (a *Accumulator) RecordSkippedDepartment(result models.DepartmentResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.skippedDepts = append(a.skippedDepts, result)
}

// AddReplaceResult accumulates insert/update attribution from one flush
func (a *Accumulator) AddReplaceResult(res *models.ReplaceResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replaceTotals.Inserted += res.Inserted
	a.replaceTotals.Updated += res.Updated
	a.replaceTotals.SkippedInvalid += res.SkippedInvalid
}

// IsProcessed reports whether a department finished in this run already;
// resumed runs use it to drop completed departments from the plan.
func (a *Accumulator) IsProcessed(nameNorm string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.processedDepts[nameNorm]
}

// DrainDirty removes and returns the unflushed tenders. On flush failure
// the caller hands them back through RestoreDirty.
func (a *Accumulator) DrainDirty() map[string]models.Tender {
	a.mu.Lock()
	defer a.mu.Unlock()
	drained := a.dirty
	a.dirty = make(map[string]models.Tender)
	return drained
}

// RestoreDirty returns drained tenders after a failed flush. Keys
// re-dirtied in the meantime keep their newer value.
func (a *Accumulator) RestoreDirty(rows map[string]models.Tender) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, row := range rows {
		if _, exists := a.dirty[key]; !exists {
			a.dirty[key] = row
		}
	}
}

// Counters snapshots the run counters
func (a *Accumulator) Counters() models.RunCounters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.countersLocked()
}

func (a *Accumulator) countersLocked() models.RunCounters {
	return models.RunCounters{
		ExpectedTotalTenders:    a.expectedTotal,
		ExtractedTotalTenders:   a.extractedTotal,
		SkippedExistingTotal:    a.skippedExisting,
		ChangedClosingDateCount: a.changedBase + len(a.changedIDs),
		SoftMissTotal:           a.softMissTotal,
		OversizedDepartments:    a.oversizedDepts,
		ProcessedDepartments:    len(a.processedDepts),
	}
}

// BuildCheckpoint snapshots the full run state for the durable checkpoint
func (a *Accumulator) BuildCheckpoint() *models.Checkpoint {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := make([]string, 0, len(a.tenders))
	for key := range a.tenders {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	all := make([]models.Tender, 0, len(keys))
	for _, key := range keys {
		all = append(all, a.tenders[key])
	}

	processed := make([]string, 0, len(a.processedDepts))
	for name := range a.processedDepts {
		processed = append(processed, name)
	}
	sort.Strings(processed)

	return &models.Checkpoint{
		PortalName:                   a.portalName,
		RunID:                        a.runID,
		SavedAtISO:                   time.Now().Format(time.RFC3339),
		ProcessedDepartmentNamesNorm: processed,
		AllTenderDetails:             all,
		Counters:                     a.countersLocked(),
	}
}

// Summary assembles the caller-facing run summary
func (a *Accumulator) Summary(scope models.ScopeMode, status models.RunStatus, startedAt time.Time, errorMessage string) *models.RunSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	skipped := make([]models.DepartmentResult, len(a.skippedDepts))
	copy(skipped, a.skippedDepts)

	return &models.RunSummary{
		RunID:              a.runID,
		PortalName:         a.portalName,
		ScopeMode:          scope,
		Status:             status,
		StartedAt:          startedAt,
		Duration:           time.Since(startedAt),
		Counters:           a.countersLocked(),
		DepartmentsVisited: len(a.processedDepts),
		DepartmentsSkipped: len(skipped),
		SkippedDepartments: skipped,
		Inserted:           a.replaceTotals.Inserted,
		Updated:            a.replaceTotals.Updated,
		SkippedInvalid:     a.replaceTotals.SkippedInvalid,
		ErrorMessage:       errorMessage,
	}
}
