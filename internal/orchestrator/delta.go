package orchestrator

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/models"
)

// deltaPlan is the scheduling decision for one run: departments to visit,
// in portal order, and departments dismissed without a visit.
type deltaPlan struct {
	toProcess []models.Department
	skipped   []models.DepartmentResult
}

// computeDelta picks the departments worth visiting. In only-new mode a
// department whose (name, tender count) pair matches the last completed
// run's snapshot is presumed unchanged and skipped; a capped verification
// sweep still re-visits a rotating handful of them each run, catching
// same-count swaps the quick comparison cannot see. Full-rescrape mode and
// unparseable counts visit everything. Portal order is preserved.
func computeDelta(
	logger arbor.ILogger,
	scope models.ScopeMode,
	departments []models.Department,
	lastRun *models.Run,
	sweepCap int,
	runID uint64,
) *deltaPlan {
	plan := &deltaPlan{}

	if scope == models.ScopeFullRescrape || lastRun == nil || len(lastRun.DepartmentSnapshot) == 0 {
		plan.toProcess = departments
		return plan
	}

	previous := make(map[string]int, len(lastRun.DepartmentSnapshot))
	for _, dc := range lastRun.DepartmentSnapshot {
		previous[dc.NameNorm] = dc.TenderCount
	}

	unchanged := func(dept *models.Department) bool {
		prevCount, seen := previous[dept.NameNorm]
		return seen && dept.TenderCount >= 0 && dept.TenderCount == prevCount
	}

	var unchangedNames []string
	for i := range departments {
		if unchanged(&departments[i]) {
			unchangedNames = append(unchangedNames, departments[i].NameNorm)
		}
	}

	// Rotate the sweep start with the run id so successive runs verify
	// different unchanged departments.
	sweep := make(map[string]bool)
	if sweepCap > 0 && len(unchangedNames) > 0 {
		n := sweepCap
		if n > len(unchangedNames) {
			n = len(unchangedNames)
		}
		start := int(runID) % len(unchangedNames)
		for i := 0; i < n; i++ {
			sweep[unchangedNames[(start+i)%len(unchangedNames)]] = true
		}
	}

	for _, dept := range departments {
		if !unchanged(&dept) || sweep[dept.NameNorm] {
			plan.toProcess = append(plan.toProcess, dept)
			continue
		}
		plan.skipped = append(plan.skipped, models.DepartmentResult{
			Department: dept,
			Expected:   dept.TenderCount,
			Reason:     models.DeptReasonUnchanged,
		})
	}

	logger.Info().
		Int("departments", len(departments)).
		Int("to_process", len(plan.toProcess)).
		Int("unchanged_skipped", len(plan.skipped)).
		Int("verification_sweep", len(sweep)).
		Msg("Department delta computed")

	return plan
}

// filterProcessed drops departments a resumed run already finished
func filterProcessed(plan *deltaPlan, acc *Accumulator) *deltaPlan {
	filtered := &deltaPlan{skipped: plan.skipped}
	for _, dept := range plan.toProcess {
		if acc.IsProcessed(dept.NameNorm) {
			continue
		}
		filtered.toProcess = append(filtered.toProcess, dept)
	}
	return filtered
}
