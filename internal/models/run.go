package models

import "time"

// RunStatus is the terminal-state field on a Run row
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run can no longer change state
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// ScopeMode selects the delta strategy for a run
type ScopeMode string

const (
	ScopeOnlyNew      ScopeMode = "only_new"
	ScopeFullRescrape ScopeMode = "full_rescrape"
)

// RunPhase is the orchestrator's lifecycle position. Phases are in-memory
// state; only RunStatus is persisted.
type RunPhase string

const (
	PhaseIdle                 RunPhase = "idle"
	PhasePreflight            RunPhase = "preflight"
	PhaseFetchingDepartments  RunPhase = "fetching_departments"
	PhaseComputingDelta       RunPhase = "computing_delta"
	PhaseScheduling           RunPhase = "scheduling"
	PhaseScraping             RunPhase = "scraping"
	PhaseFinalizing           RunPhase = "finalizing"
)

// RunCounters are the live progress counters of a run. All fields advance
// monotonically except on explicit reset.
type RunCounters struct {
	ExpectedTotalTenders    int `json:"expected_total_tenders"`
	ExtractedTotalTenders   int `json:"extracted_total_tenders"`
	SkippedExistingTotal    int `json:"skipped_existing_total"`
	ChangedClosingDateCount int `json:"changed_closing_date_count"`
	SoftMissTotal           int `json:"soft_miss_total"`
	OversizedDepartments    int `json:"oversized_departments"`
	ProcessedDepartments    int `json:"processed_departments"`
}

// AdvanceTo raises each counter to the larger of the two values. Progress
// writes can arrive out of order from concurrent flushes; counters never
// move backwards.
func (c *RunCounters) AdvanceTo(other RunCounters) {
	c.ExpectedTotalTenders = max(c.ExpectedTotalTenders, other.ExpectedTotalTenders)
	c.ExtractedTotalTenders = max(c.ExtractedTotalTenders, other.ExtractedTotalTenders)
	c.SkippedExistingTotal = max(c.SkippedExistingTotal, other.SkippedExistingTotal)
	c.ChangedClosingDateCount = max(c.ChangedClosingDateCount, other.ChangedClosingDateCount)
	c.SoftMissTotal = max(c.SoftMissTotal, other.SoftMissTotal)
	c.OversizedDepartments = max(c.OversizedDepartments, other.OversizedDepartments)
	c.ProcessedDepartments = max(c.ProcessedDepartments, other.ProcessedDepartments)
}

// Run is one scraping attempt of one portal
type Run struct {
	ID              uint64     `json:"id" badgerholdKey:"ID"`
	PortalName      string     `json:"portal_name" badgerhold:"index"`
	ScopeMode       ScopeMode  `json:"scope_mode"`
	Status          RunStatus  `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`

	Counters RunCounters `json:"counters"`

	// DepartmentSnapshot is the (name, count) list observed by this run; the
	// next run's quick delta compares against it.
	DepartmentSnapshot []DepartmentCount `json:"department_snapshot,omitempty"`

	OutputFilePath string `json:"output_file_path,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// RunSummary is the caller-facing result of RunPortal
type RunSummary struct {
	RunID              uint64             `json:"run_id"`
	PortalName         string             `json:"portal_name"`
	ScopeMode          ScopeMode          `json:"scope_mode"`
	Status             RunStatus          `json:"status"`
	StartedAt          time.Time          `json:"started_at"`
	Duration           time.Duration      `json:"duration"`
	Counters           RunCounters        `json:"counters"`
	DepartmentsVisited int                `json:"departments_visited"`
	DepartmentsSkipped int                `json:"departments_skipped"`
	SkippedDepartments []DepartmentResult `json:"skipped_departments,omitempty"`
	Inserted           int                `json:"inserted"`
	Updated            int                `json:"updated"`
	SkippedInvalid     int                `json:"skipped_invalid"`
	ErrorMessage       string             `json:"error_message,omitempty"`
}
