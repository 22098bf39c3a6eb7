package models

import "time"

// Department is one row of a portal's organisation list. Departments exist
// only for the duration of a run and are never persisted as first-class
// entities.
type Department struct {
	SerialNo        string `json:"serial_no"`
	Name            string `json:"name"`
	NameNorm        string `json:"name_norm"` // trim + lowercase + inner-space collapse
	TenderCountText string `json:"tender_count_text"`
	TenderCount     int    `json:"tender_count"` // -1 when the count text did not parse
	DirectURL       string `json:"direct_url,omitempty"`
}

// DepartmentCount is the (name, count) pair kept in a run's department
// snapshot for quick-delta comparison on the next run.
type DepartmentCount struct {
	NameNorm    string `json:"name_norm"`
	TenderCount int    `json:"tender_count"`
}

// Department skip reasons recorded on DepartmentResult
const (
	DeptReasonOversized       = "oversized"
	DeptReasonCaptchaRequired = "captcha_required"
	DeptReasonUnchanged       = "unchanged_by_delta"
	DeptReasonCancelled       = "cancelled"
	DeptReasonOpenFailed      = "open_failed"
	DeptReasonWorkersLost     = "workers_lost"
)

// DepartmentResult summarizes one department extraction. Workers never raise
// recoverable errors to the orchestrator; the outcome is encoded here.
type DepartmentResult struct {
	Department      Department    `json:"department"`
	Expected        int           `json:"expected"`
	Extracted       int           `json:"extracted"`
	SkippedExisting int           `json:"skipped_existing"`
	SoftMiss        int           `json:"soft_miss"`
	ChangedIDs      []string      `json:"changed_ids,omitempty"` // normalized ids whose closing text differed from the skip snapshot
	Reason          string        `json:"reason,omitempty"`      // set when the department was skipped
	Duration        time.Duration `json:"duration"`
	Errors          []string      `json:"errors,omitempty"`
	WorkerID        int           `json:"worker_id"`
	Partial         bool          `json:"partial,omitempty"` // true when cancellation interrupted the department
}
