package models

import "time"

// Checkpoint is the durable partial snapshot of a run. It lives on disk as
// JSON (temp-file + rename) and as a datastore mirror row keyed by portal.
// Readers must ignore unknown fields so older binaries can load newer files.
type Checkpoint struct {
	PortalName                    string      `json:"portal_name"`
	RunID                         uint64      `json:"run_id"`
	SavedAtISO                    string      `json:"saved_at_iso"`
	ProcessedDepartmentNamesNorm  []string    `json:"processed_department_names_norm"`
	AllTenderDetails              []Tender    `json:"all_tender_details"`
	Counters                      RunCounters `json:"counters"`
}

// SavedAt parses the RFC3339 save timestamp, returning the zero time when
// the field is absent or malformed.
func (c *Checkpoint) SavedAt() time.Time {
	t, err := time.Parse(time.RFC3339, c.SavedAtISO)
	if err != nil {
		return time.Time{}
	}
	return t
}
