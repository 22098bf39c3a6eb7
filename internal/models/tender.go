package models

import "time"

// TenderLifecycleStatus is reserved for future lifecycle tracking. It is
// never the sole basis for live/expired decisions; liveness derives from the
// parsed closing date (see storage.GetLiveSkipSnapshot).
type TenderLifecycleStatus string

const (
	TenderActive    TenderLifecycleStatus = "active"
	TenderCancelled TenderLifecycleStatus = "cancelled"
	TenderArchived  TenderLifecycleStatus = "archived"
)

// TenderRow is one row of a department's tender list page: the ordered id
// set plus the list-page fields needed for delta decisions before any detail
// page is fetched.
type TenderRow struct {
	SerialNo      string `json:"serial_no"`
	TenderID      string `json:"tender_id"`      // canonical id, bracketed title token preferred
	TenderIDRaw   string `json:"tender_id_raw"`  // displayed id column, as-is
	TitleCell     string `json:"title_cell"`     // full title cell text
	ClosingAtText string `json:"closing_at_text"`
	DetailURL     string `json:"detail_url,omitempty"`
}

// Tender is the persisted entity. Identity is
// (portal_name_norm, tender_id_norm); Key carries the composite and doubles
// as the store key, giving the unique index of the dedup contract.
type Tender struct {
	// Identity
	Key               string `json:"key"`
	PortalName        string `json:"portal_name"`
	PortalNameNorm    string `json:"portal_name_norm" badgerhold:"index"`
	TenderIDRaw       string `json:"tender_id_raw"`
	TenderIDExtracted string `json:"tender_id_extracted"`
	SerialNo          string `json:"serial_no,omitempty"`

	// Extracted fields
	DepartmentName     string                `json:"department_name"`
	TitleRef           string                `json:"title_ref"`
	OrganisationChain  string                `json:"organisation_chain"`
	PublishedAtText    string                `json:"published_at_text"`
	ClosingAtText      string                `json:"closing_at_text"`
	OpeningAtText      string                `json:"opening_at_text"`
	ClosingAtIST       *time.Time            `json:"closing_at_ist,omitempty"`
	EMDAmountText      string                `json:"emd_amount_text"`
	EMDAmountNumeric   *float64              `json:"emd_amount_numeric,omitempty"`
	TenderValueText    string                `json:"tender_value_text"`
	TenderValueNumeric *float64              `json:"tender_value_numeric,omitempty"`
	Location           string                `json:"location"`
	ContractType       string                `json:"contract_type"`
	InvitingOfficer    string                `json:"inviting_officer"`
	WorkDescription    string                `json:"work_description"`
	DirectURL          string                `json:"direct_url"`
	StatusURL          string                `json:"status_url"`
	LifecycleStatus    TenderLifecycleStatus `json:"lifecycle_status"`

	// Forensics
	RawJSON        []byte `json:"raw_json,omitempty"`
	DetailMarkdown string `json:"detail_markdown,omitempty"`

	// Bookkeeping
	RunID     uint64    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReplaceResult reports the outcome of a ReplaceRunTenders batch
type ReplaceResult struct {
	Inserted       int `json:"inserted"`
	Updated        int `json:"updated"`
	SkippedInvalid int `json:"skipped_invalid"`
}
