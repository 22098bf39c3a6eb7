package models

import "time"

// EventSchemaVersion is stamped on every emitted event record
const EventSchemaVersion = 1

// EventType enumerates the bus event kinds
type EventType string

const (
	EventStart             EventType = "start"
	EventPortal            EventType = "portal"
	EventDepartmentsLoaded EventType = "departments_loaded"
	EventLog               EventType = "log"
	EventProgress          EventType = "progress"
	EventHeartbeat         EventType = "heartbeat"
	EventStatus            EventType = "status"
	EventComplete          EventType = "complete"
	EventCancelled         EventType = "cancelled"
	EventError             EventType = "error"
)

// Event is one record on the run event bus. Producers are workers, the
// orchestrator and the checkpoint saver; the single consumer fans out to
// sinks. Only the fields relevant to the Type are populated.
type Event struct {
	SchemaVersion int       `json:"schema_version"`
	Type          EventType `json:"type"`
	TS            time.Time `json:"ts"`
	RunID         uint64    `json:"run_id,omitempty"`
	Portal        string    `json:"portal,omitempty"`
	WorkerID      int       `json:"worker_id,omitempty"`

	// log
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`

	// progress
	Current    int    `json:"current,omitempty"`
	Total      int    `json:"total,omitempty"`
	Department string `json:"department,omitempty"`

	// heartbeat
	Task string `json:"task,omitempty"`

	// status
	Phase string `json:"phase,omitempty"`

	// complete
	Summary *RunSummary `json:"summary,omitempty"`

	// error
	ErrorKind   string `json:"error_kind,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// NewEvent stamps the schema version and timestamp on a bus event
func NewEvent(t EventType) Event {
	return Event{SchemaVersion: EventSchemaVersion, Type: t, TS: time.Now()}
}
