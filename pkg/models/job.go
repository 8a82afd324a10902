package models

import (
	"encoding/json"
	"time"
)

const (
	JobStatusStarted    = "started"
	JobStatusProcessing = "processing"
	JobStatusSuccess    = "success"
	JobStatusCompleted  = "completed"
	JobStatusError      = "error"
	JobStatusFailed     = "failed"
)

// Work types accepted by the dispatcher.
const (
	JobTypeTranslation  = "translation"
	JobTypeTagging      = "tagging"
	JobTypeReplication  = "replication"
	JobTypeCustomPrompt = "custom_prompt"
)

// terminalStatuses are the states a job can never leave.
var terminalStatuses = map[string]bool{
	JobStatusSuccess:   true,
	JobStatusCompleted: true,
	JobStatusError:     true,
	JobStatusFailed:    true,
}

// IsTerminalStatus reports whether a job status is final. Once a job reaches
// a terminal status the ledger refuses any further transition.
func IsTerminalStatus(status string) bool {
	return terminalStatuses[status]
}

// Job is one row of the job ledger: a single dispatched unit of external
// processing. RequestData holds a snapshot of the inbound payload, rewritten
// after insert to embed the assigned job id so the snapshot is
// self-describing. ResponseData stays empty until the job reaches a terminal
// status.
type Job struct {
	ID           int64           `db:"id"            json:"id"`
	PaperID      string          `db:"paper_id"      json:"paper_id"`
	UserID       string          `db:"user_id"       json:"user_id"`
	InputType    string          `db:"input_type"    json:"input_type"`
	RequestData  json.RawMessage `db:"request_data"  json:"request_data,omitempty"`
	ResponseData json.RawMessage `db:"response_data" json:"response_data,omitempty"`
	Status       string          `db:"status"        json:"status"`
	APIEndpoint  string          `db:"api_endpoint"  json:"api_endpoint"`
	ResponseTime *time.Time      `db:"response_time" json:"response_time,omitempty"`
	CreatedAt    time.Time       `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
}
