package audit

import (
	"time"

	"whisperd/internal/services"
)

// Outcome is the result recorded for a request.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Entry is one ledger row.
type Entry struct {
	ID        int64         `json:"id"`
	RunID     string        `json:"run_id"`
	RequestID string        `json:"request_id"`
	Action    string        `json:"action"`
	Host      string        `json:"host,omitempty"`
	Outcome   Outcome       `json:"outcome"`
	ErrorKind services.Kind `json:"error_kind,omitempty"`
	Message   string        `json:"message,omitempty"`
	Security  bool          `json:"security"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Filter narrows List results.
type Filter struct {
	SecurityOnly bool
	FailuresOnly bool
	// Limit caps the number of rows. Zero means defaultListLimit.
	Limit int
}

// Stats summarizes the ledger.
type Stats struct {
	Total    int64 `json:"total"`
	Failed   int64 `json:"failed"`
	Security int64 `json:"security"`
}
