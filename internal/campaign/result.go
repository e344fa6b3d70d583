package campaign

import (
	"time"

	"github.com/shineum/mail-dispatch/internal/metrics"
	"github.com/shineum/mail-dispatch/internal/relay"
)

// State is the lifecycle position of a campaign run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateCancelled State = "cancelled"
)

// Status is the outcome for one recipient.
type Status string

const (
	StatusSent         Status = "sent"
	StatusFailed       Status = "failed"
	StatusSkipped      Status = "skipped"
	StatusNotAttempted Status = "not_attempted"
)

// Error stages recorded in Result.Errors.
const (
	StageValidate = "validate"
	StageRender   = "render"
	StageSend     = "send"
)

// DispatchResult is the outcome for one recipient.
type DispatchResult struct {
	Index    int    `json:"index"`
	Email    string `json:"email,omitempty"`
	Status   Status `json:"status"`
	Relay    string `json:"relay,omitempty"`
	Response string `json:"response,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ErrorEntry records a non-fatal failure for one recipient.
type ErrorEntry struct {
	Index   int    `json:"index"`
	Email   string `json:"email,omitempty"`
	Stage   string `json:"stage"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

// Result is the aggregate outcome of a campaign run. Results are kept in
// recipient input order.
type Result struct {
	ID           string                  `json:"id"`
	State        State                   `json:"state"`
	Total        int                     `json:"total"`
	Sent         int                     `json:"sent"`
	Failed       int                     `json:"failed"`
	Skipped      int                     `json:"skipped"`
	NotAttempted int                     `json:"not_attempted"`
	PerRelay     map[string]int          `json:"per_relay"`
	Relays       map[string]relay.Health `json:"relays,omitempty"`
	Errors       []ErrorEntry            `json:"errors,omitempty"`
	Results      []DispatchResult        `json:"results"`
	StartedAt    time.Time               `json:"started_at"`
	FinishedAt   time.Time               `json:"finished_at"`
}

func (r *Result) record(dr DispatchResult) {
	switch dr.Status {
	case StatusSent:
		r.Sent++
		r.PerRelay[dr.Relay]++
	case StatusFailed:
		r.Failed++
	case StatusSkipped:
		r.Skipped++
	case StatusNotAttempted:
		r.NotAttempted++
	}
	r.Results = append(r.Results, dr)
	metrics.CampaignRecipients.WithLabelValues(string(dr.Status)).Inc()
}

func (r *Result) addError(index int, addr, stage string, err error) {
	r.Errors = append(r.Errors, ErrorEntry{
		Index:   index,
		Email:   addr,
		Stage:   stage,
		Message: err.Error(),
		Err:     err,
	})
}
