package utskick

import (
	"fmt"
	"strings"
)

// Status is the terminal state of a recipient record. An empty status means
// the record has not been processed yet and is eligible for selection.
type Status string

const (
	StatusPending Status = ""
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Record is one row in the campaign table, one email target.
type Record struct {
	Name      string `json:"name" db:"name"`
	Email     string `json:"email" db:"email"`
	SendCount int    `json:"email_count" db:"email_count"`
	Status    Status `json:"status" db:"status"`
	Reason    string `json:"reason" db:"reason"`
	SentDate  string `json:"sent_date" db:"sent_date"` // YYYY-MM-DD

	ValidationStatus string `json:"validation_status" db:"validation_status"`
	ValidationReason string `json:"validation_reason" db:"validation_reason"`

	SMTPStatus      string `json:"smtp_status" db:"smtp_status"`
	SMTPReason      string `json:"smtp_reason" db:"smtp_reason"`
	SMTPCheckedDate string `json:"smtp_check_date" db:"smtp_check_date"`
	MXRecords       int    `json:"mx_records" db:"mx_records"`

	ZBStatus    string `json:"zerobounce_status" db:"zerobounce_status"`
	ZBSubStatus string `json:"zerobounce_sub_status" db:"zerobounce_sub_status"`
}

func (r Record) Pending() bool {
	return strings.TrimSpace(string(r.Status)) == ""
}

func (r Record) Terminal() bool {
	return !r.Pending()
}

func (r Record) String() string {
	if len(r.Name) == 0 {
		return r.Email
	}
	return fmt.Sprintf("%s <%s>", r.Name, r.Email)
}

// Verdict classifies one address after a deliverability probe.
type Verdict string

const (
	VerdictValid   Verdict = "valid"
	VerdictInvalid Verdict = "invalid"
	VerdictUnknown Verdict = "unknown"
	VerdictSkipped Verdict = "skipped"
	VerdictError   Verdict = "error"
)

// ProbeResult is the outcome of probing a single address. It is produced per
// call and consumed by the caller, it is never stored as such.
type ProbeResult struct {
	Email   string  `json:"email"`
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason"`
}

// RecordError carries the failure reason for one record in a batch run.
type RecordError struct {
	Record string `json:"record"`
	Reason string `json:"reason"`
}

// Stats aggregates the outcome of one batch run.
type Stats struct {
	Attempted int           `json:"attempted"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Errors    []RecordError `json:"errors,omitempty"`
}

func (s *Stats) Fail(r Record, reason string) {
	s.Failed++
	s.Errors = append(s.Errors, RecordError{Record: r.String(), Reason: reason})
}
