package audit

import (
	"time"

	"github.com/medicore/hms/internal/shared"
)

// Severity classifies an audit entry.
type Severity string

// Known severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Entry is one row of the audit trail. Entries are append-only.
type Entry struct {
	ID          int64          `json:"id"`
	OccurredAt  time.Time      `json:"occurred_at"`
	UserID      *int64         `json:"user_id,omitempty"`
	UserName    string         `json:"user_name,omitempty"`
	Action      string         `json:"action"`
	Module      string         `json:"module"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Meta        map[string]any `json:"meta,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	IP          string         `json:"ip,omitempty"`
}

// Filter narrows an audit search. Non-empty criteria are AND-ed together.
type Filter struct {
	Severity Severity
	Module   string
	Search   string
	Page     int
	PerPage  int
}

// Page is one page of search results, newest first.
type Page struct {
	Entries    []Entry           `json:"entries"`
	Pagination shared.Pagination `json:"pagination"`
}
