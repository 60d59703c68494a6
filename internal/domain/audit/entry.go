// Package audit describes access-log records kept per document.
package audit

import "time"

// Decision is the outcome recorded for an access attempt.
type Decision string

// Decisions.
const (
	Allowed Decision = "allowed"
	Denied  Decision = "denied"
	Errored Decision = "error"
)

// Entry is one access-log record.
type Entry struct {
	DocumentID string    `json:"document_id"`
	Principal  string    `json:"principal"`
	Action     string    `json:"action"`
	Decision   Decision  `json:"decision"`
	Version    int       `json:"version,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}
