package schema

import (
	"encoding/json"
	"time"
)

// Pseudo-variable names every expression can reference.
const (
	PseudoResponseID  = "response_id"
	PseudoFormID      = "form_id"
	PseudoSubmittedAt = "submitted_at"
	PseudoSubmitter   = "submitter"
)

// PseudoVariables lists the reserved pseudo-variable names.
var PseudoVariables = []string{PseudoResponseID, PseudoFormID, PseudoSubmittedAt, PseudoSubmitter}

// IsPseudoVariable reports whether name is reserved for a pseudo-variable.
func IsPseudoVariable(name string) bool {
	for _, p := range PseudoVariables {
		if p == name {
			return true
		}
	}
	return false
}

// FormResponse is a persisted, sanitized submission bound to one version.
type FormResponse struct {
	ID           string     `json:"id"`
	FormID       string     `json:"form_id"`
	VersionLabel string     `json:"version_label"`
	Answers      AnswerTree `json:"answers"`
	Submitter    string     `json:"submitter,omitempty"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the response was soft-deleted.
func (r *FormResponse) Deleted() bool {
	return r.DeletedAt != nil
}

// ResponseHistory is an append-only record of one edit to a response.
type ResponseHistory struct {
	ID         string          `json:"id"`
	ResponseID string          `json:"response_id"`
	Editor     string          `json:"editor,omitempty"`
	Before     json.RawMessage `json:"before"`
	After      json.RawMessage `json:"after"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ResponseFilter narrows a response listing. Zero fields match everything.
type ResponseFilter struct {
	FormID         string
	VersionLabel   string
	Submitter      string
	IncludeDeleted bool
	Limit          int
}
