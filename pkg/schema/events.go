package schema

import (
	"encoding/json"
	"time"
)

// Event type constants for the form lifecycle log.
const (
	EventFormCreated           = "form_created"
	EventFormVersionCreated    = "form_version_created"
	EventFormVersionUpdated    = "form_version_updated"
	EventFormVersionActivated  = "form_version_activated"
	EventFormPublished         = "form_published"
	EventResponseSubmitted     = "response_submitted"
	EventResponseEdited        = "response_edited"
	EventResponseDeleted       = "response_deleted"
	EventWorkflowSaved         = "workflow_saved"
	EventTriggerWarning        = "trigger_warning"
	EventWorkflowMatched       = "workflow_matched"
	EventVisibilityCycleWarned = "visibility_cycle_warned"
)

// Event is one entry of the append-only lifecycle log.
type Event struct {
	ID         int64           `json:"id"`
	FormID     string          `json:"form_id"`
	ResponseID string          `json:"response_id,omitempty"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
