// Package store is the libSQL persistence adapter for forms, versions,
// responses, their edit history, workflows and the lifecycle event log.
package store

import (
	"context"
	"time"

	"github.com/rendis/formflow/internal/engine"
	"github.com/rendis/formflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Forms and versions
	CreateForm(ctx context.Context, form *schema.Form) error
	GetForm(ctx context.Context, formID string) (*schema.Form, error)
	UpdateForm(ctx context.Context, formID string, fn func(*schema.Form) error) (*schema.Form, error)
	ListForms(ctx context.Context, filter FormFilter) ([]*schema.Form, error)
	GetFormVersion(ctx context.Context, formID, label string) (*schema.FormVersion, error)
	FormExists(ctx context.Context, formID string) (bool, error)

	// Responses (soft delete) and their append-only history
	CreateResponse(ctx context.Context, resp *schema.FormResponse) error
	GetResponse(ctx context.Context, responseID string) (*schema.FormResponse, error)
	UpdateResponse(ctx context.Context, resp *schema.FormResponse, hist *schema.ResponseHistory) error
	SoftDeleteResponse(ctx context.Context, responseID string, at time.Time) error
	CountResponses(ctx context.Context, formID, label string) (int, error)
	ListResponses(ctx context.Context, filter schema.ResponseFilter) ([]*schema.FormResponse, error)
	ListResponseHistory(ctx context.Context, responseID string) ([]*schema.ResponseHistory, error)

	// Workflows
	SaveWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, workflowID string) (*schema.Workflow, error)
	ListActiveWorkflows(ctx context.Context, formID string) ([]*schema.Workflow, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

// FormFilter narrows a form listing.
type FormFilter struct {
	Status schema.FormStatus
	Limit  int
}

// EventFilter narrows an event log read. AfterID pages through the log.
type EventFilter struct {
	FormID     string
	ResponseID string
	Type       string
	AfterID    int64
	Limit      int
}

var (
	_ Store                = (*LibSQLStore)(nil)
	_ engine.FormStore     = (*LibSQLStore)(nil)
	_ engine.ResponseStore = (*LibSQLStore)(nil)
	_ engine.WorkflowStore = (*LibSQLStore)(nil)
	_ engine.EventAppender = (*EventLog)(nil)
)
