// Package engine runs form submissions through the evaluation pipeline and
// manages the version lifecycle of forms and their workflows.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/formflow/internal/expressions"
	"github.com/rendis/formflow/internal/logging"
	"github.com/rendis/formflow/internal/triggers"
	"github.com/rendis/formflow/internal/validation"
	"github.com/rendis/formflow/pkg/schema"
)

// SchemaProvider loads form versions. An empty label selects the active version.
type SchemaProvider interface {
	GetFormVersion(ctx context.Context, formID, label string) (*schema.FormVersion, error)
}

// WorkflowProvider lists the active workflows triggered by a form, in
// declaration order.
type WorkflowProvider interface {
	ListActiveWorkflows(ctx context.Context, formID string) ([]*schema.Workflow, error)
}

// FormLookup reports whether a form exists.
type FormLookup = triggers.FormLookup

// ResponseContext is what the pseudo-variable resolver knows about a response.
type ResponseContext struct {
	ResponseID  string
	FormID      string
	Submitter   string
	SubmittedAt time.Time
}

// PseudoVariableResolver produces the reserved variables every expression
// can read.
type PseudoVariableResolver interface {
	ResolvePseudoVariables(ctx context.Context, rc ResponseContext) (map[string]any, error)
}

// DefaultPseudoVariables binds the response context as-is, with
// submitted_at rendered as RFC 3339 UTC. A missing submitter is nil.
type DefaultPseudoVariables struct{}

// ResolvePseudoVariables implements PseudoVariableResolver.
func (DefaultPseudoVariables) ResolvePseudoVariables(_ context.Context, rc ResponseContext) (map[string]any, error) {
	vars := map[string]any{
		schema.PseudoResponseID:  rc.ResponseID,
		schema.PseudoFormID:      rc.FormID,
		schema.PseudoSubmittedAt: rc.SubmittedAt.UTC().Format(time.RFC3339),
		schema.PseudoSubmitter:   nil,
	}
	if rc.Submitter != "" {
		vars[schema.PseudoSubmitter] = rc.Submitter
	}
	return vars, nil
}

// FormStore persists forms and their versions. UpdateForm runs fn inside a
// read-modify-write transaction and persists the form fn leaves behind.
type FormStore interface {
	SchemaProvider
	FormLookup
	CreateForm(ctx context.Context, form *schema.Form) error
	GetForm(ctx context.Context, formID string) (*schema.Form, error)
	UpdateForm(ctx context.Context, formID string, fn func(*schema.Form) error) (*schema.Form, error)
}

// ResponseStore persists sanitized responses and their edit history.
type ResponseStore interface {
	CreateResponse(ctx context.Context, resp *schema.FormResponse) error
	GetResponse(ctx context.Context, responseID string) (*schema.FormResponse, error)
	// UpdateResponse stores resp and appends hist atomically.
	UpdateResponse(ctx context.Context, resp *schema.FormResponse, hist *schema.ResponseHistory) error
	SoftDeleteResponse(ctx context.Context, responseID string, at time.Time) error
	CountResponses(ctx context.Context, formID, label string) (int, error)
	ListResponses(ctx context.Context, filter schema.ResponseFilter) ([]*schema.FormResponse, error)
	ListResponseHistory(ctx context.Context, responseID string) ([]*schema.ResponseHistory, error)
}

// WorkflowStore persists workflow definitions.
type WorkflowStore interface {
	WorkflowProvider
	SaveWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, workflowID string) (*schema.Workflow, error)
}

// Deps wires the engine to its collaborators. Forms, Responses and
// Workflows are required; the rest default.
type Deps struct {
	Forms     FormStore
	Responses ResponseStore
	Workflows WorkflowStore
	Events    EventAppender
	Pseudo    PseudoVariableResolver
	Evaluator *expressions.Evaluator
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine is the entry point for form management and submissions.
type Engine struct {
	*Pipeline

	forms       FormStore
	responses   ResponseStore
	workflows   WorkflowStore
	pseudo      PseudoVariableResolver
	fsm         *FormFSM
	definitions *validation.DefinitionValidator
	triggers    *triggers.Resolver
	jq          *expressions.JQEngine
	logger      *slog.Logger
	now         func() time.Time
}

// New creates an Engine from deps.
func New(deps Deps) (*Engine, error) {
	if deps.Forms == nil || deps.Responses == nil || deps.Workflows == nil {
		return nil, errors.New("engine: form, response and workflow stores are required")
	}
	logger := logging.OrDefault(deps.Logger)
	eval := deps.Evaluator
	if eval == nil {
		eval = expressions.NewEvaluator(expressions.DefaultConfig(), logger)
	}
	jsv, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		Pipeline:    newPipeline(eval, jsv, logger),
		forms:       deps.Forms,
		responses:   deps.Responses,
		workflows:   deps.Workflows,
		pseudo:      deps.Pseudo,
		fsm:         NewFormFSM(deps.Events),
		definitions: validation.NewDefinitionValidator(eval, jsv),
		triggers:    triggers.NewResolver(eval, deps.Forms, logger),
		jq:          expressions.NewJQEngine(schema.PseudoVariables...),
		logger:      logger,
		now:         deps.Now,
	}
	if e.pseudo == nil {
		e.pseudo = DefaultPseudoVariables{}
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e, nil
}

// FSM exposes the lifecycle state machine for hook registration.
func (e *Engine) FSM() *FormFSM {
	return e.fsm
}

// record emits a lifecycle event for state that is already persisted.
// Failures are logged, never returned.
func (e *Engine) record(ctx context.Context, formID, responseID, eventType string, payload map[string]any) {
	if err := e.fsm.Record(ctx, formID, responseID, eventType, payload); err != nil {
		e.logger.WarnContext(ctx, "lifecycle event not recorded",
			slog.String("event", eventType),
			slog.String("error", err.Error()))
	}
}

func newID() string {
	return uuid.NewString()
}
