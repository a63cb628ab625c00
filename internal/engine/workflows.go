package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rendis/formflow/internal/logging"
	"github.com/rendis/formflow/pkg/schema"
)

// SaveWorkflow validates and stores a workflow definition. A missing
// trigger or target form is NOT_FOUND; definition errors fail with the
// *schema.ValidationReport. Warnings are returned alongside the saved
// workflow, which gets an id when it has none.
func (e *Engine) SaveWorkflow(ctx context.Context, wf *schema.Workflow) (*schema.Workflow, []schema.ValidationIssue, error) {
	if wf == nil {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "workflow is required")
	}
	out := cloneWorkflow(wf)
	if out.ID == "" {
		out.ID = newID()
	}
	ctx = logging.WithWorkflowID(logging.WithFormID(ctx, out.TriggerFormID), out.ID)

	var trigger *schema.FormVersion
	if out.TriggerFormID != "" {
		v, err := e.triggerVersion(ctx, out.TriggerFormID)
		if err != nil {
			return nil, nil, err
		}
		trigger = v
	}

	r := e.definitions.ValidateWorkflow(out, trigger)
	if !r.Valid() {
		return nil, nil, r
	}

	for i, a := range out.Actions {
		if !a.Type.NeedsTarget() {
			continue
		}
		exists, err := e.forms.FormExists(ctx, a.TargetFormID)
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			return nil, nil, schema.NewErrorf(schema.ErrCodeNotFound, "target form %q not found", a.TargetFormID).
				WithField(fmt.Sprintf("actions[%d].target_form_id", i))
		}
	}

	if err := e.workflows.SaveWorkflow(ctx, out); err != nil {
		return nil, nil, err
	}
	e.logger.InfoContext(ctx, "workflow saved", slog.Bool("active", out.IsActive), slog.Int("actions", len(out.Actions)))
	e.record(ctx, out.TriggerFormID, "", schema.EventWorkflowSaved, map[string]any{"workflow_id": out.ID, "active": out.IsActive})
	return out, r.Warnings, nil
}

// GetWorkflow returns a stored workflow.
func (e *Engine) GetWorkflow(ctx context.Context, workflowID string) (*schema.Workflow, error) {
	return e.workflows.GetWorkflow(ctx, workflowID)
}

// triggerVersion returns the active version of the trigger form, or nil when
// the form exists without one. Conditions are then only compiled.
func (e *Engine) triggerVersion(ctx context.Context, formID string) (*schema.FormVersion, error) {
	exists, err := e.forms.FormExists(ctx, formID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "trigger form %q not found", formID).WithField("trigger_form_id")
	}
	v, err := e.forms.GetFormVersion(ctx, formID, "")
	if schema.IsCode(err, schema.ErrCodeNotFound) {
		return nil, nil
	}
	return v, err
}

func cloneWorkflow(wf *schema.Workflow) *schema.Workflow {
	out := *wf
	out.Actions = make([]schema.WorkflowAction, len(wf.Actions))
	for i, a := range wf.Actions {
		if a.DataMapping != nil {
			m := make(map[string]string, len(a.DataMapping))
			for k, v := range a.DataMapping {
				m[k] = v
			}
			a.DataMapping = m
		}
		out.Actions[i] = a
	}
	return &out
}
