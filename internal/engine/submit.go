package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rendis/formflow/internal/logging"
	"github.com/rendis/formflow/internal/visibility"
	"github.com/rendis/formflow/pkg/schema"
)

// SubmitRequest is a raw submission. An empty VersionLabel binds the
// response to the form's active version.
type SubmitRequest struct {
	FormID       string            `json:"form_id"`
	VersionLabel string            `json:"version_label,omitempty"`
	Answers      schema.AnswerTree `json:"answers"`
	Submitter    string            `json:"submitter,omitempty"`
}

// EditRequest replaces the answers of an existing response.
type EditRequest struct {
	ResponseID string            `json:"response_id"`
	Answers    schema.AnswerTree `json:"answers"`
	Editor     string            `json:"editor,omitempty"`
}

// Submission is the result of an accepted submission or edit.
type Submission struct {
	Response        *schema.FormResponse      `json:"response"`
	Visibility      *visibility.VisibilitySet `json:"visibility"`
	Warnings        []schema.ValidationIssue  `json:"warnings,omitempty"`
	Matched         []schema.MatchedWorkflow  `json:"matched_workflows"`
	TriggerWarnings []schema.TriggerWarning   `json:"trigger_warnings,omitempty"`
}

// Submit validates and stores a submission, then resolves the workflows it
// triggers. A validation failure returns the *schema.ValidationReport as the
// error and stores nothing. Trigger problems never fail a submission.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	ctx = logging.WithFormID(ctx, req.FormID)

	version, err := e.forms.GetFormVersion(ctx, req.FormID, req.VersionLabel)
	if err != nil {
		return nil, err
	}

	now := e.now()
	resp := &schema.FormResponse{
		ID:           newID(),
		FormID:       req.FormID,
		VersionLabel: version.Label,
		Submitter:    req.Submitter,
		SubmittedAt:  now,
		UpdatedAt:    now,
	}
	ctx = logging.WithResponseID(ctx, resp.ID)

	pseudo, err := e.resolvePseudo(ctx, resp)
	if err != nil {
		return nil, err
	}
	ev := e.Run(ctx, version, req.Answers, pseudo)
	if !ev.Valid() {
		return nil, ev.Report
	}

	resp.Answers = ev.Answers
	if err := e.responses.CreateResponse(ctx, resp); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "response submitted", slog.String("version", resp.VersionLabel))
	e.record(ctx, resp.FormID, resp.ID, schema.EventResponseSubmitted, map[string]any{"version": resp.VersionLabel})
	if ev.Visibility != nil {
		for _, w := range ev.Visibility.Warnings {
			if w.Code == schema.ErrCodeCycleDetected {
				e.record(ctx, resp.FormID, resp.ID, schema.EventVisibilityCycleWarned, map[string]any{
					"version": resp.VersionLabel, "message": w.Message,
				})
			}
		}
	}

	sub := &Submission{Response: resp, Visibility: ev.Visibility, Warnings: ev.Report.Warnings}
	sub.Matched, sub.TriggerWarnings = e.fire(ctx, resp, pseudo)
	return sub, nil
}

// EditResponse re-runs the pipeline against the response's bound version,
// updates the response in place and appends a history record. Edits do not
// re-trigger workflows.
func (e *Engine) EditResponse(ctx context.Context, req EditRequest) (*Submission, error) {
	ctx = logging.WithResponseID(ctx, req.ResponseID)

	resp, err := e.liveResponse(ctx, req.ResponseID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithFormID(ctx, resp.FormID)

	version, err := e.forms.GetFormVersion(ctx, resp.FormID, resp.VersionLabel)
	if err != nil {
		return nil, err
	}
	pseudo, err := e.resolvePseudo(ctx, resp)
	if err != nil {
		return nil, err
	}
	ev := e.Run(ctx, version, req.Answers, pseudo)
	if !ev.Valid() {
		return nil, ev.Report
	}

	before, err := json.Marshal(resp.Answers)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "encode previous answers: %s", err.Error()).WithCause(err)
	}
	after, err := json.Marshal(ev.Answers)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "encode answers: %s", err.Error()).WithCause(err)
	}

	now := e.now()
	updated := *resp
	updated.Answers = ev.Answers
	updated.UpdatedAt = now
	hist := &schema.ResponseHistory{
		ID:         newID(),
		ResponseID: resp.ID,
		Editor:     req.Editor,
		Before:     before,
		After:      after,
		CreatedAt:  now,
	}
	if err := e.responses.UpdateResponse(ctx, &updated, hist); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "response edited", slog.String("editor", req.Editor))
	e.record(ctx, resp.FormID, resp.ID, schema.EventResponseEdited, map[string]any{"history_id": hist.ID})

	return &Submission{Response: &updated, Visibility: ev.Visibility, Warnings: ev.Report.Warnings}, nil
}

// DeleteResponse soft-deletes a response. Its history is kept.
func (e *Engine) DeleteResponse(ctx context.Context, responseID string) error {
	ctx = logging.WithResponseID(ctx, responseID)
	resp, err := e.liveResponse(ctx, responseID)
	if err != nil {
		return err
	}
	if err := e.responses.SoftDeleteResponse(ctx, responseID, e.now()); err != nil {
		return err
	}
	e.record(ctx, resp.FormID, responseID, schema.EventResponseDeleted, nil)
	return nil
}

// ResponseHistory returns the edit history of a response, oldest first.
func (e *Engine) ResponseHistory(ctx context.Context, responseID string) ([]*schema.ResponseHistory, error) {
	return e.responses.ListResponseHistory(ctx, responseID)
}

func (e *Engine) liveResponse(ctx context.Context, responseID string) (*schema.FormResponse, error) {
	resp, err := e.responses.GetResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if resp.Deleted() {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "response %q was deleted", responseID)
	}
	return resp, nil
}

func (e *Engine) resolvePseudo(ctx context.Context, resp *schema.FormResponse) (map[string]any, error) {
	pseudo, err := e.pseudo.ResolvePseudoVariables(ctx, ResponseContext{
		ResponseID:  resp.ID,
		FormID:      resp.FormID,
		Submitter:   resp.Submitter,
		SubmittedAt: resp.SubmittedAt,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "resolve pseudo-variables: %s", err.Error()).WithCause(err)
	}
	return pseudo, nil
}

// fire resolves the workflows a stored response triggers. Every problem is
// a warning.
func (e *Engine) fire(ctx context.Context, resp *schema.FormResponse, pseudo map[string]any) ([]schema.MatchedWorkflow, []schema.TriggerWarning) {
	workflows, err := e.workflows.ListActiveWorkflows(ctx, resp.FormID)
	if err != nil {
		e.logger.WarnContext(ctx, "workflow lookup failed", slog.String("error", err.Error()))
		w := schema.TriggerWarning{Action: -1, Code: schema.ErrCodeTriggerWarning, Message: "workflow lookup failed"}
		e.record(ctx, resp.FormID, resp.ID, schema.EventTriggerWarning, map[string]any{"code": w.Code, "message": w.Message})
		return []schema.MatchedWorkflow{}, []schema.TriggerWarning{w}
	}

	matched, warnings := e.triggers.Resolve(ctx, resp.FormID, resp.Answers, pseudo, workflows)
	for _, w := range warnings {
		e.record(ctx, resp.FormID, resp.ID, schema.EventTriggerWarning, map[string]any{
			"workflow_id": w.WorkflowID, "action": w.Action, "code": w.Code, "message": w.Message,
		})
	}
	for _, m := range matched {
		e.record(ctx, resp.FormID, resp.ID, schema.EventWorkflowMatched, map[string]any{
			"workflow_id": m.WorkflowID, "actions": len(m.Actions),
		})
	}
	if matched == nil {
		matched = []schema.MatchedWorkflow{}
	}
	return matched, warnings
}
