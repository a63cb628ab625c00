package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/formflow/internal/engine"
	"github.com/rendis/formflow/internal/store"
	"github.com/rendis/formflow/pkg/schema"
)

// handleCreate creates a form and its first version.
func (s *FormServer) handleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("title is required"), nil
	}

	var version *schema.FormVersion
	if _, ok := req.GetArguments()["version"]; ok {
		version = &schema.FormVersion{}
		if bindErr := bindArg(req, "version", version); bindErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid version: %v", bindErr)), nil
		}
	}

	form, warnings, createErr := s.service.CreateForm(ctx, engine.CreateFormRequest{
		ID:      req.GetString("form_id", ""),
		Title:   title,
		Version: version,
	})
	if createErr != nil {
		return errorResult("create failed", createErr)
	}
	return marshalResult(map[string]any{
		"form":     form,
		"warnings": warnings,
	})
}

// handleVersion adds a version or rewrites a draft in place.
func (s *FormServer) handleVersion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	formID, err := req.RequireString("form_id")
	if err != nil {
		return mcp.NewToolResultError("form_id is required"), nil
	}
	var content schema.FormVersion
	if bindErr := bindArg(req, "content", &content); bindErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid content: %v", bindErr)), nil
	}
	label := req.GetString("label", "")

	var (
		version  *schema.FormVersion
		warnings []schema.ValidationIssue
		opErr    error
	)
	switch mode := req.GetString("mode", "create"); mode {
	case "create":
		version, warnings, opErr = s.service.CreateVersion(ctx, formID, label, &content)
	case "update":
		if label == "" {
			return mcp.NewToolResultError("label is required for update"), nil
		}
		version, warnings, opErr = s.service.UpdateDraft(ctx, formID, label, &content)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown mode: %s", mode)), nil
	}
	if opErr != nil {
		return errorResult("version failed", opErr)
	}
	return marshalResult(map[string]any{
		"version":  version,
		"warnings": warnings,
	})
}

// handleActivate points new submissions at a version.
func (s *FormServer) handleActivate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	formID, err := req.RequireString("form_id")
	if err != nil {
		return mcp.NewToolResultError("form_id is required"), nil
	}
	label, err := req.RequireString("label")
	if err != nil {
		return mcp.NewToolResultError("label is required"), nil
	}

	if actErr := s.service.Activate(ctx, formID, label); actErr != nil {
		return errorResult("activate failed", actErr)
	}
	return marshalResult(map[string]any{
		"ok":             true,
		"form_id":        formID,
		"active_version": label,
	})
}

// handlePublish publishes the latest version.
func (s *FormServer) handlePublish(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	formID, err := req.RequireString("form_id")
	if err != nil {
		return mcp.NewToolResultError("form_id is required"), nil
	}

	result, pubErr := s.service.Publish(ctx, formID)
	if pubErr != nil {
		return errorResult("publish failed", pubErr)
	}
	return marshalResult(result)
}

// handleSubmit runs a submission and notifies users assigned by matched workflows.
func (s *FormServer) handleSubmit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	formID, err := req.RequireString("form_id")
	if err != nil {
		return mcp.NewToolResultError("form_id is required"), nil
	}
	var answers schema.AnswerTree
	if bindErr := bindArg(req, "answers", &answers); bindErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid answers: %v", bindErr)), nil
	}
	submitter := req.GetString("submitter", "")
	if submitter != "" {
		s.captureSession(ctx, submitter)
	}

	sub, subErr := s.service.Submit(ctx, engine.SubmitRequest{
		FormID:       formID,
		VersionLabel: req.GetString("version", ""),
		Answers:      answers,
		Submitter:    submitter,
	})
	if subErr != nil {
		return errorResult("submit failed", subErr)
	}
	s.notifyAssignees(ctx, sub)
	return marshalResult(sub)
}

// handleEdit edits, deletes or lists the history of a response.
func (s *FormServer) handleEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	responseID, err := req.RequireString("response_id")
	if err != nil {
		return mcp.NewToolResultError("response_id is required"), nil
	}
	editor := req.GetString("editor", "")
	if editor != "" {
		s.captureSession(ctx, editor)
	}

	switch op := req.GetString("operation", "edit"); op {
	case "edit":
		if _, ok := req.GetArguments()["answers"]; !ok {
			return mcp.NewToolResultError("answers is required for edit"), nil
		}
		var answers schema.AnswerTree
		if bindErr := bindArg(req, "answers", &answers); bindErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid answers: %v", bindErr)), nil
		}
		sub, editErr := s.service.EditResponse(ctx, engine.EditRequest{
			ResponseID: responseID,
			Answers:    answers,
			Editor:     editor,
		})
		if editErr != nil {
			return errorResult("edit failed", editErr)
		}
		return marshalResult(sub)

	case "delete":
		if delErr := s.service.DeleteResponse(ctx, responseID); delErr != nil {
			return errorResult("delete failed", delErr)
		}
		return marshalResult(map[string]any{"ok": true, "response_id": responseID})

	case "history":
		history, histErr := s.service.ResponseHistory(ctx, responseID)
		if histErr != nil {
			return errorResult("history failed", histErr)
		}
		return marshalResult(map[string]any{"history": history})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown operation: %s", op)), nil
	}
}

// handleWorkflow validates and stores a workflow.
func (s *FormServer) handleWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, ok := req.GetArguments()["workflow"]; !ok {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	wf := &schema.Workflow{IsActive: true}
	if bindErr := bindArg(req, "workflow", wf); bindErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", bindErr)), nil
	}

	saved, warnings, saveErr := s.service.SaveWorkflow(ctx, wf)
	if saveErr != nil {
		return errorResult("save failed", saveErr)
	}
	return marshalResult(map[string]any{
		"workflow": saved,
		"warnings": warnings,
	})
}

// handleQuery reads responses, events or a form definition.
func (s *FormServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	filter := mcp.ParseStringMap(req, "filter", nil)
	if resource == "forms" {
		return s.queryForms(ctx, filter)
	}

	formID := req.GetString("form_id", "")
	if formID == "" {
		return mcp.NewToolResultError("form_id is required"), nil
	}

	switch resource {
	case "responses":
		return s.queryResponses(ctx, formID, filter)
	case "events":
		return s.queryEvents(ctx, formID, filter)
	case "form":
		form, getErr := s.service.GetForm(ctx, formID)
		if getErr != nil {
			return errorResult("query failed", getErr)
		}
		return marshalResult(map[string]any{"form": form})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *FormServer) queryResponses(ctx context.Context, formID string, filter map[string]any) (*mcp.CallToolResult, error) {
	q := engine.QueryRequest{
		FormID: formID,
		Limit:  extractInt(filter, "limit", 100),
	}
	if v, ok := filter["version"].(string); ok {
		q.VersionLabel = v
	}
	if v, ok := filter["submitter"].(string); ok {
		q.Submitter = v
	}
	if v, ok := filter["query"].(string); ok {
		q.Query = v
	}
	if v, ok := filter["include_deleted"].(bool); ok {
		q.IncludeDeleted = v
	}

	rows, err := s.service.QueryResponses(ctx, q)
	if err != nil {
		return errorResult("query failed", err)
	}
	if rows == nil {
		rows = []engine.QueryRow{}
	}
	return marshalResult(map[string]any{"responses": rows})
}

func (s *FormServer) queryEvents(ctx context.Context, formID string, filter map[string]any) (*mcp.CallToolResult, error) {
	if s.events == nil {
		return mcp.NewToolResultError("event log is not available"), nil
	}
	ef := store.EventFilter{
		FormID:  formID,
		AfterID: int64(extractInt(filter, "after_id", 0)),
		Limit:   extractInt(filter, "limit", 100),
	}
	if v, ok := filter["response_id"].(string); ok {
		ef.ResponseID = v
	}
	if v, ok := filter["event_type"].(string); ok {
		ef.Type = v
	}

	events, err := s.events.GetEvents(ctx, ef)
	if err != nil {
		return errorResult("query failed", err)
	}
	if events == nil {
		events = []*schema.Event{}
	}
	return marshalResult(map[string]any{"events": events})
}

func (s *FormServer) queryForms(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	if s.forms == nil {
		return mcp.NewToolResultError("form listing is not available"), nil
	}
	ff := store.FormFilter{Limit: extractInt(filter, "limit", 100)}
	if v, ok := filter["status"].(string); ok {
		ff.Status = schema.FormStatus(v)
	}

	forms, err := s.forms.ListForms(ctx, ff)
	if err != nil {
		return errorResult("query failed", err)
	}
	summaries := make([]map[string]any, 0, len(forms))
	for _, f := range forms {
		summaries = append(summaries, map[string]any{
			"id":             f.ID,
			"title":          f.Title,
			"status":         f.Status,
			"active_version": f.ActiveVersion,
			"versions":       len(f.Versions),
		})
	}
	return marshalResult(map[string]any{"forms": summaries})
}

// --- Internal helpers ---

// notifyAssignees pushes each notify_user assignment to its user. Delivery
// is best-effort: offline assignees are skipped and failures only logged.
func (s *FormServer) notifyAssignees(ctx context.Context, sub *engine.Submission) {
	if s.notifier == nil {
		return
	}
	for _, a := range assignmentsOf(sub) {
		err := s.notifier.NotifyAssignee(ctx, a)
		switch {
		case err == nil:
		case errors.Is(err, ErrAssigneeOffline):
			s.logger.InfoContext(ctx, "assignee offline, notification skipped", "user", a.User, "workflow_id", a.WorkflowID)
		default:
			s.logger.WarnContext(ctx, "notify failed", "user", a.User, "workflow_id", a.WorkflowID, "error", err)
		}
	}
}

// bindArg decodes an object argument into dst.
func bindArg(req mcp.CallToolRequest, key string, dst any) error {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return fmt.Errorf("%s is required", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession maps the user to its current MCP session for notifications.
func (s *FormServer) captureSession(ctx context.Context, user string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(user, session.SessionID())
	}
}

// errorResult converts an engine error into a tool error. Validation
// reports are returned whole so callers can map issues back to fields.
func errorResult(prefix string, err error) (*mcp.CallToolResult, error) {
	var report *schema.ValidationReport
	if errors.As(err, &report) {
		res, marshalErr := marshalResult(map[string]any{
			"code":   schema.ErrCodeValidation,
			"report": report,
		})
		if marshalErr != nil || res == nil {
			return res, marshalErr
		}
		res.IsError = true
		return res, nil
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err)), nil
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
