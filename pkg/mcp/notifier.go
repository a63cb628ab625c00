package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/formflow/internal/engine"
	"github.com/rendis/formflow/pkg/schema"
)

// ErrAssigneeOffline reports an assignee with no live session.
var ErrAssigneeOffline = errors.New("assignee is not connected")

// Assignment is one notify_user action addressed to a user.
type Assignment struct {
	User       string         `json:"user"`
	WorkflowID string         `json:"workflow_id"`
	Workflow   string         `json:"workflow"`
	FormID     string         `json:"form_id"`
	ResponseID string         `json:"response_id"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data"`
}

// AssigneeNotifier delivers notify_user assignments.
type AssigneeNotifier interface {
	NotifyAssignee(ctx context.Context, a Assignment) error
}

// assignmentsOf lists the notify_user actions of a submission whose
// assignee resolved to a user name. Other assignee values are not
// addressable and are skipped.
func assignmentsOf(sub *engine.Submission) []Assignment {
	if sub == nil || sub.Response == nil {
		return nil
	}
	var out []Assignment
	for _, m := range sub.Matched {
		for _, a := range m.Actions {
			if a.Type != schema.ActionNotifyUser {
				continue
			}
			user, ok := a.AssignTo.(string)
			if !ok || user == "" {
				continue
			}
			out = append(out, Assignment{
				User:       user,
				WorkflowID: m.WorkflowID,
				Workflow:   m.Name,
				FormID:     sub.Response.FormID,
				ResponseID: sub.Response.ID,
				Message:    a.Message,
				Data:       a.Data,
			})
		}
	}
	return out
}

// SessionNotifier delivers assignments as MCP log notifications on the
// assignee's current session.
type SessionNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewSessionNotifier creates a notifier over the server's sessions.
func NewSessionNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *SessionNotifier {
	return &SessionNotifier{mcpServer: mcpServer, sessions: sessions}
}

// NotifyAssignee pushes a to its user. Users without a session, or whose
// session has gone away, yield ErrAssigneeOffline.
func (n *SessionNotifier) NotifyAssignee(_ context.Context, a Assignment) error {
	sessionID, ok := n.sessions.SessionFor(a.User)
	if !ok {
		return ErrAssigneeOffline
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", a.logParams())
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.Remove(sessionID)
		return ErrAssigneeOffline
	}
	return err
}

// logParams shapes the assignment as notifications/message params.
func (a Assignment) logParams() map[string]any {
	return map[string]any{
		"level":  "info",
		"logger": "formflow.workflow_matched",
		"data":   a,
	}
}
