package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/formflow/internal/engine"
	"github.com/rendis/formflow/internal/logging"
	"github.com/rendis/formflow/internal/store"
	"github.com/rendis/formflow/pkg/schema"
)

// FormService is the engine surface exposed as tools.
type FormService interface {
	CreateForm(ctx context.Context, req engine.CreateFormRequest) (*schema.Form, []schema.ValidationIssue, error)
	CreateVersion(ctx context.Context, formID, label string, content *schema.FormVersion) (*schema.FormVersion, []schema.ValidationIssue, error)
	UpdateDraft(ctx context.Context, formID, label string, content *schema.FormVersion) (*schema.FormVersion, []schema.ValidationIssue, error)
	Activate(ctx context.Context, formID, label string) error
	Publish(ctx context.Context, formID string) (*engine.PublishResult, error)
	GetForm(ctx context.Context, formID string) (*schema.Form, error)
	Submit(ctx context.Context, req engine.SubmitRequest) (*engine.Submission, error)
	EditResponse(ctx context.Context, req engine.EditRequest) (*engine.Submission, error)
	DeleteResponse(ctx context.Context, responseID string) error
	ResponseHistory(ctx context.Context, responseID string) ([]*schema.ResponseHistory, error)
	SaveWorkflow(ctx context.Context, wf *schema.Workflow) (*schema.Workflow, []schema.ValidationIssue, error)
	QueryResponses(ctx context.Context, req engine.QueryRequest) ([]engine.QueryRow, error)
}

var _ FormService = (*engine.Engine)(nil)

// EventReader reads the lifecycle event log.
type EventReader interface {
	GetEvents(ctx context.Context, filter store.EventFilter) ([]*schema.Event, error)
}

// FormLister lists stored forms.
type FormLister interface {
	ListForms(ctx context.Context, filter store.FormFilter) ([]*schema.Form, error)
}

// FormServerDeps holds the dependencies for creating a FormServer.
type FormServerDeps struct {
	Service FormService
	Events  EventReader // optional; form.query rejects resource "events" without it
	Forms   FormLister  // optional; form.query rejects resource "forms" without it
	Logger  *slog.Logger
}

// FormServer wraps an MCP server with formflow tool handlers.
type FormServer struct {
	service   FormService
	events    EventReader
	forms     FormLister
	sessions  *SessionRegistry
	notifier  AssigneeNotifier
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewFormServer creates a new FormServer with all 8 tools registered.
func NewFormServer(deps FormServerDeps) *FormServer {
	s := &FormServer{
		service:  deps.Service,
		events:   deps.Events,
		forms:    deps.Forms,
		sessions: NewSessionRegistry(),
		logger:   logging.OrDefault(deps.Logger),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"formflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Formflow evaluates dynamic forms and triggers workflows. Use form.create and form.version to author forms, form.activate and form.publish to manage versions, form.submit and response.edit to record answers, workflow.save to register automations, and form.query to read responses, events, form definitions and the form list."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewSessionNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *FormServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FormServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 8 registered MCP tools as ServerTool entries.
func (s *FormServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: createTool(), Handler: s.handleCreate},
		{Tool: versionTool(), Handler: s.handleVersion},
		{Tool: activateTool(), Handler: s.handleActivate},
		{Tool: publishTool(), Handler: s.handlePublish},
		{Tool: submitTool(), Handler: s.handleSubmit},
		{Tool: editTool(), Handler: s.handleEdit},
		{Tool: workflowTool(), Handler: s.handleWorkflow},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func createTool() mcp.Tool {
	return mcp.NewTool("form.create",
		mcp.WithDescription("Create a form with its first version"),
		mcp.WithString("title", mcp.Required(), mcp.Description("Form title")),
		mcp.WithString("form_id", mcp.Description("Form ID (default: generated)")),
		mcp.WithObject("version", mcp.Description("Initial version content: sections and custom_validations")),
	)
}

func versionTool() mcp.Tool {
	return mcp.NewTool("form.version",
		mcp.WithDescription("Add a form version or update an unreferenced draft"),
		mcp.WithString("form_id", mcp.Required(), mcp.Description("ID of the form")),
		mcp.WithObject("content", mcp.Required(), mcp.Description("Version content: sections and custom_validations")),
		mcp.WithString("label", mcp.Description("Version label (default: next after the latest)")),
		mcp.WithString("mode", mcp.Enum("create", "update"), mcp.Description("create a new version or update a draft in place (default: create)")),
	)
}

func activateTool() mcp.Tool {
	return mcp.NewTool("form.activate",
		mcp.WithDescription("Set the version new submissions bind to"),
		mcp.WithString("form_id", mcp.Required(), mcp.Description("ID of the form")),
		mcp.WithString("label", mcp.Required(), mcp.Description("Version label to activate")),
	)
}

func publishTool() mcp.Tool {
	return mcp.NewTool("form.publish",
		mcp.WithDescription("Publish the latest version and open the next draft"),
		mcp.WithString("form_id", mcp.Required(), mcp.Description("ID of the form")),
	)
}

func submitTool() mcp.Tool {
	return mcp.NewTool("form.submit",
		mcp.WithDescription("Validate and store a submission, then resolve triggered workflows"),
		mcp.WithString("form_id", mcp.Required(), mcp.Description("ID of the form")),
		mcp.WithObject("answers", mcp.Required(), mcp.Description("Answers keyed by section ID; each section is a list of instances")),
		mcp.WithString("version", mcp.Description("Version label (default: active version)")),
		mcp.WithString("submitter", mcp.Description("Submitting user")),
	)
}

func editTool() mcp.Tool {
	return mcp.NewTool("response.edit",
		mcp.WithDescription("Edit, delete or read the history of a stored response"),
		mcp.WithString("response_id", mcp.Required(), mcp.Description("ID of the response")),
		mcp.WithString("operation", mcp.Enum("edit", "delete", "history"), mcp.Description("Operation to perform (default: edit)")),
		mcp.WithObject("answers", mcp.Description("Replacement answers (required for edit)")),
		mcp.WithString("editor", mcp.Description("Editing user")),
	)
}

func workflowTool() mcp.Tool {
	return mcp.NewTool("workflow.save",
		mcp.WithDescription("Validate and store a workflow"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow: id, name, trigger_form_id, trigger_condition, actions, is_active")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("form.query",
		mcp.WithDescription("Query responses, events, a form definition, or the list of forms"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("responses", "events", "form", "forms"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithString("form_id", mcp.Description("ID of the form (required except for resource forms)")),
		mcp.WithObject("filter", mcp.Description("Filter criteria (version, submitter, include_deleted, query, response_id, event_type, after_id, status, limit)")),
	)
}
