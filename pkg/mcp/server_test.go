package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFormServer(t *testing.T) {
	s := NewFormServer(FormServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.sessions)
	assert.NotNil(t, s.notifier)
}

func TestToolRegistration(t *testing.T) {
	s := NewFormServer(FormServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 8)

	expectedTools := []string{
		"form.create",
		"form.version",
		"form.activate",
		"form.publish",
		"form.submit",
		"response.edit",
		"workflow.save",
		"form.query",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"create", "form.create", "Create a form with its first version"},
		{"version", "form.version", "Add a form version or update an unreferenced draft"},
		{"activate", "form.activate", "Set the version new submissions bind to"},
		{"publish", "form.publish", "Publish the latest version and open the next draft"},
		{"submit", "form.submit", "Validate and store a submission, then resolve triggered workflows"},
		{"edit", "response.edit", "Edit, delete or read the history of a stored response"},
		{"workflow", "workflow.save", "Validate and store a workflow"},
		{"query", "form.query", "Query responses, events, a form definition, or the list of forms"},
	}

	s := NewFormServer(FormServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
