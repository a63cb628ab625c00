package validation

import "github.com/rendis/formflow/pkg/schema"

// Validator checks form and workflow definitions before they are saved.
type Validator interface {
	ValidateVersion(version *schema.FormVersion) *schema.ValidationReport
	ValidateWorkflow(wf *schema.Workflow, trigger *schema.FormVersion) *schema.ValidationReport
}

var _ Validator = (*DefinitionValidator)(nil)
