package validation

import (
	"github.com/rendis/formflow/internal/expressions"
	"github.com/rendis/formflow/internal/visibility"
	"github.com/rendis/formflow/pkg/schema"
)

// DefinitionValidator runs the save-time pipeline for form versions and
// workflows:
//  1. Structural (JSON Schema)
//  2. Semantic (ids, identifiers, expressions, rules, options, repeat bounds)
//  3. Visibility cycles (warnings only)
//
// Structural errors short-circuit the later stages.
type DefinitionValidator struct {
	jsonSchema *JSONSchemaValidator
	eval       *expressions.Evaluator
	jq         *expressions.JQEngine
}

// NewDefinitionValidator creates a DefinitionValidator on the shared evaluator.
func NewDefinitionValidator(eval *expressions.Evaluator, jsv *JSONSchemaValidator) *DefinitionValidator {
	return &DefinitionValidator{
		jsonSchema: jsv,
		eval:       eval,
		jq:         expressions.NewJQEngine(schema.PseudoVariables...),
	}
}

// ValidateVersion checks a form version before it is saved.
func (dv *DefinitionValidator) ValidateVersion(version *schema.FormVersion) *schema.ValidationReport {
	if version == nil {
		r := &schema.ValidationReport{}
		r.AddError("/", schema.ErrCodeValidation, "form version is nil")
		return r
	}

	r := structural(dv.jsonSchema.ValidateVersion(version))
	if !r.Valid() {
		return r
	}

	r.Merge(dv.validateVersionSemantic(version))
	r.Warnings = append(r.Warnings, visibility.CycleWarnings(dv.eval, version)...)
	return r
}

// ValidateWorkflow checks a workflow before it is saved. trigger is the
// active version of the trigger form, or nil when it is not known yet.
func (dv *DefinitionValidator) ValidateWorkflow(wf *schema.Workflow, trigger *schema.FormVersion) *schema.ValidationReport {
	if wf == nil {
		r := &schema.ValidationReport{}
		r.AddError("/", schema.ErrCodeValidation, "workflow is nil")
		return r
	}

	r := structural(dv.jsonSchema.ValidateWorkflow(wf))
	if !r.Valid() {
		return r
	}
	r.Merge(dv.validateWorkflowSemantic(wf, trigger))
	return r
}

// structural converts a JSON Schema failure into one report error per
// violation.
func structural(err error) *schema.ValidationReport {
	r := &schema.ValidationReport{}
	if err == nil {
		return r
	}
	for _, v := range violationsOf(err) {
		r.AddError("/", schema.ErrCodeValidation, v)
	}
	return r
}
