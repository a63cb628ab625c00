package schema

// Workflow is an automation bound to a trigger form. When a submission to
// TriggerFormID satisfies TriggerCondition, its Actions are resolved.
type Workflow struct {
	ID               string           `json:"id" yaml:"id"`
	Name             string           `json:"name" yaml:"name"`
	TriggerFormID    string           `json:"trigger_form_id" yaml:"trigger_form_id"`
	TriggerCondition string           `json:"trigger_condition,omitempty" yaml:"trigger_condition,omitempty"` // default: "true"
	Actions          []WorkflowAction `json:"actions" yaml:"actions"`
	IsActive         bool             `json:"is_active" yaml:"is_active"`
}

// Condition returns the trigger condition, defaulting to "true".
func (w *Workflow) Condition() string {
	if w.TriggerCondition == "" {
		return "true"
	}
	return w.TriggerCondition
}

// WorkflowAction describes one effect of a matched workflow.
type WorkflowAction struct {
	Type              WorkflowActionType `json:"type" yaml:"type"`
	TargetFormID      string             `json:"target_form_id,omitempty" yaml:"target_form_id,omitempty"`
	DataMapping       map[string]string  `json:"data_mapping,omitempty" yaml:"data_mapping,omitempty"` // target field -> source reference
	AssignToUserField string             `json:"assign_to_user_field,omitempty" yaml:"assign_to_user_field,omitempty"`
	Message           string             `json:"message,omitempty" yaml:"message,omitempty"`
}

// MatchedWorkflow is a workflow whose trigger held for a submission.
type MatchedWorkflow struct {
	WorkflowID string           `json:"workflow_id"`
	Name       string           `json:"name"`
	Actions    []ResolvedAction `json:"actions"`
}

// ResolvedAction is a WorkflowAction with its data mapping evaluated.
type ResolvedAction struct {
	Type         WorkflowActionType `json:"type"`
	TargetFormID string             `json:"target_form_id,omitempty"`
	Data         map[string]any     `json:"data"`
	AssignTo     any                `json:"assign_to,omitempty"`
	Message      string             `json:"message,omitempty"`
}

// TriggerWarning records a non-fatal problem met while resolving triggers.
// Action is the index within the workflow, or -1 for the trigger itself.
type TriggerWarning struct {
	WorkflowID string `json:"workflow_id"`
	Action     int    `json:"action"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}
