package schema

import "fmt"

// FieldType is the closed set of question kinds.
type FieldType string

const (
	FieldText        FieldType = "text"
	FieldTextarea    FieldType = "textarea"
	FieldRichText    FieldType = "rich_text"
	FieldEmail       FieldType = "email"
	FieldURL         FieldType = "url"
	FieldPhone       FieldType = "phone"
	FieldNumber      FieldType = "number"
	FieldRating      FieldType = "rating"
	FieldDate        FieldType = "date"
	FieldDateTime    FieldType = "datetime"
	FieldTime        FieldType = "time"
	FieldBoolean     FieldType = "boolean"
	FieldChoice      FieldType = "choice"
	FieldMultiChoice FieldType = "multi_choice"
	FieldFile        FieldType = "file"
	FieldJSON        FieldType = "json"
	FieldCalculated  FieldType = "calculated"
	FieldCustomAPI   FieldType = "custom_api"
)

// FieldTypes lists every FieldType in declaration order.
var FieldTypes = []FieldType{
	FieldText, FieldTextarea, FieldRichText, FieldEmail, FieldURL, FieldPhone,
	FieldNumber, FieldRating, FieldDate, FieldDateTime, FieldTime, FieldBoolean,
	FieldChoice, FieldMultiChoice, FieldFile, FieldJSON, FieldCalculated, FieldCustomAPI,
}

// ParseFieldType validates a raw field type string.
func ParseFieldType(s string) (FieldType, error) {
	for _, ft := range FieldTypes {
		if string(ft) == s {
			return ft, nil
		}
	}
	return "", NewErrorf(ErrCodeValidation, "unknown field type %q", s)
}

// IsTextual reports whether answers of this type are free text.
func (ft FieldType) IsTextual() bool {
	switch ft {
	case FieldText, FieldTextarea, FieldRichText, FieldEmail, FieldURL, FieldPhone:
		return true
	}
	return false
}

// IsNumeric reports whether answers of this type are numbers.
func (ft FieldType) IsNumeric() bool {
	return ft == FieldNumber || ft == FieldRating
}

// IsTemporal reports whether answers of this type are ISO-8601 strings.
func (ft FieldType) IsTemporal() bool {
	return ft == FieldDate || ft == FieldDateTime || ft == FieldTime
}

// HasOptions reports whether the type draws its answers from Options.
func (ft FieldType) HasOptions() bool {
	return ft == FieldChoice || ft == FieldMultiChoice
}

// IsComputed reports whether the server computes the answer from CustomScript.
func (ft FieldType) IsComputed() bool {
	return ft == FieldCalculated || ft == FieldCustomAPI
}

func (ft FieldType) String() string { return string(ft) }

// WorkflowActionType is the closed set of workflow action kinds.
type WorkflowActionType string

const (
	ActionRedirectToForm WorkflowActionType = "redirect_to_form"
	ActionCreateDraft    WorkflowActionType = "create_draft"
	ActionNotifyUser     WorkflowActionType = "notify_user"
)

// ParseWorkflowActionType validates a raw action type string.
func ParseWorkflowActionType(s string) (WorkflowActionType, error) {
	switch t := WorkflowActionType(s); t {
	case ActionRedirectToForm, ActionCreateDraft, ActionNotifyUser:
		return t, nil
	}
	return "", NewError(ErrCodeValidation, fmt.Sprintf("unknown workflow action type %q", s))
}

// NeedsTarget reports whether the action routes data into another form.
func (t WorkflowActionType) NeedsTarget() bool {
	return t == ActionRedirectToForm || t == ActionCreateDraft
}
