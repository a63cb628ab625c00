package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/formflow/internal/expressions"
	"github.com/rendis/formflow/pkg/schema"
)

// versionNames collects the identifiers a version's expressions may read.
type versionNames struct {
	vars map[string]string // variable name -> question ID
}

func (n versionNames) known(ref string) bool {
	if schema.IsPseudoVariable(ref) {
		return true
	}
	_, ok := n.vars[ref]
	return ok
}

// validateVersionSemantic checks what the structural schema cannot express:
// unique ids, identifier collisions and reserved names, expressions that
// compile and read only known variables, rule sanity, options for choice
// types, and repeat bounds.
func (dv *DefinitionValidator) validateVersionSemantic(v *schema.FormVersion) *schema.ValidationReport {
	r := &schema.ValidationReport{}
	names := versionNames{vars: make(map[string]string)}

	ids := make(map[string]string)       // section/question ID -> first path
	optionIDs := make(map[string]string) // option ID -> first path
	claim := func(seen map[string]string, id, p, kind string) {
		if first, ok := seen[id]; ok {
			r.AddError(p+".id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate %s id %q (first used at %s)", kind, id, first))
			return
		}
		seen[id] = p
	}

	for i, sec := range v.Sections {
		sp := fmt.Sprintf("sections[%d]", i)
		claim(ids, sec.ID, sp, "section")
		for j, q := range sec.Questions {
			qp := fmt.Sprintf("%s.questions[%d]", sp, j)
			claim(ids, q.ID, qp, "question")

			name := expressions.VariableName(q.ID)
			if err := dv.eval.CheckVariableName(name); err != nil {
				r.AddError(qp+".id", schema.ErrCodeValidation, messageOf(err))
			} else if other, ok := names.vars[name]; ok && other != q.ID {
				r.AddError(qp+".id", schema.ErrCodeValidation,
					fmt.Sprintf("question id %q and %q both map to variable %q", other, q.ID, name))
			} else {
				names.vars[name] = q.ID
			}

			for k, o := range q.Options {
				claim(optionIDs, o.ID, fmt.Sprintf("%s.options[%d]", qp, k), "option")
			}
		}
	}

	for i, sec := range v.Sections {
		sp := fmt.Sprintf("sections[%d]", i)
		dv.checkCondition(r, sp+".visibility_condition", sec.VisibilityCondition, names)
		checkRepeat(r, sp, sec.IsRepeatable, sec.MinRepeat, sec.MaxRepeat)
		for j, q := range sec.Questions {
			qp := fmt.Sprintf("%s.questions[%d]", sp, j)
			dv.checkQuestion(r, qp, q, names)
		}
	}

	for i, cv := range v.CustomValidations {
		dv.checkCondition(r, fmt.Sprintf("custom_validations[%d].expression", i), cv.Expression, names)
	}
	return r
}

func (dv *DefinitionValidator) checkQuestion(r *schema.ValidationReport, qp string, q *schema.Question, names versionNames) {
	dv.checkCondition(r, qp+".visibility_condition", q.VisibilityCondition, names)
	dv.checkCondition(r, qp+".required_condition", q.RequiredCondition, names)
	checkRepeat(r, qp, q.IsRepeatable, q.MinRepeat, q.MaxRepeat)

	switch {
	case q.FieldType.IsComputed() && q.CustomScript == "":
		r.AddError(qp+".custom_script", schema.ErrCodeValidation,
			fmt.Sprintf("%s fields need a custom_script", q.FieldType))
	case q.FieldType.IsComputed():
		if _, err := dv.eval.CompileScript(q.CustomScript); err != nil {
			r.AddError(qp+".custom_script", schema.CodeOf(err), detailOf(err))
		}
	case q.CustomScript != "":
		r.AddWarning(qp+".custom_script", schema.ErrCodeValidation,
			fmt.Sprintf("custom_script is ignored for %s fields", q.FieldType))
	}

	if q.FieldType.HasOptions() {
		if len(q.Options) == 0 {
			r.AddError(qp+".options", schema.ErrCodeValidation,
				fmt.Sprintf("%s fields need at least one option", q.FieldType))
		}
		values := make(map[string]bool, len(q.Options))
		for k, o := range q.Options {
			if values[o.Value] {
				r.AddError(fmt.Sprintf("%s.options[%d].value", qp, k), schema.ErrCodeValidation,
					fmt.Sprintf("duplicate option value %q", o.Value))
			}
			values[o.Value] = true
		}
	} else if len(q.Options) > 0 {
		r.AddWarning(qp+".options", schema.ErrCodeValidation,
			fmt.Sprintf("options are ignored for %s fields", q.FieldType))
	}

	if q.ValidationRules != nil {
		dv.checkRules(r, qp+".validation_rules", q.FieldType, q.ValidationRules)
	}
}

// checkCondition compiles a condition and flags references to variables the
// version does not define.
func (dv *DefinitionValidator) checkCondition(r *schema.ValidationReport, p, condition string, names versionNames) {
	if condition == "" {
		return
	}
	refs, err := dv.eval.References(condition)
	if err != nil {
		r.AddError(p, schema.CodeOf(err), detailOf(err))
		return
	}
	for _, ref := range refs {
		if !names.known(ref) {
			r.AddError(p, schema.ErrCodeValidation, fmt.Sprintf("references unknown variable %q", ref))
		}
	}
}

func (dv *DefinitionValidator) checkRules(r *schema.ValidationReport, p string, ft schema.FieldType, rules *schema.ValidationRules) {
	if rules.MinLength != nil && rules.MaxLength != nil && *rules.MinLength > *rules.MaxLength {
		r.AddError(p, schema.ErrCodeValidation, "min_length exceeds max_length")
	}
	if rules.Min != nil && rules.Max != nil && *rules.Min > *rules.Max {
		r.AddError(p, schema.ErrCodeValidation, "min exceeds max")
	}
	if rules.MinSelected != nil && rules.MaxSelected != nil && *rules.MinSelected > *rules.MaxSelected {
		r.AddError(p, schema.ErrCodeValidation, "min_selected exceeds max_selected")
	}
	if rules.MinDate != "" && rules.MaxDate != "" && rules.MinDate > rules.MaxDate {
		r.AddError(p, schema.ErrCodeValidation, "min_date is after max_date")
	}
	if rules.Pattern != "" {
		if _, err := fullMatch(rules.Pattern); err != nil {
			r.AddError(p+".pattern", schema.ErrCodeValidation, fmt.Sprintf("invalid pattern: %v", err))
		}
	}
	if len(rules.JSONSchema) > 0 {
		if err := dv.jsonSchema.CompileSchema(rules.JSONSchema); err != nil {
			r.AddError(p+".json_schema", schema.ErrCodeValidation, fmt.Sprintf("invalid json schema: %v", err))
		}
	}

	for _, rule := range inapplicableRules(ft, rules) {
		r.AddWarning(p+"."+rule, schema.ErrCodeValidation,
			fmt.Sprintf("%s does not apply to %s fields", rule, ft))
	}
}

// inapplicableRules names the rules set on a field type that ignores them.
func inapplicableRules(ft schema.FieldType, rules *schema.ValidationRules) []string {
	var out []string
	add := func(set bool, name string, applies bool) {
		if set && !applies {
			out = append(out, name)
		}
	}
	textual := ft.IsTextual()
	add(rules.MinLength != nil, "min_length", textual)
	add(rules.MaxLength != nil, "max_length", textual)
	add(rules.Pattern != "", "pattern", textual)
	add(rules.Min != nil, "min", ft.IsNumeric())
	add(rules.Max != nil, "max", ft.IsNumeric())
	add(rules.Integer, "integer", ft.IsNumeric())
	add(rules.MinDate != "", "min_date", ft.IsTemporal())
	add(rules.MaxDate != "", "max_date", ft.IsTemporal())
	add(rules.MinSelected != nil, "min_selected", ft == schema.FieldMultiChoice)
	add(rules.MaxSelected != nil, "max_selected", ft == schema.FieldMultiChoice)
	add(len(rules.AllowedExtensions) > 0, "allowed_extensions", ft == schema.FieldFile)
	add(rules.MaxFileSize > 0, "max_file_size", ft == schema.FieldFile)
	add(len(rules.JSONSchema) > 0, "json_schema", ft == schema.FieldJSON)
	return out
}

func checkRepeat(r *schema.ValidationReport, p string, repeatable bool, minRepeat, maxRepeat int) {
	if !repeatable {
		if minRepeat != 0 || maxRepeat != 0 {
			r.AddWarning(p, schema.ErrCodeValidation, "repeat bounds are ignored when is_repeatable is false")
		}
		return
	}
	if minRepeat < 0 || maxRepeat < 0 {
		r.AddError(p, schema.ErrCodeValidation, "repeat bounds must not be negative")
	}
	if maxRepeat > 0 && minRepeat > maxRepeat {
		r.AddError(p, schema.ErrCodeValidation, "min_repeat exceeds max_repeat")
	}
}

// validateWorkflowSemantic checks the trigger condition and every action.
// With the trigger form's version at hand, references are resolved against
// it; otherwise only compilation is checked.
func (dv *DefinitionValidator) validateWorkflowSemantic(wf *schema.Workflow, trigger *schema.FormVersion) *schema.ValidationReport {
	r := &schema.ValidationReport{}

	var names *versionNames
	if trigger != nil {
		n := versionNames{vars: make(map[string]string)}
		for _, sec := range trigger.Sections {
			for _, q := range sec.Questions {
				n.vars[expressions.VariableName(q.ID)] = q.ID
			}
		}
		names = &n
	}

	if wf.TriggerCondition != "" {
		if names != nil {
			dv.checkCondition(r, "trigger_condition", wf.TriggerCondition, *names)
		} else if err := dv.eval.Compile(wf.TriggerCondition); err != nil {
			r.AddError("trigger_condition", schema.CodeOf(err), detailOf(err))
		}
	}

	for i, a := range wf.Actions {
		ap := fmt.Sprintf("actions[%d]", i)
		if a.Type.NeedsTarget() && a.TargetFormID == "" {
			r.AddError(ap+".target_form_id", schema.ErrCodeValidation,
				fmt.Sprintf("%s actions need a target_form_id", a.Type))
		}
		if a.Type == schema.ActionNotifyUser && a.Message == "" {
			r.AddWarning(ap+".message", schema.ErrCodeValidation, "notify_user action without a message")
		}
		if err := expressions.CheckTemplate(a.Message); err != nil {
			r.AddError(ap+".message", schema.ErrCodeInterpolation, messageOf(err))
		}
		for field, source := range a.DataMapping {
			dv.checkMappingSource(r, fmt.Sprintf("%s.data_mapping.%s", ap, field), source, names)
		}
		if a.AssignToUserField != "" && names != nil && !names.known(expressions.VariableName(a.AssignToUserField)) {
			r.AddWarning(ap+".assign_to_user_field", schema.ErrCodeValidation,
				fmt.Sprintf("field %q is not part of the trigger form; assignment resolves to nothing", a.AssignToUserField))
		}
	}
	return r
}

func (dv *DefinitionValidator) checkMappingSource(r *schema.ValidationReport, p, source string, names *versionNames) {
	switch {
	case strings.HasPrefix(source, "."):
		if err := dv.jq.Compile(source); err != nil {
			r.AddError(p, schema.ErrCodeSyntax, fmt.Sprintf("invalid path query: %s", messageOf(err)))
		}
	case isLiteral(source):
	case names != nil && !names.known(expressions.VariableName(source)):
		r.AddWarning(p, schema.ErrCodeValidation,
			fmt.Sprintf("source %q is not part of the trigger form; it maps to null", source))
	}
}

func isLiteral(source string) bool {
	_, ok := expressions.ParseLiteral(source)
	return ok
}

func messageOf(err error) string {
	if fe, ok := err.(*schema.FormError); ok {
		return fe.Message
	}
	return err.Error()
}

// detailOf keeps expression failures generic for security violations and
// timeouts, and specific for syntax errors.
func detailOf(err error) string {
	switch schema.CodeOf(err) {
	case schema.ErrCodeSecurityViolation, schema.ErrCodeTimeout:
		return schema.MsgEvaluationFailed
	}
	return messageOf(err)
}
