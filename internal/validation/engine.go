package validation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rendis/formflow/internal/expressions"
	"github.com/rendis/formflow/internal/logging"
	"github.com/rendis/formflow/internal/sanitize"
	"github.com/rendis/formflow/internal/visibility"
	"github.com/rendis/formflow/pkg/schema"
)

// Engine validates submitted answers against a form version. It never
// short-circuits: the report carries every failure found.
type Engine struct {
	eval       *expressions.Evaluator
	jsonSchema *JSONSchemaValidator
	logger     *slog.Logger
}

// NewEngine creates an Engine on the shared evaluator.
func NewEngine(eval *expressions.Evaluator, jsv *JSONSchemaValidator, logger *slog.Logger) *Engine {
	return &Engine{eval: eval, jsonSchema: jsv, logger: logging.OrDefault(logger)}
}

// Validate checks required fields, per-field rules and repeat bounds for
// every visible question, then the version's cross-field validations
// against the sanitized answers.
func (e *Engine) Validate(ctx context.Context, version *schema.FormVersion, answers schema.AnswerTree, vis *visibility.VisibilitySet, pseudo map[string]any) *schema.ValidationReport {
	r := &schema.ValidationReport{}
	sb := expressions.NewScopeBuilder(version, answers, pseudo)

	for _, sec := range version.Sections {
		if !vis.SectionVisible(sec.ID) {
			continue
		}
		instances := answers.SectionAnswers(sec.ID)

		if !sec.IsRepeatable {
			var local map[string]any
			if len(instances) > 0 {
				local = instances[0]
			}
			e.validateInstance(ctx, r, sec, schema.NoInstance, local, vis.Instance(sec.ID, 0), vis.Values(sec.ID, 0), sb.Global())
			continue
		}

		checkCount(r, schema.FieldLocation{Section: sec.ID, Instance: schema.NoInstance},
			len(instances), sec.MinRepeat, sec.MaxRepeat, "entries")
		for i, local := range instances {
			e.validateInstance(ctx, r, sec, i, local, vis.Instance(sec.ID, i), vis.Values(sec.ID, i), sb.ForInstance(sec.ID, local))
		}
	}

	e.validateCustom(ctx, r, version, sanitize.Sanitize(answers, vis), pseudo)
	return r
}

func (e *Engine) validateInstance(ctx context.Context, r *schema.ValidationReport, sec *schema.Section, instance int, local map[string]any, visible visibility.QuestionSet, values visibility.ValueSet, scope map[string]any) {
	for _, q := range sec.Questions {
		if !visible[q.ID] || q.FieldType.IsComputed() {
			continue
		}
		loc := schema.FieldLocation{Section: sec.ID, Instance: instance, Field: q.ID}
		value := local[q.ID]

		if IsEmpty(value) {
			if e.required(ctx, q, scope) {
				r.AddFieldError(loc, schema.ErrCodeValidation, MsgRequired)
			}
			continue
		}

		if !q.IsRepeatable {
			for _, msg := range e.checkValue(q, value) {
				r.AddFieldError(loc, schema.ErrCodeValidation, msg)
			}
			continue
		}

		items, ok := value.([]any)
		if !ok {
			r.AddFieldError(loc, schema.ErrCodeValidation, "must be a list of values")
			continue
		}
		shown := 0
		for i := range items {
			if values.Visible(q.ID, i) {
				shown++
			}
		}
		checkCount(r, loc, shown, q.MinRepeat, q.MaxRepeat, "values")
		for i, item := range items {
			if IsEmpty(item) || !values.Visible(q.ID, i) {
				continue
			}
			for _, msg := range e.checkValue(q, item) {
				r.AddFieldError(loc, schema.ErrCodeValidation, fmt.Sprintf("item %d: %s", i, msg))
			}
		}
	}
}

// required evaluates is_required and required_condition. A failing
// condition degrades to not required.
func (e *Engine) required(ctx context.Context, q *schema.Question, scope map[string]any) bool {
	if q.IsRequired {
		return true
	}
	if q.RequiredCondition == "" {
		return false
	}
	ok, err := e.eval.EvaluateBool(ctx, q.RequiredCondition, scope)
	if err != nil {
		e.logger.DebugContext(ctx, "required condition failed, treating as optional",
			slog.String("field", q.ID),
			slog.String("code", schema.CodeOf(err)))
		return false
	}
	return ok
}

// validateCustom runs the cross-field validations. Only visible answers
// reach them.
func (e *Engine) validateCustom(ctx context.Context, r *schema.ValidationReport, version *schema.FormVersion, sanitized schema.AnswerTree, pseudo map[string]any) {
	if len(version.CustomValidations) == 0 {
		return
	}
	scope := expressions.NewScopeBuilder(version, sanitized, pseudo).Global()
	for _, cv := range version.CustomValidations {
		ok, err := e.eval.EvaluateBool(ctx, cv.Expression, scope)
		switch code := schema.CodeOf(err); {
		case code == schema.ErrCodeSecurityViolation, code == schema.ErrCodeTimeout:
			r.AddGlobalError(code, schema.MsgEvaluationFailed)
		case err != nil, !ok:
			r.AddGlobalError(schema.ErrCodeValidation, cv.ErrorMessage)
		}
	}
}

func checkCount(r *schema.ValidationReport, loc schema.FieldLocation, n, minCount, maxCount int, noun string) {
	if minCount > 0 && n < minCount {
		r.AddFieldError(loc, schema.ErrCodeValidation, fmt.Sprintf("at least %d %s required", minCount, noun))
	}
	if maxCount > 0 && n > maxCount {
		r.AddFieldError(loc, schema.ErrCodeValidation, fmt.Sprintf("at most %d %s allowed", maxCount, noun))
	}
}

// ComputeFields runs the custom_script of every visible calculated and
// custom_api question, in declaration order, and returns a copy of answers
// with the results in place of whatever the client sent. Later scripts see
// earlier results. Failures are reported as field errors with the generic
// message and leave the field unset.
func (e *Engine) ComputeFields(ctx context.Context, version *schema.FormVersion, answers schema.AnswerTree, vis *visibility.VisibilitySet, pseudo map[string]any) (schema.AnswerTree, *schema.ValidationReport) {
	out := answers.Clone()
	if out == nil {
		out = make(schema.AnswerTree)
	}
	r := &schema.ValidationReport{}

	for _, sec := range version.Sections {
		if !vis.SectionVisible(sec.ID) {
			continue
		}
		for _, q := range sec.Questions {
			if !q.FieldType.IsComputed() || q.CustomScript == "" {
				continue
			}
			if !sec.IsRepeatable {
				if !vis.QuestionVisible(sec.ID, 0, q.ID) {
					continue
				}
				local := sectionMap(out, sec.ID)
				scope := expressions.NewScopeBuilder(version, out, pseudo).Global()
				e.compute(ctx, r, q, schema.FieldLocation{Section: sec.ID, Instance: schema.NoInstance, Field: q.ID}, local, scope)
				continue
			}
			for i, local := range out.SectionAnswers(sec.ID) {
				if local == nil || !vis.QuestionVisible(sec.ID, i, q.ID) {
					continue
				}
				sb := expressions.NewScopeBuilder(version, out, pseudo)
				e.compute(ctx, r, q, schema.FieldLocation{Section: sec.ID, Instance: i, Field: q.ID}, local, sb.ForInstance(sec.ID, local))
			}
		}
	}
	return out, r
}

func (e *Engine) compute(ctx context.Context, r *schema.ValidationReport, q *schema.Question, loc schema.FieldLocation, local map[string]any, scope map[string]any) {
	delete(local, q.ID)
	scope[expressions.VariableName(q.ID)] = nil

	result, err := e.eval.ExecScript(ctx, q.CustomScript, scope)
	if err != nil {
		code := schema.CodeOf(err)
		if code == "" {
			code = schema.ErrCodeExecution
		}
		r.AddFieldError(loc, code, schema.MsgEvaluationFailed)
		return
	}
	local[q.ID] = result
}

// sectionMap returns the answer map of a non-repeatable section, creating
// it when absent.
func sectionMap(t schema.AnswerTree, sectionID string) map[string]any {
	if m, ok := t[sectionID].(map[string]any); ok {
		return m
	}
	m := make(map[string]any)
	t[sectionID] = m
	return m
}
