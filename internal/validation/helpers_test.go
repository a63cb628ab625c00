package validation

import (
	"context"
	"testing"

	"github.com/rendis/formflow/internal/expressions"
	"github.com/rendis/formflow/internal/visibility"
	"github.com/rendis/formflow/pkg/schema"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator(t *testing.T) *expressions.Evaluator {
	t.Helper()
	return expressions.NewEvaluator(expressions.DefaultConfig(), nil)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	jsv, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return NewEngine(newTestEvaluator(t), jsv, nil)
}

func newTestDefinitionValidator(t *testing.T) *DefinitionValidator {
	t.Helper()
	jsv, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return NewDefinitionValidator(newTestEvaluator(t), jsv)
}

// validate resolves visibility and runs the engine, as a submission does.
func validate(t *testing.T, e *Engine, v *schema.FormVersion, answers schema.AnswerTree) *schema.ValidationReport {
	t.Helper()
	vis := visibility.NewResolver(e.eval, nil).Resolve(context.Background(), v, answers, nil)
	return e.Validate(context.Background(), v, answers, vis, nil)
}

func singleSection(questions ...*schema.Question) *schema.FormVersion {
	return &schema.FormVersion{
		Label:    "1.0",
		Sections: []*schema.Section{{ID: "main", Questions: questions}},
	}
}

func yesNo(id string) *schema.Question {
	return &schema.Question{
		ID:        id,
		FieldType: schema.FieldChoice,
		Options:   []schema.Option{{ID: id + "-yes", Value: "yes"}, {ID: id + "-no", Value: "no"}},
	}
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
