package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/formflow/pkg/schema"
)

func scenarioBVersion() *schema.FormVersion {
	return mainSection(
		yesNo("Q1"),
		&schema.Question{ID: "Q2", FieldType: schema.FieldText, VisibilityCondition: "Q1 == 'yes'"},
	)
}

func TestSubmit_ScenarioB_HiddenAnswersAreNotPersisted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createForm(t, "F", scenarioBVersion())

	sub, err := env.engine.Submit(ctx, SubmitRequest{
		FormID:  "F",
		Answers: schema.AnswerTree{"main": map[string]any{"Q1": "no", "Q2": "leaked"}},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.AnswerTree{"main": map[string]any{"Q1": "no"}}, sub.Response.Answers)
	assert.Equal(t, "1.0", sub.Response.VersionLabel)

	stored, err := env.store.GetResponse(ctx, sub.Response.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.Answers["main"], "Q2")
	assert.Contains(t, env.events.Types(), schema.EventResponseSubmitted)
}

func TestSubmit_ScenarioC_TriggersWorkflows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createForm(t, "F", mainSection(&schema.Question{ID: "age", FieldType: schema.FieldNumber}))
	env.createForm(t, "G", mainSection(&schema.Question{ID: "years", FieldType: schema.FieldNumber}))

	_, _, err := env.engine.SaveWorkflow(ctx, &schema.Workflow{
		ID:               "adult",
		Name:             "adult follow-up",
		TriggerFormID:    "F",
		TriggerCondition: "age > 18",
		IsActive:         true,
		Actions: []schema.WorkflowAction{{
			Type:         schema.ActionRedirectToForm,
			TargetFormID: "G",
			DataMapping:  map[string]string{"years": "age", "from": "response_id"},
		}},
	})
	require.NoError(t, err)

	sub, err := env.engine.Submit(ctx, SubmitRequest{FormID: "F", Answers: schema.AnswerTree{"main": map[string]any{"age": 25.0}}})
	require.NoError(t, err)
	require.Len(t, sub.Matched, 1)
	assert.Equal(t, "adult", sub.Matched[0].WorkflowID)
	require.Len(t, sub.Matched[0].Actions, 1)
	assert.Equal(t, "G", sub.Matched[0].Actions[0].TargetFormID)
	assert.Equal(t, 25.0, sub.Matched[0].Actions[0].Data["years"])
	assert.Equal(t, sub.Response.ID, sub.Matched[0].Actions[0].Data["from"])
	assert.Contains(t, env.events.Types(), schema.EventWorkflowMatched)

	sub, err = env.engine.Submit(ctx, SubmitRequest{FormID: "F", Answers: schema.AnswerTree{"main": map[string]any{"age": 15.0}}})
	require.NoError(t, err)
	assert.Empty(t, sub.Matched)
	assert.Empty(t, sub.TriggerWarnings)
}

func TestSubmit_ValidationFailureStoresNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createForm(t, "F", mainSection(
		yesNo("Q1"),
		&schema.Question{ID: "Q2", FieldType: schema.FieldText, RequiredCondition: "Q1 == 'yes'"},
	))

	_, err := env.engine.Submit(ctx, SubmitRequest{FormID: "F", Answers: schema.AnswerTree{"main": map[string]any{"Q1": "yes"}}})
	var report *schema.ValidationReport
	require.ErrorAs(t, err, &report)
	assert.True(t, report.HasFieldError("Q2"))

	rows, err := env.store.ListResponses(ctx, schema.ResponseFilter{FormID: "F", IncludeDeleted: true})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NotContains(t, env.events.Types(), schema.EventResponseSubmitted)
}

func TestSubmit_UnknownFormOrVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Submit(ctx, SubmitRequest{FormID: "nope"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	env.createForm(t, "F", scenarioBVersion())
	_, err = env.engine.Submit(ctx, SubmitRequest{FormID: "F", VersionLabel: "7.0"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestSubmit_ComputedFieldsAndMarkup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createForm(t, "F", mainSection(
		&schema.Question{ID: "price", FieldType: schema.FieldNumber},
		&schema.Question{ID: "qty", FieldType: schema.FieldNumber},
		&schema.Question{ID: "total", FieldType: schema.FieldCalculated, CustomScript: "result = price * qty"},
		&schema.Question{ID: "note", FieldType: schema.FieldText},
	))

	sub, err := env.engine.Submit(ctx, SubmitRequest{FormID: "F", Answers: schema.AnswerTree{"main": map[string]any{
		"price": 2.0, "qty": 3.0, "total": 1000.0, "note": "<b>hi</b><script>x()</script>",
	}}})
	require.NoError(t, err)
	main := sub.Response.Answers["main"].(map[string]any)
	assert.Equal(t, 6.0, main["total"])
	assert.Equal(t, "hi", main["note"])
}

func TestSubmit_TriggerLookupFailureIsAWarning(t *testing.T) {
	env := newTestEnv(t)
	env.createForm(t, "F", scenarioBVersion())
	env.store.listErr = errors.New("db down")

	sub, err := env.engine.Submit(context.Background(), SubmitRequest{FormID: "F", Answers: schema.AnswerTree{"main": map[string]any{"Q1": "no"}}})
	require.NoError(t, err)
	assert.Empty(t, sub.Matched)
	require.Len(t, sub.TriggerWarnings, 1)
	assert.Equal(t, schema.ErrCodeTriggerWarning, sub.TriggerWarnings[0].Code)
}

func TestSubmit_PseudoVariables(t *testing.T) {
	env := newTestEnv(t)
	v := mainSection(&schema.Question{ID: "note", FieldType: schema.FieldText})
	v.CustomValidations = []schema.CustomValidation{
		{Expression: "submitter == 'ann' && form_id == 'F' && response_id != nil", ErrorMessage: "pseudo-variables missing"},
	}
	env.createForm(t, "F", v)

	_, err := env.engine.Submit(context.Background(), SubmitRequest{FormID: "F", Submitter: "ann", Answers: schema.AnswerTree{}})
	require.NoError(t, err)

	_, err = env.engine.Submit(context.Background(), SubmitRequest{FormID: "F", Answers: schema.AnswerTree{}})
	require.Error(t, err)
}

func TestEditResponse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createForm(t, "F", scenarioBVersion())

	sub, err := env.engine.Submit(ctx, SubmitRequest{FormID: "F", Answers: schema.AnswerTree{"main": map[string]any{"Q1": "no"}}})
	require.NoError(t, err)
	id := sub.Response.ID

	// The bound version is used even after a newer one becomes active.
	_, err = env.engine.Publish(ctx, "F")
	require.NoError(t, err)
	_, _, err = env.engine.UpdateDraft(ctx, "F", "1.1", mainSection(&schema.Question{ID: "other", FieldType: schema.FieldText}))
	require.NoError(t, err)
	require.NoError(t, env.engine.Activate(ctx, "F", "1.1"))

	edited, err := env.engine.EditResponse(ctx, EditRequest{
		ResponseID: id,
		Editor:     "admin",
		Answers:    schema.AnswerTree{"main": map[string]any{"Q1": "yes", "Q2": "now visible"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0", edited.Response.VersionLabel)
	assert.Equal(t, "now visible", edited.Response.Answers["main"].(map[string]any)["Q2"])
	assert.True(t, edited.Response.UpdatedAt.After(edited.Response.SubmittedAt))
	assert.Empty(t, edited.Matched, "edits do not re-trigger workflows")

	history, err := env.engine.ResponseHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "admin", history[0].Editor)
	var before, after map[string]any
	require.NoError(t, json.Unmarshal(history[0].Before, &before))
	require.NoError(t, json.Unmarshal(history[0].After, &after))
	assert.Equal(t, map[string]any{"main": map[string]any{"Q1": "no"}}, before)
	assert.Equal(t, "yes", after["main"].(map[string]any)["Q1"])

	// An invalid edit changes nothing.
	_, err = env.engine.EditResponse(ctx, EditRequest{ResponseID: id, Answers: schema.AnswerTree{"main": map[string]any{"Q1": "maybe"}}})
	require.Error(t, err)
	history, err = env.engine.ResponseHistory(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestDeleteResponse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createForm(t, "F", scenarioBVersion())

	sub, err := env.engine.Submit(ctx, SubmitRequest{FormID: "F", Answers: schema.AnswerTree{"main": map[string]any{"Q1": "no"}}})
	require.NoError(t, err)
	id := sub.Response.ID
	_, err = env.engine.EditResponse(ctx, EditRequest{ResponseID: id, Answers: schema.AnswerTree{"main": map[string]any{"Q1": "yes"}}})
	require.NoError(t, err)

	require.NoError(t, env.engine.DeleteResponse(ctx, id))
	assert.True(t, schema.IsCode(env.engine.DeleteResponse(ctx, id), schema.ErrCodeNotFound))

	_, err = env.engine.EditResponse(ctx, EditRequest{ResponseID: id, Answers: schema.AnswerTree{}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	history, err := env.engine.ResponseHistory(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 1, "history survives soft deletes")
	assert.Contains(t, env.events.Types(), schema.EventResponseDeleted)
}

func TestQueryResponses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createForm(t, "F", scenarioBVersion())

	for _, q1 := range []string{"yes", "no"} {
		_, err := env.engine.Submit(ctx, SubmitRequest{FormID: "F", Submitter: "ann", Answers: schema.AnswerTree{"main": map[string]any{"Q1": q1}}})
		require.NoError(t, err)
	}

	rows, err := env.engine.QueryResponses(ctx, QueryRequest{FormID: "F"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.NotNil(t, r.Answers)
		assert.Nil(t, r.Result)
	}

	rows, err = env.engine.QueryResponses(ctx, QueryRequest{FormID: "F", Query: "{q1: .main.Q1, who: $submitter}"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	var seen []any
	for _, r := range rows {
		m := r.Result.(map[string]any)
		assert.Equal(t, "ann", m["who"])
		seen = append(seen, m["q1"])
	}
	assert.ElementsMatch(t, []any{"yes", "no"}, seen)

	_, err = env.engine.QueryResponses(ctx, QueryRequest{FormID: "F", Query: ".["})
	assert.True(t, schema.IsCode(err, schema.ErrCodeSyntax))

	_, err = env.engine.QueryResponses(ctx, QueryRequest{FormID: "missing"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestSubmit_VisibilityCycleIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.createForm(t, "F", mainSection(
		&schema.Question{ID: "a", FieldType: schema.FieldText, VisibilityCondition: "b == 'x'"},
		&schema.Question{ID: "b", FieldType: schema.FieldText, VisibilityCondition: "a == 'x'"},
	))

	sub, err := env.engine.Submit(context.Background(), SubmitRequest{
		FormID:  "F",
		Answers: schema.AnswerTree{"main": map[string]any{"a": "x", "b": "x"}},
	})
	require.NoError(t, err, "cycles warn, they never reject")
	codes := make([]string, 0, len(sub.Warnings))
	for _, w := range sub.Warnings {
		codes = append(codes, w.Code)
	}
	assert.Contains(t, codes, schema.ErrCodeCycleDetected)
	assert.Contains(t, env.events.Types(), schema.EventVisibilityCycleWarned)
}

func TestSubmit_VisibilityFollowsRecomputedFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createForm(t, "F", mainSection(
		&schema.Question{ID: "base", FieldType: schema.FieldNumber},
		&schema.Question{ID: "calc", FieldType: schema.FieldCalculated, CustomScript: "result = base * 2"},
		&schema.Question{ID: "secret", FieldType: schema.FieldText, VisibilityCondition: "calc > 100"},
		&schema.Question{ID: "bonus", FieldType: schema.FieldCalculated, CustomScript: "result = calc + 1", VisibilityCondition: "calc > 100"},
	))

	t.Run("forged computed value cannot reveal a field", func(t *testing.T) {
		sub, err := env.engine.Submit(ctx, SubmitRequest{FormID: "F", Answers: schema.AnswerTree{"main": map[string]any{
			"base": 1.0, "calc": 1000.0, "secret": "leaked", "bonus": 5.0,
		}}})
		require.NoError(t, err)
		assert.Equal(t, schema.AnswerTree{"main": map[string]any{"base": 1.0, "calc": 2.0}}, sub.Response.Answers)
		assert.False(t, sub.Visibility.QuestionVisible("main", 0, "secret"))

		stored, err := env.store.GetResponse(ctx, sub.Response.ID)
		require.NoError(t, err)
		assert.NotContains(t, stored.Answers["main"], "secret")
	})

	t.Run("computed value reveals dependent fields", func(t *testing.T) {
		sub, err := env.engine.Submit(ctx, SubmitRequest{FormID: "F", Answers: schema.AnswerTree{"main": map[string]any{
			"base": 60.0, "secret": "shown",
		}}})
		require.NoError(t, err)
		assert.Equal(t, schema.AnswerTree{"main": map[string]any{
			"base": 60.0, "calc": 120.0, "secret": "shown", "bonus": 121.0,
		}}, sub.Response.Answers)
	})
}
