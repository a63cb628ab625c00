package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/formflow/pkg/schema"
)

func redirectWorkflow(target string) *schema.Workflow {
	return &schema.Workflow{
		Name:          "route",
		TriggerFormID: "F",
		IsActive:      true,
		Actions:       []schema.WorkflowAction{{Type: schema.ActionRedirectToForm, TargetFormID: target}},
	}
}

func TestSaveWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createForm(t, "F", mainSection(&schema.Question{ID: "age", FieldType: schema.FieldNumber}))
	env.createForm(t, "G", mainSection(&schema.Question{ID: "x", FieldType: schema.FieldText}))

	in := redirectWorkflow("G")
	in.Actions[0].DataMapping = map[string]string{"x": "age"}
	saved, warnings, err := env.engine.SaveWorkflow(ctx, in)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.NotEmpty(t, saved.ID)
	assert.Empty(t, in.ID, "caller's workflow is not modified")

	in.Actions[0].DataMapping["x"] = "changed"
	got, err := env.engine.GetWorkflow(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "age", got.Actions[0].DataMapping["x"])
	assert.Contains(t, env.events.Types(), schema.EventWorkflowSaved)

	saved.IsActive = false
	_, _, err = env.engine.SaveWorkflow(ctx, saved)
	require.NoError(t, err)
	active, err := env.store.ListActiveWorkflows(ctx, "F")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSaveWorkflow_MissingForms(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createForm(t, "F", mainSection(&schema.Question{ID: "age", FieldType: schema.FieldNumber}))

	_, _, err := env.engine.SaveWorkflow(ctx, redirectWorkflow("gone"))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	var fe *schema.FormError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "actions[0].target_form_id", fe.Field)

	wf := redirectWorkflow("F")
	wf.TriggerFormID = "nowhere"
	_, _, err = env.engine.SaveWorkflow(ctx, wf)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestSaveWorkflow_InvalidDefinition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createForm(t, "F", mainSection(&schema.Question{ID: "age", FieldType: schema.FieldNumber}))

	wf := redirectWorkflow("F")
	wf.TriggerCondition = "salary > 10"
	_, _, err := env.engine.SaveWorkflow(ctx, wf)
	var report *schema.ValidationReport
	require.ErrorAs(t, err, &report)
	assert.False(t, report.Valid())

	_, _, err = env.engine.SaveWorkflow(ctx, &schema.Workflow{Name: "empty"})
	require.ErrorAs(t, err, &report)

	_, _, err = env.engine.SaveWorkflow(ctx, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestSaveWorkflow_TriggerWithoutActiveVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createForm(t, "F", nil)

	wf := redirectWorkflow("F")
	wf.TriggerCondition = "anything > 1"
	_, _, err := env.engine.SaveWorkflow(ctx, wf)
	require.NoError(t, err, "conditions are only compiled while the trigger form has no active version")
}
