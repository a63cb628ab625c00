package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/formflow/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func testVersion(label string) *schema.FormVersion {
	return &schema.FormVersion{
		Label:  label,
		Status: schema.VersionStatusDraft,
		Sections: []*schema.Section{{
			ID:    "main",
			Title: "Main",
			Questions: []*schema.Question{
				{ID: "age", Label: "Age", FieldType: schema.FieldNumber},
			},
		}},
		CreatedAt: time.Now().UTC(),
	}
}

func seedForm(t *testing.T, s *LibSQLStore, versions ...*schema.FormVersion) *schema.Form {
	t.Helper()
	if len(versions) == 0 {
		versions = []*schema.FormVersion{testVersion("1.0")}
	}
	now := time.Now().UTC()
	f := &schema.Form{
		ID:            uuid.New().String(),
		Title:         "Intake",
		Status:        schema.FormStatusDraft,
		ActiveVersion: versions[0].Label,
		Versions:      versions,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, s.CreateForm(context.Background(), f))
	return f
}

func seedResponse(t *testing.T, s *LibSQLStore, formID, label string, answers schema.AnswerTree) *schema.FormResponse {
	t.Helper()
	now := time.Now().UTC()
	r := &schema.FormResponse{
		ID:           uuid.New().String(),
		FormID:       formID,
		VersionLabel: label,
		Answers:      answers,
		Submitter:    "ana",
		SubmittedAt:  now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.CreateResponse(context.Background(), r))
	return r
}

// --- Form Tests ---

func TestCreateAndGetForm(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seedForm(t, s, testVersion("1.0"), testVersion("1.1"))

	got, err := s.GetForm(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "Intake", got.Title)
	assert.Equal(t, schema.FormStatusDraft, got.Status)
	assert.Equal(t, "1.0", got.ActiveVersion)
	require.Len(t, got.Versions, 2)
	assert.Equal(t, "1.0", got.Versions[0].Label)
	assert.Equal(t, "1.1", got.Versions[1].Label)
	require.Len(t, got.Versions[0].Sections, 1)
	assert.Equal(t, schema.FieldNumber, got.Versions[0].Sections[0].Questions[0].FieldType)
	assert.Nil(t, got.Versions[0].PublishedAt)
}

func TestCreateForm_Duplicate(t *testing.T) {
	s := newTestStore(t)
	f := seedForm(t, s)

	err := s.CreateForm(context.Background(), &schema.Form{ID: f.ID, Title: "again"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
}

func TestGetForm_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetForm(context.Background(), "nonexistent")
	require.Error(t, err)
	var fe *schema.FormError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeNotFound, fe.Code)
}

func TestFormExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seedForm(t, s)

	ok, err := s.FormExists(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.FormExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetFormVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seedForm(t, s, testVersion("1.0"), testVersion("1.1"))

	v, err := s.GetFormVersion(ctx, f.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "1.0", v.Label, "empty label resolves to the active version")

	v, err = s.GetFormVersion(ctx, f.ID, "1.1")
	require.NoError(t, err)
	assert.Equal(t, "1.1", v.Label)

	_, err = s.GetFormVersion(ctx, f.ID, "9.9")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	_, err = s.GetFormVersion(ctx, "missing", "")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestGetFormVersion_NoActiveVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seedForm(t, s)
	_, err := s.UpdateForm(ctx, f.ID, func(form *schema.Form) error {
		form.ActiveVersion = ""
		return nil
	})
	require.NoError(t, err)

	_, err = s.GetFormVersion(ctx, f.ID, "")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestUpdateForm_PublishAndAppend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seedForm(t, s)

	now := time.Now().UTC()
	updated, err := s.UpdateForm(ctx, f.ID, func(form *schema.Form) error {
		v := form.Version("1.0")
		v.Status = schema.VersionStatusPublished
		v.PublishedAt = &now
		form.Status = schema.FormStatusPublished
		next := testVersion("1.1")
		form.Versions = append(form.Versions, next)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, updated.Versions, 2)

	got, err := s.GetForm(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.FormStatusPublished, got.Status)
	require.Len(t, got.Versions, 2)
	assert.Equal(t, schema.VersionStatusPublished, got.Versions[0].Status)
	require.NotNil(t, got.Versions[0].PublishedAt)
	assert.WithinDuration(t, now, *got.Versions[0].PublishedAt, time.Second)
	assert.Equal(t, schema.VersionStatusDraft, got.Versions[1].Status)
}

func TestUpdateForm_CallbackErrorRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seedForm(t, s)

	boom := schema.NewError(schema.ErrCodeConflict, "stop")
	_, err := s.UpdateForm(ctx, f.ID, func(form *schema.Form) error {
		form.Title = "changed"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetForm(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "Intake", got.Title)

	_, err = s.UpdateForm(ctx, "missing", func(*schema.Form) error { return nil })
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestUpdateForm_PublishedContentIsImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := testVersion("1.0")
	v.Status = schema.VersionStatusPublished
	f := seedForm(t, s, v)

	_, err := s.UpdateForm(ctx, f.ID, func(form *schema.Form) error {
		form.Versions[0].Sections[0].Title = "Edited"
		return nil
	})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	got, err := s.GetForm(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "Main", got.Versions[0].Sections[0].Title)
}

func TestUpdateForm_ReferencedContentIsImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seedForm(t, s)
	seedResponse(t, s, f.ID, "1.0", schema.AnswerTree{"main": []any{map[string]any{"age": 3.0}}})

	_, err := s.UpdateForm(ctx, f.ID, func(form *schema.Form) error {
		form.Versions[0].Sections[0].Questions[0].Label = "Years"
		return nil
	})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	// Metadata-only changes still go through.
	_, err = s.UpdateForm(ctx, f.ID, func(form *schema.Form) error {
		form.Title = "Renamed"
		return nil
	})
	require.NoError(t, err)
}

func TestListForms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedForm(t, s)
	seedForm(t, s)
	_, err := s.UpdateForm(ctx, a.ID, func(form *schema.Form) error {
		form.Status = schema.FormStatusPublished
		return nil
	})
	require.NoError(t, err)

	all, err := s.ListForms(ctx, FormFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	published, err := s.ListForms(ctx, FormFilter{Status: schema.FormStatusPublished})
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, a.ID, published[0].ID)
	assert.Len(t, published[0].Versions, 1)

	limited, err := s.ListForms(ctx, FormFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// --- Response Tests ---

func TestCreateAndGetResponse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seedForm(t, s)
	r := seedResponse(t, s, f.ID, "1.0", schema.AnswerTree{"main": []any{map[string]any{"age": 42.0}}})

	got, err := s.GetResponse(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.FormID)
	assert.Equal(t, "1.0", got.VersionLabel)
	assert.Equal(t, "ana", got.Submitter)
	v, ok := got.Answers.Lookup("main", "age")
	require.True(t, ok)
	assert.Equal(t, 42.0, v)
	assert.False(t, got.Deleted())

	_, err = s.GetResponse(ctx, "missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestCreateResponse_UnknownVersion(t *testing.T) {
	s := newTestStore(t)
	f := seedForm(t, s)
	err := s.CreateResponse(context.Background(), &schema.FormResponse{
		ID: uuid.New().String(), FormID: f.ID, VersionLabel: "7.0", Answers: schema.AnswerTree{},
	})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
}

func TestUpdateResponse_WritesHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seedForm(t, s)
	r := seedResponse(t, s, f.ID, "1.0", schema.AnswerTree{"main": []any{map[string]any{"age": 1.0}}})

	before, _ := json.Marshal(r.Answers)
	r.Answers = schema.AnswerTree{"main": []any{map[string]any{"age": 2.0}}}
	after, _ := json.Marshal(r.Answers)
	r.UpdatedAt = time.Now().UTC()
	hist := &schema.ResponseHistory{
		ID:         uuid.New().String(),
		ResponseID: r.ID,
		Editor:     "bo",
		Before:     before,
		After:      after,
		CreatedAt:  r.UpdatedAt,
	}
	require.NoError(t, s.UpdateResponse(ctx, r, hist))

	got, err := s.GetResponse(ctx, r.ID)
	require.NoError(t, err)
	v, _ := got.Answers.Lookup("main", "age")
	assert.Equal(t, 2.0, v)

	history, err := s.ListResponseHistory(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "bo", history[0].Editor)
	assert.JSONEq(t, string(before), string(history[0].Before))
	assert.JSONEq(t, string(after), string(history[0].After))
}

func TestResponseHistory_AppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seedForm(t, s)
	r := seedResponse(t, s, f.ID, "1.0", schema.AnswerTree{})
	require.NoError(t, s.UpdateResponse(ctx, r, &schema.ResponseHistory{
		ID: uuid.New().String(), ResponseID: r.ID, Before: json.RawMessage(`{}`), After: json.RawMessage(`{}`),
	}))

	_, err := s.DB().ExecContext(ctx, `UPDATE response_history SET editor = 'x'`)
	assert.Error(t, err)
	_, err = s.DB().ExecContext(ctx, `DELETE FROM response_history`)
	assert.Error(t, err)
}

func TestSoftDeleteResponse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seedForm(t, s)
	r := seedResponse(t, s, f.ID, "1.0", schema.AnswerTree{})

	require.NoError(t, s.SoftDeleteResponse(ctx, r.ID, time.Now().UTC()))

	got, err := s.GetResponse(ctx, r.ID)
	require.NoError(t, err, "soft-deleted responses remain readable")
	assert.True(t, got.Deleted())

	err = s.SoftDeleteResponse(ctx, r.ID, time.Now().UTC())
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	err = s.UpdateResponse(ctx, got, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound), "deleted responses cannot be edited")

	n, err := s.CountResponses(ctx, f.ID, "1.0")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "deleted responses still pin their version")
}

func TestListResponses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := seedForm(t, s, testVersion("1.0"), testVersion("1.1"))
	r1 := seedResponse(t, s, f.ID, "1.0", schema.AnswerTree{})
	r2 := seedResponse(t, s, f.ID, "1.1", schema.AnswerTree{})
	r3 := seedResponse(t, s, f.ID, "1.1", schema.AnswerTree{})
	require.NoError(t, s.SoftDeleteResponse(ctx, r3.ID, time.Now().UTC()))

	all, err := s.ListResponses(ctx, schema.ResponseFilter{FormID: f.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, r1.ID, all[0].ID)
	assert.Equal(t, r2.ID, all[1].ID)

	withDeleted, err := s.ListResponses(ctx, schema.ResponseFilter{FormID: f.ID, IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, withDeleted, 3)

	byVersion, err := s.ListResponses(ctx, schema.ResponseFilter{FormID: f.ID, VersionLabel: "1.1"})
	require.NoError(t, err)
	require.Len(t, byVersion, 1)
	assert.Equal(t, r2.ID, byVersion[0].ID)

	none, err := s.ListResponses(ctx, schema.ResponseFilter{FormID: f.ID, Submitter: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, none)

	limited, err := s.ListResponses(ctx, schema.ResponseFilter{FormID: f.ID, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// --- Workflow Tests ---

func TestSaveAndGetWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := &schema.Workflow{
		ID:               uuid.New().String(),
		Name:             "escalate",
		TriggerFormID:    "F",
		TriggerCondition: "age > 18",
		IsActive:         true,
		Actions: []schema.WorkflowAction{{
			Type:         schema.ActionRedirectToForm,
			TargetFormID: "G",
			DataMapping:  map[string]string{"x": "age"},
		}},
	}
	require.NoError(t, s.SaveWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf, got)

	_, err = s.GetWorkflow(ctx, "missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestListActiveWorkflows_KeepsSaveOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"first", "second", "third"} {
		wf := &schema.Workflow{ID: uuid.New().String(), Name: name, TriggerFormID: "F", IsActive: true}
		require.NoError(t, s.SaveWorkflow(ctx, wf))
		ids = append(ids, wf.ID)
	}
	require.NoError(t, s.SaveWorkflow(ctx, &schema.Workflow{ID: uuid.New().String(), Name: "other", TriggerFormID: "G", IsActive: true}))

	// Re-saving the first keeps its position; deactivating the second hides it.
	require.NoError(t, s.SaveWorkflow(ctx, &schema.Workflow{ID: ids[0], Name: "first v2", TriggerFormID: "F", IsActive: true}))
	require.NoError(t, s.SaveWorkflow(ctx, &schema.Workflow{ID: ids[1], Name: "second", TriggerFormID: "F", IsActive: false}))

	active, err := s.ListActiveWorkflows(ctx, "F")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, ids[0], active[0].ID)
	assert.Equal(t, "first v2", active[0].Name)
	assert.Equal(t, ids[2], active[1].ID)
}

func TestVacuum(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Vacuum(context.Background()))
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}
