package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rendis/formflow/pkg/schema"
)

// memStore is an in-memory FormStore, ResponseStore and WorkflowStore.
// Values are round-tripped through JSON so callers never share memory
// with the store.
type memStore struct {
	mu        sync.Mutex
	forms     map[string]*schema.Form
	responses map[string]*schema.FormResponse
	history   map[string][]*schema.ResponseHistory
	workflows []*schema.Workflow

	listErr   error
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{
		forms:     make(map[string]*schema.Form),
		responses: make(map[string]*schema.FormResponse),
		history:   make(map[string][]*schema.ResponseHistory),
	}
}

func roundTrip[T any](t T) T {
	raw, err := json.Marshal(t)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return out
}

func (m *memStore) CreateForm(_ context.Context, form *schema.Form) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.forms[form.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "form %q already exists", form.ID)
	}
	m.forms[form.ID] = roundTrip(form)
	return nil
}

func (m *memStore) GetForm(_ context.Context, formID string) (*schema.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.forms[formID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "form %q not found", formID)
	}
	return roundTrip(f), nil
}

func (m *memStore) UpdateForm(_ context.Context, formID string, fn func(*schema.Form) error) (*schema.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.forms[formID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "form %q not found", formID)
	}
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	work := roundTrip(f)
	if err := fn(work); err != nil {
		return nil, err
	}
	m.forms[formID] = roundTrip(work)
	return work, nil
}

func (m *memStore) GetFormVersion(ctx context.Context, formID, label string) (*schema.FormVersion, error) {
	f, err := m.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if label == "" {
		label = f.ActiveVersion
	}
	if v := f.Version(label); v != nil {
		return v, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "form %q has no version %q", formID, label)
}

func (m *memStore) FormExists(_ context.Context, formID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.forms[formID]
	return ok, nil
}

func (m *memStore) CreateResponse(_ context.Context, resp *schema.FormResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[resp.ID] = roundTrip(resp)
	return nil
}

func (m *memStore) GetResponse(_ context.Context, id string) (*schema.FormResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.responses[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "response %q not found", id)
	}
	return roundTrip(r), nil
}

func (m *memStore) UpdateResponse(_ context.Context, resp *schema.FormResponse, hist *schema.ResponseHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[resp.ID] = roundTrip(resp)
	m.history[resp.ID] = append(m.history[resp.ID], roundTrip(hist))
	return nil
}

func (m *memStore) SoftDeleteResponse(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.responses[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "response %q not found", id)
	}
	r.DeletedAt = &at
	return nil
}

func (m *memStore) CountResponses(_ context.Context, formID, label string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.responses {
		if r.FormID == formID && r.VersionLabel == label {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListResponses(_ context.Context, f schema.ResponseFilter) ([]*schema.FormResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.FormResponse
	for _, r := range m.responses {
		if r.FormID != f.FormID || (f.VersionLabel != "" && r.VersionLabel != f.VersionLabel) {
			continue
		}
		if r.Deleted() && !f.IncludeDeleted {
			continue
		}
		out = append(out, roundTrip(r))
	}
	return out, nil
}

func (m *memStore) ListResponseHistory(_ context.Context, id string) ([]*schema.ResponseHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history[id], nil
}

func (m *memStore) SaveWorkflow(_ context.Context, wf *schema.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.workflows {
		if w.ID == wf.ID {
			m.workflows[i] = roundTrip(wf)
			return nil
		}
	}
	m.workflows = append(m.workflows, roundTrip(wf))
	return nil
}

func (m *memStore) GetWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.workflows {
		if w.ID == id {
			return roundTrip(w), nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
}

func (m *memStore) ListActiveWorkflows(_ context.Context, formID string) ([]*schema.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*schema.Workflow
	for _, w := range m.workflows {
		if w.IsActive && w.TriggerFormID == formID {
			out = append(out, roundTrip(w))
		}
	}
	return out, nil
}

type testEnv struct {
	engine *Engine
	store  *memStore
	events *mockAppender
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := newMemStore()
	app := &mockAppender{}
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e, err := New(Deps{
		Forms:     st,
		Responses: st,
		Workflows: st,
		Events:    app,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	require.NoError(t, err)
	return &testEnv{engine: e, store: st, events: app}
}

// createForm stores a form whose first version is content.
func (env *testEnv) createForm(t *testing.T, id string, content *schema.FormVersion) *schema.Form {
	t.Helper()
	f, _, err := env.engine.CreateForm(context.Background(), CreateFormRequest{ID: id, Title: id, Version: content})
	require.NoError(t, err)
	return f
}

func mainSection(questions ...*schema.Question) *schema.FormVersion {
	return &schema.FormVersion{Sections: []*schema.Section{{ID: "main", Questions: questions}}}
}

func yesNo(id string) *schema.Question {
	return &schema.Question{ID: id, FieldType: schema.FieldChoice, Options: []schema.Option{
		{ID: id + "-yes", Value: "yes"}, {ID: id + "-no", Value: "no"},
	}}
}
