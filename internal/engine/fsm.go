package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rendis/formflow/pkg/schema"
)

// TransitionHook is called before or after a version state transition.
type TransitionHook func(from, to string) error

// EventAppender is satisfied by the Store; used by the FSM to emit lifecycle events.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *schema.Event) error
}

// ValidVersionTransitions defines allowed version status transitions.
// Re-publishing an already published version is a no-op transition that
// still emits form_published.
var ValidVersionTransitions = map[schema.VersionStatus][]schema.VersionStatus{
	schema.VersionStatusDraft:     {schema.VersionStatusPublished},
	schema.VersionStatusPublished: {schema.VersionStatusPublished},
}

type versionHookKey struct {
	from, to schema.VersionStatus
}

// FormFSM manages form version lifecycle transitions and emits the
// lifecycle event log.
type FormFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[versionHookKey][]TransitionHook
	after    map[versionHookKey][]TransitionHook
}

// NewFormFSM creates a new FormFSM that emits events via the given appender.
func NewFormFSM(appender EventAppender) *FormFSM {
	return &FormFSM{
		appender: appender,
		before:   make(map[versionHookKey][]TransitionHook),
		after:    make(map[versionHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a version transition.
func (f *FormFSM) OnBefore(from, to schema.VersionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := versionHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a version transition.
func (f *FormFSM) OnAfter(from, to schema.VersionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := versionHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to schema.VersionStatus) bool {
	for _, a := range ValidVersionTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// Transition validates and executes a version state transition and emits
// the corresponding event. It is Check followed by Commit; callers that
// persist the new state in between use the two halves directly.
func (f *FormFSM) Transition(ctx context.Context, formID, label string, from, to schema.VersionStatus) error {
	if err := f.Check(formID, label, from, to); err != nil {
		return err
	}
	return f.Commit(ctx, formID, label, from, to)
}

// Check validates from -> to against the table and runs the before hooks.
// Nothing is emitted.
func (f *FormFSM) Check(formID, label string, from, to schema.VersionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !CanTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid version transition: %s -> %s", from, to).
			WithDetails(map[string]any{"form_id": formID, "label": label, "from": string(from), "to": string(to)})
	}

	for _, hook := range f.before[versionHookKey{from, to}] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}
	return nil
}

// Commit emits the event of a transition whose new state is persisted and
// runs the after hooks.
func (f *FormFSM) Commit(ctx context.Context, formID, label string, from, to schema.VersionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if eventType := versionEventType(to); eventType != "" {
		if err := f.emit(ctx, formID, "", eventType, map[string]any{"label": label, "from": string(from)}); err != nil {
			return err
		}
	}

	for _, hook := range f.after[versionHookKey{from, to}] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}
	return nil
}

// Record emits a lifecycle event that is not tied to a status change,
// such as version creation or activation.
func (f *FormFSM) Record(ctx context.Context, formID, responseID, eventType string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emit(ctx, formID, responseID, eventType, payload)
}

func (f *FormFSM) emit(ctx context.Context, formID, responseID, eventType string, payload map[string]any) error {
	if f.appender == nil {
		return nil
	}
	event := &schema.Event{FormID: formID, ResponseID: responseID, Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "encode %s payload: %s", eventType, err.Error()).WithCause(err)
		}
		event.Payload = raw
	}
	if err := f.appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit %s event: %s", eventType, err.Error()).WithCause(err)
	}
	return nil
}

func versionEventType(to schema.VersionStatus) string {
	switch to {
	case schema.VersionStatusPublished:
		return schema.EventFormPublished
	default:
		return ""
	}
}
