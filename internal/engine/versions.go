package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/formflow/internal/logging"
	"github.com/rendis/formflow/pkg/schema"
)

// CreateFormRequest describes a new form. Version, when set, becomes the
// form's first version and its active one.
type CreateFormRequest struct {
	ID      string              `json:"id,omitempty"`
	Title   string              `json:"title"`
	Version *schema.FormVersion `json:"version,omitempty"`
}

// PublishResult names the version that was published and the draft that
// was appended after it.
type PublishResult struct {
	PublishedVersion string `json:"published_version"`
	NextDraftVersion string `json:"next_draft_version"`
}

// CreateForm stores a new draft form. The returned issues are definition
// warnings; an invalid first version fails with its *schema.ValidationReport.
func (e *Engine) CreateForm(ctx context.Context, req CreateFormRequest) (*schema.Form, []schema.ValidationIssue, error) {
	if req.Title == "" {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "form title is required").WithField("title")
	}
	now := e.now()
	form := &schema.Form{
		ID:        req.ID,
		Title:     req.Title,
		Status:    schema.FormStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if form.ID == "" {
		form.ID = newID()
	}
	ctx = logging.WithFormID(ctx, form.ID)

	var warnings []schema.ValidationIssue
	if req.Version != nil {
		v := draftOf(req.Version, req.Version.Label, now)
		if v.Label == "" {
			v.Label = DefaultLabel
		}
		var err error
		if warnings, err = e.checkVersion(v); err != nil {
			return nil, nil, err
		}
		form.Versions = []*schema.FormVersion{v}
		form.ActiveVersion = v.Label
	}

	if err := e.forms.CreateForm(ctx, form); err != nil {
		return nil, nil, err
	}
	e.logger.InfoContext(ctx, "form created", slog.Int("versions", len(form.Versions)))
	e.record(ctx, form.ID, "", schema.EventFormCreated, map[string]any{"title": form.Title})
	for _, v := range form.Versions {
		e.record(ctx, form.ID, "", schema.EventFormVersionCreated, map[string]any{"label": v.Label})
	}
	return form, warnings, nil
}

// CreateVersion appends a new draft version. An empty label takes the label
// after the latest version. Duplicate labels are a CONFLICT.
func (e *Engine) CreateVersion(ctx context.Context, formID, label string, content *schema.FormVersion) (*schema.FormVersion, []schema.ValidationIssue, error) {
	if content == nil {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "version content is required")
	}
	ctx = logging.WithFormID(ctx, formID)

	if label == "" {
		form, err := e.forms.GetForm(ctx, formID)
		if err != nil {
			return nil, nil, err
		}
		label = DefaultLabel
		if latest := form.Latest(); latest != nil {
			label = NextLabel(latest.Label, func(l string) bool { return form.Version(l) != nil })
		}
	}

	v := draftOf(content, label, e.now())
	warnings, err := e.checkVersion(v)
	if err != nil {
		return nil, nil, err
	}

	_, err = e.forms.UpdateForm(ctx, formID, func(f *schema.Form) error {
		if f.Version(label) != nil {
			return schema.NewErrorf(schema.ErrCodeConflict, "form %q already has version %q", formID, label)
		}
		f.Versions = append(f.Versions, v)
		if f.ActiveVersion == "" {
			f.ActiveVersion = label
		}
		f.UpdatedAt = v.CreatedAt
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	e.record(ctx, formID, "", schema.EventFormVersionCreated, map[string]any{"label": label})
	return v, warnings, nil
}

// UpdateDraft replaces the content of a draft version in place. Published
// versions and versions with bound responses are immutable.
func (e *Engine) UpdateDraft(ctx context.Context, formID, label string, content *schema.FormVersion) (*schema.FormVersion, []schema.ValidationIssue, error) {
	if content == nil {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "version content is required")
	}
	ctx = logging.WithFormID(ctx, formID)

	bound, err := e.responses.CountResponses(ctx, formID, label)
	if err != nil {
		return nil, nil, err
	}
	if bound > 0 {
		return nil, nil, schema.NewErrorf(schema.ErrCodeConflict,
			"version %q has %d responses and can no longer change", label, bound).
			WithDetails(map[string]any{"form_id": formID, "label": label, "responses": bound})
	}

	v := draftOf(content, label, e.now())
	warnings, err := e.checkVersion(v)
	if err != nil {
		return nil, nil, err
	}

	_, err = e.forms.UpdateForm(ctx, formID, func(f *schema.Form) error {
		for i, existing := range f.Versions {
			if existing.Label != label {
				continue
			}
			if existing.Status == schema.VersionStatusPublished {
				return schema.NewErrorf(schema.ErrCodeConflict, "version %q is published and can no longer change", label)
			}
			v.CreatedAt = existing.CreatedAt
			f.Versions[i] = v
			f.UpdatedAt = e.now()
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeNotFound, "form %q has no version %q", formID, label)
	})
	if err != nil {
		return nil, nil, err
	}

	e.record(ctx, formID, "", schema.EventFormVersionUpdated, map[string]any{"label": label})
	return v, warnings, nil
}

// Activate makes label the version new submissions bind to.
func (e *Engine) Activate(ctx context.Context, formID, label string) error {
	ctx = logging.WithFormID(ctx, formID)
	var previous string
	_, err := e.forms.UpdateForm(ctx, formID, func(f *schema.Form) error {
		if f.Version(label) == nil {
			return schema.NewErrorf(schema.ErrCodeNotFound, "form %q has no version %q", formID, label)
		}
		previous = f.ActiveVersion
		f.ActiveVersion = label
		f.UpdatedAt = e.now()
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "version activated", slog.String("label", label), slog.String("previous", previous))
	e.record(ctx, formID, "", schema.EventFormVersionActivated, map[string]any{"label": label, "previous": previous})
	return nil
}

// Publish marks the latest version and the form published, makes that
// version active and appends a draft copy under the next free label.
func (e *Engine) Publish(ctx context.Context, formID string) (*PublishResult, error) {
	ctx = logging.WithFormID(ctx, formID)

	form, err := e.forms.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	latest := form.Latest()
	if latest == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition, "form %q has no version to publish", formID)
	}
	if err := e.fsm.Check(formID, latest.Label, latest.Status, schema.VersionStatusPublished); err != nil {
		return nil, err
	}

	var result *PublishResult
	_, err = e.forms.UpdateForm(ctx, formID, func(f *schema.Form) error {
		cur := f.Latest()
		if cur == nil || cur.Label != latest.Label {
			return schema.NewErrorf(schema.ErrCodeConflict, "form %q changed while publishing %q", formID, latest.Label)
		}
		if !CanTransition(cur.Status, schema.VersionStatusPublished) {
			return schema.NewErrorf(schema.ErrCodeInvalidTransition,
				"invalid version transition: %s -> %s", cur.Status, schema.VersionStatusPublished)
		}

		now := e.now()
		cur.Status = schema.VersionStatusPublished
		if cur.PublishedAt == nil {
			cur.PublishedAt = &now
		}
		f.Status = schema.FormStatusPublished
		f.ActiveVersion = cur.Label
		f.UpdatedAt = now

		next := draftOf(cur, NextLabel(cur.Label, func(l string) bool { return f.Version(l) != nil }), now)
		f.Versions = append(f.Versions, next)

		result = &PublishResult{PublishedVersion: cur.Label, NextDraftVersion: next.Label}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "form published",
		slog.String("published", result.PublishedVersion),
		slog.String("next_draft", result.NextDraftVersion))
	if err := e.fsm.Commit(ctx, formID, latest.Label, latest.Status, schema.VersionStatusPublished); err != nil {
		e.logger.WarnContext(ctx, "publish event not recorded", slog.String("error", err.Error()))
	}
	e.record(ctx, formID, "", schema.EventFormVersionCreated, map[string]any{"label": result.NextDraftVersion, "copied_from": result.PublishedVersion})
	return result, nil
}

// GetForm returns a form with all of its versions.
func (e *Engine) GetForm(ctx context.Context, formID string) (*schema.Form, error) {
	return e.forms.GetForm(ctx, formID)
}

// checkVersion runs the save-time definition checks. Warnings are returned
// and logged; errors come back as the report.
func (e *Engine) checkVersion(v *schema.FormVersion) ([]schema.ValidationIssue, error) {
	r := e.definitions.ValidateVersion(v)
	if !r.Valid() {
		return nil, r
	}
	for _, w := range r.Warnings {
		e.logger.Debug("definition warning", slog.String("path", w.Path), slog.String("message", w.Message))
	}
	return r.Warnings, nil
}

// draftOf copies content into a fresh draft version.
func draftOf(content *schema.FormVersion, label string, now time.Time) *schema.FormVersion {
	v := content.Clone()
	v.Label = label
	v.Status = schema.VersionStatusDraft
	v.CreatedAt = now
	v.PublishedAt = nil
	return v
}
