package schema

import (
	"encoding/json"
	"time"
)

// FormStatus is the overall lifecycle state of a form.
type FormStatus string

const (
	FormStatusDraft     FormStatus = "draft"
	FormStatusPublished FormStatus = "published"
)

// VersionStatus is the lifecycle state of a single form version.
type VersionStatus string

const (
	VersionStatusDraft     VersionStatus = "draft"
	VersionStatusPublished VersionStatus = "published"
)

// Form is a named questionnaire with its ordered version history.
type Form struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Status        FormStatus     `json:"status"`
	ActiveVersion string         `json:"active_version,omitempty"`
	Versions      []*FormVersion `json:"versions,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Version returns the version with the given label, or nil.
func (f *Form) Version(label string) *FormVersion {
	for _, v := range f.Versions {
		if v.Label == label {
			return v
		}
	}
	return nil
}

// Latest returns the most recently appended version, or nil.
func (f *Form) Latest() *FormVersion {
	if len(f.Versions) == 0 {
		return nil
	}
	return f.Versions[len(f.Versions)-1]
}

// FormVersion is one immutable-once-referenced revision of a form's content.
type FormVersion struct {
	Label             string             `json:"label" yaml:"label"`
	Status            VersionStatus      `json:"status,omitempty" yaml:"status,omitempty"`
	Sections          []*Section         `json:"sections" yaml:"sections"`
	CustomValidations []CustomValidation `json:"custom_validations,omitempty" yaml:"custom_validations,omitempty"`
	CreatedAt         time.Time          `json:"created_at,omitempty" yaml:"-"`
	PublishedAt       *time.Time         `json:"published_at,omitempty" yaml:"-"`
}

// Section returns the section with the given ID, or nil.
func (v *FormVersion) Section(id string) *Section {
	for _, s := range v.Sections {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Question finds a question anywhere in the version.
func (v *FormVersion) Question(id string) (*Section, *Question) {
	for _, s := range v.Sections {
		for _, q := range s.Questions {
			if q.ID == id {
				return s, q
			}
		}
	}
	return nil, nil
}

// Clone returns a deep copy of the version's content. Timestamps and status
// are copied as-is; callers adjust them for the new revision.
func (v *FormVersion) Clone() *FormVersion {
	if v == nil {
		return nil
	}
	out := *v
	if v.PublishedAt != nil {
		t := *v.PublishedAt
		out.PublishedAt = &t
	}
	out.Sections = make([]*Section, len(v.Sections))
	for i, s := range v.Sections {
		out.Sections[i] = s.Clone()
	}
	if v.CustomValidations != nil {
		out.CustomValidations = append([]CustomValidation(nil), v.CustomValidations...)
	}
	return &out
}

// CustomValidation is a cross-field boolean expression with its error message.
type CustomValidation struct {
	Expression   string `json:"expression" yaml:"expression"`
	ErrorMessage string `json:"error_message" yaml:"error_message"`
}

// Section groups questions; repeatable sections collect a list of instances.
type Section struct {
	ID                  string      `json:"id" yaml:"id"`
	Title               string      `json:"title,omitempty" yaml:"title,omitempty"`
	VisibilityCondition string      `json:"visibility_condition,omitempty" yaml:"visibility_condition,omitempty"`
	IsRepeatable        bool        `json:"is_repeatable,omitempty" yaml:"is_repeatable,omitempty"`
	MinRepeat           int         `json:"min_repeat,omitempty" yaml:"min_repeat,omitempty"`
	MaxRepeat           int         `json:"max_repeat,omitempty" yaml:"max_repeat,omitempty"`
	Questions           []*Question `json:"questions" yaml:"questions"`
}

// Clone returns a deep copy of the section.
func (s *Section) Clone() *Section {
	if s == nil {
		return nil
	}
	out := *s
	out.Questions = make([]*Question, len(s.Questions))
	for i, q := range s.Questions {
		out.Questions[i] = q.Clone()
	}
	return &out
}

// Question is a single field of a section.
type Question struct {
	ID                  string           `json:"id" yaml:"id"`
	Label               string           `json:"label,omitempty" yaml:"label,omitempty"`
	FieldType           FieldType        `json:"field_type" yaml:"field_type"`
	IsRequired          bool             `json:"is_required,omitempty" yaml:"is_required,omitempty"`
	RequiredCondition   string           `json:"required_condition,omitempty" yaml:"required_condition,omitempty"`
	VisibilityCondition string           `json:"visibility_condition,omitempty" yaml:"visibility_condition,omitempty"`
	ValidationRules     *ValidationRules `json:"validation_rules,omitempty" yaml:"validation_rules,omitempty"`
	IsRepeatable        bool             `json:"is_repeatable,omitempty" yaml:"is_repeatable,omitempty"`
	MinRepeat           int              `json:"min_repeat,omitempty" yaml:"min_repeat,omitempty"`
	MaxRepeat           int              `json:"max_repeat,omitempty" yaml:"max_repeat,omitempty"`
	Options             []Option         `json:"options,omitempty" yaml:"options,omitempty"`
	CustomScript        string           `json:"custom_script,omitempty" yaml:"custom_script,omitempty"`
}

// Clone returns a deep copy of the question.
func (q *Question) Clone() *Question {
	if q == nil {
		return nil
	}
	out := *q
	out.ValidationRules = q.ValidationRules.Clone()
	if q.Options != nil {
		out.Options = append([]Option(nil), q.Options...)
	}
	return &out
}

// Option is one choice of a choice or multi_choice question.
type Option struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	Value string `json:"value" yaml:"value"`
	Order int    `json:"order,omitempty" yaml:"order,omitempty"`
}

// ValidationRules are the declarative per-field rules. Which rules apply
// depends on the question's FieldType; the rest are ignored.
type ValidationRules struct {
	MinLength         *int            `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength         *int            `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Pattern           string          `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	PatternMessage    string          `json:"pattern_message,omitempty" yaml:"pattern_message,omitempty"`
	Min               *float64        `json:"min,omitempty" yaml:"min,omitempty"`
	Max               *float64        `json:"max,omitempty" yaml:"max,omitempty"`
	Integer           bool            `json:"integer,omitempty" yaml:"integer,omitempty"`
	MinDate           string          `json:"min_date,omitempty" yaml:"min_date,omitempty"`
	MaxDate           string          `json:"max_date,omitempty" yaml:"max_date,omitempty"`
	MinSelected       *int            `json:"min_selected,omitempty" yaml:"min_selected,omitempty"`
	MaxSelected       *int            `json:"max_selected,omitempty" yaml:"max_selected,omitempty"`
	AllowedExtensions []string        `json:"allowed_extensions,omitempty" yaml:"allowed_extensions,omitempty"`
	MaxFileSize       int64           `json:"max_file_size,omitempty" yaml:"max_file_size,omitempty"`
	JSONSchema        json.RawMessage `json:"json_schema,omitempty" yaml:"-"`
}

// Clone returns a deep copy of the rules.
func (r *ValidationRules) Clone() *ValidationRules {
	if r == nil {
		return nil
	}
	out := *r
	out.MinLength = cloneInt(r.MinLength)
	out.MaxLength = cloneInt(r.MaxLength)
	out.MinSelected = cloneInt(r.MinSelected)
	out.MaxSelected = cloneInt(r.MaxSelected)
	if r.Min != nil {
		v := *r.Min
		out.Min = &v
	}
	if r.Max != nil {
		v := *r.Max
		out.Max = &v
	}
	if r.AllowedExtensions != nil {
		out.AllowedExtensions = append([]string(nil), r.AllowedExtensions...)
	}
	if r.JSONSchema != nil {
		out.JSONSchema = append(json.RawMessage(nil), r.JSONSchema...)
	}
	return &out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
