package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/formflow/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	formVersionSchemaURL = "https://formflow.dev/schemas/form-version.json"
	workflowSchemaURL    = "https://formflow.dev/schemas/workflow.json"
)

// formVersionSchemaJSON is the JSON Schema for FormVersion content.
const formVersionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://formflow.dev/schemas/form-version.json",
  "type": "object",
  "required": ["label", "sections"],
  "properties": {
    "label": {
      "type": "string",
      "minLength": 1,
      "maxLength": 64,
      "pattern": "^[A-Za-z0-9][A-Za-z0-9._-]*$"
    },
    "status": { "enum": ["draft", "published"] },
    "sections": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/section" }
    },
    "custom_validations": {
      "type": "array",
      "items": { "$ref": "#/$defs/customValidation" }
    },
    "created_at": { "type": "string" },
    "published_at": { "type": "string" }
  },
  "additionalProperties": false,
  "$defs": {
    "id": {
      "type": "string",
      "minLength": 1,
      "maxLength": 128
    },
    "section": {
      "type": "object",
      "required": ["id", "questions"],
      "properties": {
        "id": { "$ref": "#/$defs/id" },
        "title": { "type": "string" },
        "visibility_condition": { "type": "string" },
        "is_repeatable": { "type": "boolean" },
        "min_repeat": { "type": "integer", "minimum": 0 },
        "max_repeat": { "type": "integer", "minimum": 0 },
        "questions": {
          "type": ["array", "null"],
          "items": { "$ref": "#/$defs/question" }
        }
      },
      "additionalProperties": false
    },
    "question": {
      "type": "object",
      "required": ["id", "field_type"],
      "properties": {
        "id": { "$ref": "#/$defs/id" },
        "label": { "type": "string" },
        "field_type": {
          "enum": [
            "text", "textarea", "rich_text", "email", "url", "phone",
            "number", "rating", "date", "datetime", "time", "boolean",
            "choice", "multi_choice", "file", "json", "calculated", "custom_api"
          ]
        },
        "is_required": { "type": "boolean" },
        "required_condition": { "type": "string" },
        "visibility_condition": { "type": "string" },
        "validation_rules": { "$ref": "#/$defs/rules" },
        "is_repeatable": { "type": "boolean" },
        "min_repeat": { "type": "integer", "minimum": 0 },
        "max_repeat": { "type": "integer", "minimum": 0 },
        "options": {
          "type": "array",
          "items": { "$ref": "#/$defs/option" }
        },
        "custom_script": { "type": "string" }
      },
      "additionalProperties": false
    },
    "option": {
      "type": "object",
      "required": ["id", "value"],
      "properties": {
        "id": { "$ref": "#/$defs/id" },
        "label": { "type": "string" },
        "value": { "type": "string" },
        "order": { "type": "integer" }
      },
      "additionalProperties": false
    },
    "rules": {
      "type": "object",
      "properties": {
        "min_length": { "type": "integer", "minimum": 0 },
        "max_length": { "type": "integer", "minimum": 0 },
        "pattern": { "type": "string" },
        "pattern_message": { "type": "string" },
        "min": { "type": "number" },
        "max": { "type": "number" },
        "integer": { "type": "boolean" },
        "min_date": { "type": "string" },
        "max_date": { "type": "string" },
        "min_selected": { "type": "integer", "minimum": 0 },
        "max_selected": { "type": "integer", "minimum": 0 },
        "allowed_extensions": {
          "type": "array",
          "items": { "type": "string", "minLength": 1 }
        },
        "max_file_size": { "type": "integer", "minimum": 0 },
        "json_schema": { "type": ["object", "boolean"] }
      },
      "additionalProperties": false
    },
    "customValidation": {
      "type": "object",
      "required": ["expression", "error_message"],
      "properties": {
        "expression": { "type": "string", "minLength": 1 },
        "error_message": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": false
    }
  }
}`

// workflowSchemaJSON is the JSON Schema for Workflow definitions.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://formflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["name", "trigger_form_id", "actions"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string", "minLength": 1, "maxLength": 256 },
    "trigger_form_id": { "type": "string", "minLength": 1 },
    "trigger_condition": { "type": "string" },
    "is_active": { "type": "boolean" },
    "actions": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/action" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "action": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "enum": ["redirect_to_form", "create_draft", "notify_user"] },
        "target_form_id": { "type": "string" },
        "data_mapping": {
          "type": "object",
          "additionalProperties": { "type": "string", "minLength": 1 }
        },
        "assign_to_user_field": { "type": "string" },
        "message": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks definitions against the embedded schemas and
// `json` answers against author-supplied schemas. It is safe for concurrent use.
type JSONSchemaValidator struct {
	versionSchema  *jsonschema.Schema
	workflowSchema *jsonschema.Schema

	// mu guards the cache of author-supplied schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator compiles the embedded definition schemas.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()
	for url, doc := range map[string]string{
		formVersionSchemaURL: formVersionSchemaJSON,
		workflowSchemaURL:    workflowSchemaJSON,
	} {
		parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", url, err)
		}
		if err := c.AddResource(url, parsed); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	versionSchema, err := c.Compile(formVersionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile form version schema: %w", err)
	}
	workflowSchema, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{
		versionSchema:  versionSchema,
		workflowSchema: workflowSchema,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// MustJSONSchemaValidator is NewJSONSchemaValidator for the embedded schemas,
// which always compile.
func MustJSONSchemaValidator() *JSONSchemaValidator {
	v, err := NewJSONSchemaValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// ValidateVersion checks the structure of a form version.
func (v *JSONSchemaValidator) ValidateVersion(version *schema.FormVersion) error {
	if version == nil {
		return schema.NewError(schema.ErrCodeValidation, "form version is nil")
	}
	return v.validateDoc(v.versionSchema, version, "form version")
}

// ValidateWorkflow checks the structure of a workflow definition.
func (v *JSONSchemaValidator) ValidateWorkflow(wf *schema.Workflow) error {
	if wf == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	return v.validateDoc(v.workflowSchema, wf, "workflow")
}

func (v *JSONSchemaValidator) validateDoc(s *jsonschema.Schema, value any, what string) error {
	doc, err := toJSONValue(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "failed to serialize %s", what).WithCause(err)
	}
	if err := s.Validate(doc); err != nil {
		return toFormError(err)
	}
	return nil
}

// ValidateValue validates an answer against a JSON Schema given as raw
// bytes. Compiled schemas are cached by content.
func (v *JSONSchemaValidator) ValidateValue(value any, rawSchema []byte) error {
	if len(rawSchema) == 0 {
		return nil
	}
	compiled, err := v.getOrCompile(rawSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid json schema").WithCause(err)
	}
	doc, err := toJSONValue(value)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "value is not JSON-serializable").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toFormError(err)
	}
	return nil
}

// CompileSchema reports whether raw is a usable JSON Schema.
func (v *JSONSchemaValidator) CompileSchema(raw []byte) error {
	_, err := v.getOrCompile(raw)
	return err
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(raw []byte) (*jsonschema.Schema, error) {
	key := string(raw)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// A fresh compiler per schema keeps resource URLs from colliding.
	url := fmt.Sprintf("formflow://field-schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through encoding/json so numbers
// become json.Number, as the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFormError flattens a jsonschema.ValidationError into one FormError whose
// details list every leaf violation with its instance location.
func toFormError(err error) *schema.FormError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

// violationsOf returns the per-location messages carried by err, or its
// message when it has none.
func violationsOf(err error) []string {
	if fe, ok := err.(*schema.FormError); ok {
		if vs, ok := fe.Details["violations"].([]string); ok {
			return vs
		}
		return []string{fe.Message}
	}
	return []string{err.Error()}
}
