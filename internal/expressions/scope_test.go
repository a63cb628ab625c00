package expressions

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rendis/formflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scopeVersion() *schema.FormVersion {
	return &schema.FormVersion{
		Label: "1.0",
		Sections: []*schema.Section{
			{ID: "main", Questions: []*schema.Question{
				{ID: "first-name", FieldType: schema.FieldText},
				{ID: "age", FieldType: schema.FieldNumber},
			}},
			{ID: "kids", IsRepeatable: true, Questions: []*schema.Question{
				{ID: "kid-age", FieldType: schema.FieldNumber},
			}},
		},
	}
}

func TestScopeBuilder_Global(t *testing.T) {
	answers := schema.AnswerTree{
		"main": map[string]any{"first-name": "Ann", "age": json.Number("41"), "unknown": "x"},
		"kids": []any{
			map[string]any{"kid-age": 3.0},
			map[string]any{},
		},
	}
	sb := NewScopeBuilder(scopeVersion(), answers, map[string]any{"form_id": "f1"})

	want := map[string]any{
		"first_name": "Ann",
		"age":        41.0,
		"kid_age":    []any{3.0, nil},
		"form_id":    "f1",
	}
	assert.Empty(t, cmp.Diff(want, sb.Global()))
}

func TestScopeBuilder_ForInstance(t *testing.T) {
	answers := schema.AnswerTree{
		"main": map[string]any{"age": 41.0},
		"kids": []any{map[string]any{"kid-age": 3.0}, map[string]any{}},
	}
	sb := NewScopeBuilder(scopeVersion(), answers, nil)

	first := sb.ForInstance("kids", answers.SectionAnswers("kids")[0])
	assert.Equal(t, 3.0, first["kid_age"])
	assert.Equal(t, 41.0, first["age"])

	second := sb.ForInstance("kids", answers.SectionAnswers("kids")[1])
	v, ok := second["kid_age"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestScopeBuilder_DoesNotAliasAnswers(t *testing.T) {
	tags := []any{"a"}
	answers := schema.AnswerTree{"main": map[string]any{"first-name": tags}}
	sb := NewScopeBuilder(scopeVersion(), answers, nil)

	g := sb.Global()
	g["first_name"].([]any)[0] = "mutated"
	assert.Equal(t, "a", tags[0])
}

func TestScopeBuilder_Lookup(t *testing.T) {
	answers := schema.AnswerTree{"main": map[string]any{"first-name": "Ann"}}
	sb := NewScopeBuilder(scopeVersion(), answers, map[string]any{"submitter": "u1"})

	v, ok := sb.Lookup("first-name")
	require.True(t, ok)
	assert.Equal(t, "Ann", v)

	v, ok = sb.Lookup("first_name")
	require.True(t, ok)
	assert.Equal(t, "Ann", v)

	v, ok = sb.Lookup("submitter")
	require.True(t, ok)
	assert.Equal(t, "u1", v)

	_, ok = sb.Lookup("nope")
	assert.False(t, ok)
}

func TestScopeFromAnswers(t *testing.T) {
	answers := schema.AnswerTree{
		"main": map[string]any{"age": 25.0, "first-name": "Ann"},
		"kids": []any{
			map[string]any{"name": "a"},
			map[string]any{"name": "b", "age-months": 7.0},
		},
		"empty": []any{},
	}
	sb := ScopeFromAnswers(answers, map[string]any{schema.PseudoFormID: "F"})

	want := map[string]any{
		"age":        25.0,
		"first_name": "Ann",
		"name":       []any{"a", "b"},
		"age_months": []any{nil, 7.0},
		"form_id":    "F",
	}
	assert.Equal(t, want, sb.Global())

	v, ok := sb.Lookup("first-name")
	assert.True(t, ok)
	assert.Equal(t, "Ann", v)

	// Without a version there is no instance overlay.
	assert.Equal(t, want, sb.ForInstance("kids", map[string]any{"name": "z"}))
}
