package expressions

import (
	"testing"

	"github.com/rendis/formflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpolate(t *testing.T) {
	scope := &TemplateScope{
		Answers: schema.AnswerTree{
			"main":  map[string]any{"name": "Ana", "age": 41.0, "tags": []any{"a", "b"}},
			"items": []any{map[string]any{"sku": "X1"}, map[string]any{"sku": "Y2"}},
		},
		Response: map[string]any{"response_id": "r-1", "submitter": nil},
		Data:     map[string]any{"years": 41.0, "a.b": "dotted", "nested": map[string]any{"k": true}},
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"plain text", "no references", "no references"},
		{"answer", "Hi ${{answers.main.name}}!", "Hi Ana!"},
		{"spaces inside braces", "${{ answers.main.name }}", "Ana"},
		{"number", "age ${{answers.main.age}}", "age 41"},
		{"list as json", "${{answers.main.tags}}", `["a","b"]`},
		{"repeatable instance", "${{answers.items.1.sku}}", "Y2"},
		{"index out of range", "[${{answers.items.5.sku}}]", "[]"},
		{"hidden answer", "[${{answers.main.secret}}]", "[]"},
		{"pseudo-variable", "ref ${{response.response_id}}", "ref r-1"},
		{"missing submitter", "[${{response.submitter}}]", "[]"},
		{"data field", "${{data.years}} years", "41 years"},
		{"data key with dot", "${{data.a.b}}", "dotted"},
		{"data nested", "${{data.nested.k}}", "true"},
		{"several", "${{answers.main.name}}/${{data.years}}", "Ana/41"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Interpolate(tc.template, scope)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestInterpolate_Errors(t *testing.T) {
	tests := []struct {
		template string
		contains string
	}{
		{"${{answers.main", "unclosed"},
		{"${{  }}", "empty"},
		{"${{ ${{answers.x}} }}", "nested"},
		{"${{secrets.token}}", `unknown namespace "secrets"`},
		{"${{response.ip}}", "expected one of"},
		{"${{answers}}", "expected answers.<name>"},
		{"${{answers.main..x}}", "empty path segment"},
	}
	for _, tc := range tests {
		t.Run(tc.template, func(t *testing.T) {
			_, err := Interpolate(tc.template, nil)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeInterpolation))
			assert.Contains(t, err.Error(), tc.contains)

			assert.Error(t, CheckTemplate(tc.template))
		})
	}
}

func TestCheckTemplate(t *testing.T) {
	assert.NoError(t, CheckTemplate(""))
	assert.NoError(t, CheckTemplate("Review ${{answers.main.name}} (${{response.form_id}}, ${{data.years}})"))
	assert.True(t, HasInterpolation("x ${{data.y}}"))
	assert.False(t, HasInterpolation("x {{data.y}}"))
}
