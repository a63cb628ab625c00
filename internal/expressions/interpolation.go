package expressions

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rendis/formflow/pkg/schema"
)

// TemplateScope holds what a workflow message can reference.
type TemplateScope struct {
	Answers  schema.AnswerTree // sanitized answers
	Response map[string]any    // pseudo-variables
	Data     map[string]any    // the action's resolved data_mapping
}

var templateNamespaces = []string{"answers", "response", "data"}

// Interpolate renders ${{...}} references in a workflow message.
//
//	${{answers.<section>.<question>}}     an answer; repeatable sections take an index: answers.items.0.name
//	${{response.<pseudo-variable>}}       response_id, form_id, submitted_at, submitter
//	${{data.<field>}}                     a resolved data_mapping field
//
// Answers and data fields that are absent render as empty text, since
// hidden answers never reach the sanitized tree. Malformed references fail.
func Interpolate(template string, scope *TemplateScope) (string, error) {
	if scope == nil {
		scope = &TemplateScope{}
	}
	return scanTemplate(template, func(ref string) (string, error) {
		v, err := resolveRef(ref, scope)
		if err != nil {
			return "", err
		}
		return inline(v), nil
	})
}

// CheckTemplate reports malformed references without resolving them.
func CheckTemplate(template string) error {
	_, err := scanTemplate(template, func(ref string) (string, error) {
		return "", checkRef(ref)
	})
	return err
}

// HasInterpolation reports whether s contains a ${{...}} reference.
func HasInterpolation(s string) bool {
	return strings.Contains(s, "${{")
}

func scanTemplate(input string, resolve func(ref string) (string, error)) (string, error) {
	if !HasInterpolation(input) {
		return input, nil
	}

	var out strings.Builder
	out.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "${{")
		if idx == -1 {
			out.WriteString(input[i:])
			break
		}
		out.WriteString(input[i : i+idx])
		start := i + idx + 3

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ reference")
		}
		end += start

		ref := strings.TrimSpace(input[start:end])
		if strings.Contains(ref, "${{") {
			return "", schema.NewError(schema.ErrCodeInterpolation, "nested ${{ reference")
		}
		if ref == "" {
			return "", schema.NewError(schema.ErrCodeInterpolation, "empty ${{ }} reference")
		}

		text, err := resolve(ref)
		if err != nil {
			return "", err
		}
		out.WriteString(text)
		i = end + 2
	}
	return out.String(), nil
}

func checkRef(ref string) error {
	namespace, path, _ := strings.Cut(ref, ".")
	switch namespace {
	case "answers", "data":
		if path == "" {
			return refErr(ref, "expected "+namespace+".<name>")
		}
		for _, seg := range strings.Split(path, ".") {
			if seg == "" {
				return refErr(ref, "empty path segment")
			}
		}
		return nil
	case "response":
		if !schema.IsPseudoVariable(path) {
			return refErr(ref, "expected one of "+strings.Join(schema.PseudoVariables, ", "))
		}
		return nil
	default:
		return schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, ref, strings.Join(templateNamespaces, ", ")).
			WithDetails(map[string]any{"reference": ref, "available_namespaces": templateNamespaces})
	}
}

func resolveRef(ref string, scope *TemplateScope) (any, error) {
	if err := checkRef(ref); err != nil {
		return nil, err
	}
	namespace, path, _ := strings.Cut(ref, ".")
	switch namespace {
	case "answers":
		return traverse(map[string]any(scope.Answers), path), nil
	case "data":
		if v, ok := scope.Data[path]; ok {
			return v, nil
		}
		return traverse(scope.Data, path), nil
	default:
		return scope.Response[path], nil
	}
}

func refErr(ref, msg string) error {
	return schema.NewErrorf(schema.ErrCodeInterpolation, "invalid reference ${{%s}}: %s", ref, msg).
		WithDetails(map[string]any{"reference": ref})
}

// traverse walks maps by key and lists by index. Anything missing is nil.
func traverse(root any, path string) any {
	cur := root
	for _, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			cur = v[seg]
		case []any:
			n, err := strconv.Atoi(seg)
			if err != nil || n < 0 || n >= len(v) {
				return nil
			}
			cur = v[n]
		default:
			return nil
		}
	}
	return cur
}

func inline(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
