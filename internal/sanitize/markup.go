package sanitize

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rendis/formflow/pkg/schema"
)

var (
	policyOnce   sync.Once
	strictPolicy *bluemonday.Policy
	richPolicy   *bluemonday.Policy
)

func policies() (*bluemonday.Policy, *bluemonday.Policy) {
	policyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
		richPolicy = bluemonday.UGCPolicy()
	})
	return strictPolicy, richPolicy
}

// CleanMarkup returns a copy of answers with markup removed from free-text
// answers: plain text types lose all tags, rich_text keeps the user
// generated content subset. Client values of scripted computed fields are
// dropped, since the server recomputes them and visibility must never see
// a forged value. Run before visibility and validation. Unlike Sanitize it
// is not idempotent, since entities the policy escapes stay escaped.
func CleanMarkup(version *schema.FormVersion, answers schema.AnswerTree) schema.AnswerTree {
	out := answers.Clone()
	if out == nil {
		return schema.AnswerTree{}
	}
	strict, rich := policies()

	for _, sec := range version.Sections {
		for _, inst := range out.SectionAnswers(sec.ID) {
			if inst == nil {
				continue
			}
			for _, q := range sec.Questions {
				v, ok := inst[q.ID]
				if !ok {
					continue
				}
				switch {
				case q.FieldType.IsComputed() && q.CustomScript != "":
					delete(inst, q.ID)
				case q.FieldType == schema.FieldRichText:
					inst[q.ID] = mapStrings(v, rich.Sanitize)
				case q.FieldType.IsTextual():
					inst[q.ID] = mapStrings(v, func(s string) string {
						if !strings.ContainsRune(s, '<') {
							return s
						}
						return strict.Sanitize(s)
					})
				}
			}
		}
	}
	return out
}

// mapStrings applies fn to a string or to every string of a repeated answer.
func mapStrings(v any, fn func(string) string) any {
	switch val := v.(type) {
	case string:
		return fn(val)
	case []any:
		for i, item := range val {
			if s, ok := item.(string); ok {
				val[i] = fn(s)
			}
		}
		return val
	}
	return v
}
