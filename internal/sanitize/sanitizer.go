// Package sanitize enforces the visibility boundary on answer trees before
// they are persisted or handed to triggers.
package sanitize

import (
	"github.com/rendis/formflow/internal/visibility"
	"github.com/rendis/formflow/pkg/schema"
)

// Sanitize returns a deep copy of answers holding only what vis marks
// visible. Hidden sections, hidden questions, unknown keys and instances
// beyond the resolved count are dropped. It is pure and idempotent:
// Sanitize(Sanitize(a, v), v) equals Sanitize(a, v).
func Sanitize(answers schema.AnswerTree, vis *visibility.VisibilitySet) schema.AnswerTree {
	out := make(schema.AnswerTree)
	if vis == nil {
		return out
	}
	for sectionID, sv := range vis.Sections {
		raw, ok := answers[sectionID]
		if !ok || raw == nil {
			continue
		}
		instances := answers.SectionAnswers(sectionID)

		if !sv.Repeatable {
			if len(instances) == 0 || len(sv.Instances) == 0 {
				continue
			}
			out[sectionID] = keep(instances[0], sv.Instances[0], vis.Values(sectionID, 0))
			continue
		}

		list := make([]any, 0, len(instances))
		for i, inst := range instances {
			if i >= len(sv.Instances) {
				break
			}
			list = append(list, keep(inst, sv.Instances[i], vis.Values(sectionID, i)))
		}
		out[sectionID] = list
	}
	return out
}

// keep copies the visible answers of one instance. Hidden values of a
// repeatable question become nil so the remaining values keep their
// positions.
func keep(answers map[string]any, visible visibility.QuestionSet, values visibility.ValueSet) map[string]any {
	out := make(map[string]any, len(visible))
	for id, v := range answers {
		if !visible[id] {
			continue
		}
		v = schema.CloneValue(v)
		if _, ok := values[id]; ok {
			if items, isList := v.([]any); isList {
				for i := range items {
					if !values.Visible(id, i) {
						items[i] = nil
					}
				}
			}
		}
		out[id] = v
	}
	return out
}
