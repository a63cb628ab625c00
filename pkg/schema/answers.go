package schema

// AnswerTree maps a section ID to an answer map (map[string]any of question
// ID to value) or, for repeatable sections, a []any of answer maps.
// Repeatable questions hold []any of values.
type AnswerTree map[string]any

// SectionAnswers returns the answer maps for a section. A non-repeatable
// section yields at most one map; malformed entries are skipped.
func (t AnswerTree) SectionAnswers(sectionID string) []map[string]any {
	raw, ok := t[sectionID]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case map[string]any:
		return []map[string]any{v}
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			} else {
				out = append(out, nil)
			}
		}
		return out
	case []map[string]any:
		return v
	}
	return nil
}

// Lookup finds the first answer for a question in the given section.
func (t AnswerTree) Lookup(sectionID, questionID string) (any, bool) {
	for _, m := range t.SectionAnswers(sectionID) {
		if v, ok := m[questionID]; ok {
			return v, true
		}
	}
	return nil, false
}

// Clone deep-copies the tree.
func (t AnswerTree) Clone() AnswerTree {
	if t == nil {
		return nil
	}
	out := make(AnswerTree, len(t))
	for k, v := range t {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies maps and slices that make up answer values.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = CloneValue(item)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = CloneValue(item)
		}
		return s
	case []map[string]any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = CloneValue(item)
		}
		return s
	case []string:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = item
		}
		return s
	case AnswerTree:
		return map[string]any(val.Clone())
	default:
		return v
	}
}
