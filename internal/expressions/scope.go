package expressions

import (
	"encoding/json"
	"sort"

	"github.com/rendis/formflow/pkg/schema"
)

// ScopeBuilder flattens an answer tree into the variable table expressions
// read. It enforces:
//   - Every question is bound under VariableName(question ID).
//   - A question in a repeatable section is bound to the list of its
//     per-instance values; inside an instance it is bound to that instance's
//     value instead.
//   - Pseudo-variables are bound last and cannot be shadowed.
//   - All values are deep-copied on build, so expressions never alias the
//     caller's tree.
type ScopeBuilder struct {
	version *schema.FormVersion
	global  map[string]any
	pseudo  map[string]any
}

// NewScopeBuilder builds the global scope for answers against version.
func NewScopeBuilder(version *schema.FormVersion, answers schema.AnswerTree, pseudo map[string]any) *ScopeBuilder {
	sb := &ScopeBuilder{
		version: version,
		global:  make(map[string]any),
		pseudo:  deepCopyMap(pseudo),
	}
	for _, sec := range version.Sections {
		instances := answers.SectionAnswers(sec.ID)
		for _, q := range sec.Questions {
			name := VariableName(q.ID)
			if sec.IsRepeatable {
				values := make([]any, len(instances))
				for i, inst := range instances {
					values[i] = deepCopyAny(inst[q.ID])
				}
				sb.global[name] = values
				continue
			}
			if len(instances) > 0 {
				if v, ok := instances[0][q.ID]; ok {
					sb.global[name] = deepCopyAny(v)
				}
			}
		}
	}
	for k, v := range sb.pseudo {
		sb.global[k] = v
	}
	return sb
}

// ScopeFromAnswers builds a scope from an answer tree alone, for callers
// that hold sanitized answers but not the version. A section stored as a
// list is read as repeatable.
func ScopeFromAnswers(answers schema.AnswerTree, pseudo map[string]any) *ScopeBuilder {
	sb := &ScopeBuilder{global: make(map[string]any), pseudo: deepCopyMap(pseudo)}

	sections := make([]string, 0, len(answers))
	for id := range answers {
		sections = append(sections, id)
	}
	sort.Strings(sections)

	for _, id := range sections {
		instances := answers.SectionAnswers(id)
		if _, single := answers[id].(map[string]any); single || len(instances) == 0 {
			if len(instances) == 1 {
				for q, v := range instances[0] {
					sb.global[VariableName(q)] = deepCopyAny(v)
				}
			}
			continue
		}
		for _, inst := range instances {
			for q := range inst {
				sb.global[VariableName(q)] = make([]any, len(instances))
			}
		}
		for i, inst := range instances {
			for q, v := range inst {
				sb.global[VariableName(q)].([]any)[i] = deepCopyAny(v)
			}
		}
	}
	for k, v := range sb.pseudo {
		sb.global[k] = v
	}
	return sb
}

// Global returns a copy of the form-wide scope.
func (sb *ScopeBuilder) Global() map[string]any {
	return deepCopyMap(sb.global)
}

// ForInstance returns the global scope overlaid with one section instance's
// local answers. Questions the instance did not answer read as nil.
func (sb *ScopeBuilder) ForInstance(sectionID string, local map[string]any) map[string]any {
	scope := deepCopyMap(sb.global)
	if sb.version == nil {
		return scope
	}
	sec := sb.version.Section(sectionID)
	if sec == nil {
		return scope
	}
	for _, q := range sec.Questions {
		scope[VariableName(q.ID)] = deepCopyAny(local[q.ID])
	}
	for k, v := range sb.pseudo {
		scope[k] = v
	}
	return scope
}

// Lookup resolves a question ID, variable name or pseudo-variable against
// the global scope.
func (sb *ScopeBuilder) Lookup(ref string) (any, bool) {
	if v, ok := sb.global[ref]; ok {
		return deepCopyAny(v), true
	}
	if v, ok := sb.global[VariableName(ref)]; ok {
		return deepCopyAny(v), true
	}
	return nil, false
}

// --- Deep copy utilities ---

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value, normalizing json.Number to
// float64 so decoded and literal numbers compare alike.
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case []map[string]any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyMap(item)
		}
		return cp
	case []string:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = item
		}
		return cp
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	default:
		return v
	}
}
