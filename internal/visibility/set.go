package visibility

import (
	"slices"

	"github.com/rendis/formflow/pkg/schema"
)

// QuestionSet holds the visible question IDs of one section instance.
type QuestionSet map[string]bool

// ValueSet holds, per repeatable question with a visibility condition,
// which of its values are visible, by position.
type ValueSet map[string][]bool

// SectionVisibility is the resolved visibility of a visible section.
// Non-repeatable sections have exactly one instance. Values runs parallel
// to Instances and is omitted when no instance has per-value results.
type SectionVisibility struct {
	Repeatable bool          `json:"repeatable"`
	Instances  []QuestionSet `json:"instances"`
	Values     []ValueSet    `json:"values,omitempty"`
}

func (sv *SectionVisibility) add(qs QuestionSet, vs ValueSet) {
	if vs != nil && sv.Values == nil {
		sv.Values = make([]ValueSet, len(sv.Instances), len(sv.Instances)+1)
	}
	sv.Instances = append(sv.Instances, qs)
	if sv.Values != nil {
		sv.Values = append(sv.Values, vs)
	}
}

// VisibilitySet is the result of resolving a version against an answer
// tree. A section absent from Sections is hidden.
type VisibilitySet struct {
	Sections map[string]*SectionVisibility `json:"sections"`
	Warnings []schema.ValidationIssue      `json:"warnings,omitempty"`
}

// NewSet returns an empty set.
func NewSet() *VisibilitySet {
	return &VisibilitySet{Sections: make(map[string]*SectionVisibility)}
}

// SectionVisible reports whether the section is visible.
func (v *VisibilitySet) SectionVisible(sectionID string) bool {
	if v == nil {
		return false
	}
	_, ok := v.Sections[sectionID]
	return ok
}

// Instance returns the visible questions of one section instance, or nil.
func (v *VisibilitySet) Instance(sectionID string, index int) QuestionSet {
	if v == nil {
		return nil
	}
	sec, ok := v.Sections[sectionID]
	if !ok || index < 0 || index >= len(sec.Instances) {
		return nil
	}
	return sec.Instances[index]
}

// QuestionVisible reports whether a question is visible in the given
// instance. Use instance 0 for non-repeatable sections.
func (v *VisibilitySet) QuestionVisible(sectionID string, index int, questionID string) bool {
	return v.Instance(sectionID, index)[questionID]
}

// Values returns the per-value results of one section instance, or nil.
func (v *VisibilitySet) Values(sectionID string, index int) ValueSet {
	if v == nil {
		return nil
	}
	sec, ok := v.Sections[sectionID]
	if !ok || index < 0 || index >= len(sec.Values) {
		return nil
	}
	return sec.Values[index]
}

// ValueVisible reports whether one value of a repeatable question is
// visible. Values of a visible question without per-value results are all
// visible.
func (v *VisibilitySet) ValueVisible(sectionID string, index int, questionID string, valueIndex int) bool {
	if !v.QuestionVisible(sectionID, index, questionID) {
		return false
	}
	return v.Values(sectionID, index).Visible(questionID, valueIndex)
}

// Visible reports whether value i of question is visible. A question
// absent from the set has every value visible.
func (vs ValueSet) Visible(questionID string, i int) bool {
	flags, ok := vs[questionID]
	if !ok {
		return true
	}
	return i >= 0 && i < len(flags) && flags[i]
}

// Equal reports whether both sets mark the same sections, instances and
// questions visible. Warnings are ignored.
func (v *VisibilitySet) Equal(other *VisibilitySet) bool {
	if v == nil || other == nil {
		return v == other
	}
	if len(v.Sections) != len(other.Sections) {
		return false
	}
	for id, sv := range v.Sections {
		ov, ok := other.Sections[id]
		if !ok || sv.Repeatable != ov.Repeatable || len(sv.Instances) != len(ov.Instances) {
			return false
		}
		for i, qs := range sv.Instances {
			if !qs.equal(ov.Instances[i]) {
				return false
			}
		}
		if len(sv.Values) != len(ov.Values) {
			return false
		}
		for i, vs := range sv.Values {
			if !vs.equal(ov.Values[i]) {
				return false
			}
		}
	}
	return true
}

func (qs QuestionSet) equal(other QuestionSet) bool {
	n := 0
	for id, ok := range qs {
		if !ok {
			continue
		}
		if !other[id] {
			return false
		}
		n++
	}
	for _, ok := range other {
		if ok {
			n--
		}
	}
	return n == 0
}

func (vs ValueSet) equal(other ValueSet) bool {
	if len(vs) != len(other) {
		return false
	}
	for id, flags := range vs {
		of, ok := other[id]
		if !ok || !slices.Equal(flags, of) {
			return false
		}
	}
	return true
}
