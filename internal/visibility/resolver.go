package visibility

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/rendis/formflow/internal/expressions"
	"github.com/rendis/formflow/internal/logging"
	"github.com/rendis/formflow/pkg/schema"
)

// Resolver computes which sections and questions are visible for an answer
// tree. Conditions read raw answers, including answers of hidden fields, so
// a single pass in declaration order settles every condition.
type Resolver struct {
	eval   *expressions.Evaluator
	logger *slog.Logger
}

// NewResolver creates a Resolver on the shared evaluator.
func NewResolver(eval *expressions.Evaluator, logger *slog.Logger) *Resolver {
	return &Resolver{eval: eval, logger: logging.OrDefault(logger)}
}

// Resolve evaluates every visibility condition of version. Sections are
// evaluated against the global scope; questions against the global scope
// overlaid with their instance's answers. Any evaluation error hides the
// field.
func (r *Resolver) Resolve(ctx context.Context, version *schema.FormVersion, answers schema.AnswerTree, pseudo map[string]any) *VisibilitySet {
	set := NewSet()
	sb := expressions.NewScopeBuilder(version, answers, pseudo)
	global := sb.Global()

	for _, sec := range version.Sections {
		if !r.visible(ctx, sec.ID, sec.VisibilityCondition, global) {
			continue
		}

		sv := &SectionVisibility{Repeatable: sec.IsRepeatable}
		if sec.IsRepeatable {
			for _, local := range answers.SectionAnswers(sec.ID) {
				sv.add(r.questions(ctx, sec, local, sb.ForInstance(sec.ID, local)))
			}
		} else {
			var local map[string]any
			if instances := answers.SectionAnswers(sec.ID); len(instances) > 0 {
				local = instances[0]
			}
			sv.add(r.questions(ctx, sec, local, global))
		}
		set.Sections[sec.ID] = sv
	}

	set.Warnings = CycleWarnings(r.eval, version)
	return set
}

func (r *Resolver) questions(ctx context.Context, sec *schema.Section, local, scope map[string]any) (QuestionSet, ValueSet) {
	qs := make(QuestionSet, len(sec.Questions))
	var vs ValueSet
	for _, q := range sec.Questions {
		items, _ := local[q.ID].([]any)
		if !q.IsRepeatable || q.VisibilityCondition == "" || len(items) == 0 {
			if r.visible(ctx, q.ID, q.VisibilityCondition, scope) {
				qs[q.ID] = true
			}
			continue
		}

		// A repeatable question with values is visible when any value is.
		flags := r.values(ctx, q, items, scope)
		if !slices.Contains(flags, true) {
			continue
		}
		qs[q.ID] = true
		if vs == nil {
			vs = make(ValueSet)
		}
		vs[q.ID] = flags
	}
	return qs, vs
}

// values resolves a repeatable question once per value. The question's own
// identifier is bound to the value, and map values add their keys on top,
// so each value is judged with its local answers merged over the context.
func (r *Resolver) values(ctx context.Context, q *schema.Question, items []any, scope map[string]any) []bool {
	flags := make([]bool, len(items))
	for i, item := range items {
		itemScope := maps.Clone(scope)
		itemScope[expressions.VariableName(q.ID)] = item
		if m, ok := item.(map[string]any); ok {
			for k, v := range m {
				itemScope[expressions.VariableName(k)] = v
			}
		}
		flags[i] = r.visible(ctx, q.ID, q.VisibilityCondition, itemScope)
	}
	return flags
}

// visible fails closed: a condition that errors hides its field.
func (r *Resolver) visible(ctx context.Context, id, condition string, scope map[string]any) bool {
	if condition == "" {
		return true
	}
	ok, err := r.eval.EvaluateBool(ctx, condition, scope)
	if err != nil {
		r.logger.DebugContext(ctx, "visibility condition failed, hiding field",
			slog.String("field", id),
			slog.String("code", schema.CodeOf(err)))
		return false
	}
	return ok
}
