// Package triggers decides which workflows a submission starts and
// resolves the data their actions carry.
package triggers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rendis/formflow/internal/expressions"
	"github.com/rendis/formflow/internal/logging"
	"github.com/rendis/formflow/pkg/schema"
)

// FormLookup reports whether a target form still exists.
type FormLookup interface {
	FormExists(ctx context.Context, formID string) (bool, error)
}

// Resolver matches workflows against sanitized submissions. It never fails
// a submission: every problem becomes a TriggerWarning.
type Resolver struct {
	eval   *expressions.Evaluator
	jq     *expressions.JQEngine
	forms  FormLookup
	logger *slog.Logger
}

// NewResolver creates a Resolver. forms may be nil to skip target checks.
func NewResolver(eval *expressions.Evaluator, forms FormLookup, logger *slog.Logger) *Resolver {
	return &Resolver{
		eval:   eval,
		jq:     expressions.NewJQEngine(schema.PseudoVariables...),
		forms:  forms,
		logger: logging.OrDefault(logger),
	}
}

// Resolve evaluates the trigger condition of every active workflow bound to
// formID, in the given order, and returns all that match with their actions
// resolved. answers must already be sanitized.
func (r *Resolver) Resolve(ctx context.Context, formID string, answers schema.AnswerTree, pseudo map[string]any, workflows []*schema.Workflow) ([]schema.MatchedWorkflow, []schema.TriggerWarning) {
	var (
		matched  []schema.MatchedWorkflow
		warnings []schema.TriggerWarning
	)
	sb := expressions.ScopeFromAnswers(answers, pseudo)
	scope := sb.Global()

	warn := func(ctx context.Context, wf *schema.Workflow, action int, code, msg string) {
		warnings = append(warnings, schema.TriggerWarning{WorkflowID: wf.ID, Action: action, Code: code, Message: msg})
		r.logger.WarnContext(ctx, "workflow trigger warning",
			slog.Int("action", action),
			slog.String("code", code),
			slog.String("message", msg))
	}

	for _, wf := range workflows {
		if wf == nil || !wf.IsActive || wf.TriggerFormID != formID {
			continue
		}
		wctx := logging.WithWorkflowID(ctx, wf.ID)

		ok, err := r.eval.EvaluateBool(wctx, wf.Condition(), scope)
		if err != nil {
			warn(wctx, wf, -1, codeOr(err, schema.ErrCodeTriggerWarning), "trigger condition failed: "+publicMessage(err))
			continue
		}
		if !ok {
			continue
		}

		m := schema.MatchedWorkflow{WorkflowID: wf.ID, Name: wf.Name, Actions: []schema.ResolvedAction{}}
		for i, a := range wf.Actions {
			if a.Type.NeedsTarget() && r.forms != nil {
				exists, err := r.forms.FormExists(wctx, a.TargetFormID)
				if err != nil {
					warn(wctx, wf, i, schema.ErrCodeTriggerWarning, fmt.Sprintf("target form %q lookup failed: %v", a.TargetFormID, err))
					continue
				}
				if !exists {
					warn(wctx, wf, i, schema.ErrCodeNotFound, fmt.Sprintf("target form %q no longer exists; action skipped", a.TargetFormID))
					continue
				}
			}

			resolved := schema.ResolvedAction{
				Type:         a.Type,
				TargetFormID: a.TargetFormID,
				Data:         make(map[string]any, len(a.DataMapping)),
				Message:      a.Message,
			}
			for field, source := range a.DataMapping {
				v, err := r.resolveSource(wctx, source, answers, pseudo, sb)
				if err != nil {
					warn(wctx, wf, i, codeOr(err, schema.ErrCodeTriggerWarning),
						fmt.Sprintf("data_mapping %q: %s", field, publicMessage(err)))
				}
				resolved.Data[field] = v
			}
			if a.AssignToUserField != "" {
				resolved.AssignTo, _ = sb.Lookup(a.AssignToUserField)
			}
			msg, err := expressions.Interpolate(a.Message, &expressions.TemplateScope{Answers: answers, Response: pseudo, Data: resolved.Data})
			if err != nil {
				warn(wctx, wf, i, codeOr(err, schema.ErrCodeInterpolation), "message: "+publicMessage(err))
			} else {
				resolved.Message = msg
			}
			m.Actions = append(m.Actions, resolved)
		}

		r.logger.DebugContext(wctx, "workflow matched", slog.Int("actions", len(m.Actions)))
		matched = append(matched, m)
	}
	return matched, warnings
}

// resolveSource reads one data_mapping source: a `.path` query over the
// answer tree, a literal, or a question ID / variable / pseudo-variable.
// Anything unresolved maps to nil.
func (r *Resolver) resolveSource(ctx context.Context, source string, answers schema.AnswerTree, pseudo map[string]any, sb *expressions.ScopeBuilder) (any, error) {
	src := strings.TrimSpace(source)
	if strings.HasPrefix(src, ".") {
		return r.jq.Query(ctx, src, map[string]any(answers), pseudo)
	}
	if v, ok := expressions.ParseLiteral(src); ok {
		return v, nil
	}
	v, _ := sb.Lookup(src)
	return v, nil
}

func codeOr(err error, fallback string) string {
	if code := schema.CodeOf(err); code != "" {
		return code
	}
	return fallback
}

// publicMessage hides sandbox details behind the generic message.
func publicMessage(err error) string {
	switch schema.CodeOf(err) {
	case schema.ErrCodeSecurityViolation, schema.ErrCodeTimeout:
		return schema.MsgEvaluationFailed
	}
	var fe *schema.FormError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}
