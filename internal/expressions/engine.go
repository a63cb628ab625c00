package expressions

import "context"

// Engine evaluates administrator-authored expressions over answer data.
// Two implementations: the sandboxed Evaluator (conditions and scripts) and
// JQEngine (data_mapping paths).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
