package expressions

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/itchyny/gojq"
	"github.com/rendis/formflow/pkg/schema"
)

// JQEngine implements the Engine interface using GoJQ for path queries into
// sanitized answer trees. Queries may read pseudo-variables as $name.
// Thread-safe: compiled *Code objects are cached and reused across goroutines.
type JQEngine struct {
	variables []string // sorted $-prefixed names every query is compiled with

	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewJQEngine creates a JQ engine whose queries may reference the given
// variable names (without the leading '$').
func NewJQEngine(variables ...string) *JQEngine {
	vars := make([]string, len(variables))
	for i, v := range variables {
		vars[i] = "$" + v
	}
	sort.Strings(vars)
	return &JQEngine{
		variables: vars,
		cache:     make(map[string]*gojq.Code),
	}
}

// Name returns the engine identifier.
func (e *JQEngine) Name() string {
	return "jq"
}

// Evaluate runs a query with no variable bindings beyond nil.
func (e *JQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	return e.Query(ctx, expression, data, nil)
}

// Query compiles (or retrieves from cache) a jq expression and evaluates it
// against data, binding vars to the engine's declared variables.
//
// jq expressions can produce multiple outputs. When there is exactly one output,
// it is returned directly. When there are multiple outputs, they are collected
// into a slice and returned as []any.
func (e *JQEngine) Query(ctx context.Context, expression string, data map[string]any, vars map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeSyntax, "empty jq expression")
	}

	code, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	values := make([]any, len(e.variables))
	for i, name := range e.variables {
		values[i] = normalizeForJQ(vars[name[1:]])
	}

	iter := code.RunWithContext(ctx, normalizeForJQ(data), values...)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// Compile checks a query without running it.
func (e *JQEngine) Compile(expression string) error {
	_, err := e.getOrCompile(expression)
	return err
}

// getOrCompile returns a cached compiled code or compiles and caches a new one.
func (e *JQEngine) getOrCompile(expression string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSyntax,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
		gojq.WithVariables(e.variables),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSyntax,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = code
	return code, nil
}

// normalizeForJQ converts Go native types to jq-compatible types.
// jq uses float64 for all numbers.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalizeForJQ(v)
		}
		return out
	case schema.AnswerTree:
		return normalizeForJQ(map[string]any(val))
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeForJQ(v)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeForJQ(v)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = v
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	case json.Number:
		f, _ := val.Float64()
		return f
	default:
		return v
	}
}

var _ Engine = (*JQEngine)(nil)
