package expressions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/formflow/internal/logging"
	"github.com/rendis/formflow/pkg/schema"
)

// Evaluator implements Engine on expr-lang/expr, restricted to an
// allow-listed subset of its grammar. Every expression is inspected before
// compilation; compiled *vm.Program objects are cached and shared across
// goroutines.
type Evaluator struct {
	cfg     Config
	blocked map[string]bool
	modules map[string]bool
	options []expr.Option
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[cacheKey]*compiled
}

type cacheKey struct {
	mode       mode
	expression string
}

type compiled struct {
	program *vm.Program
	refs    []string
}

// NewEvaluator creates an Evaluator with the given limits and blocklist.
func NewEvaluator(cfg Config, logger *slog.Logger) *Evaluator {
	cfg = cfg.withDefaults()
	e := &Evaluator{
		cfg:     cfg,
		blocked: make(map[string]bool, len(cfg.BlockedNames)),
		modules: make(map[string]bool, len(cfg.Modules)),
		logger:  logging.OrDefault(logger),
		cache:   make(map[cacheKey]*compiled),
	}
	for _, name := range cfg.BlockedNames {
		e.blocked[name] = true
	}
	for _, name := range cfg.Modules {
		if _, ok := moduleFuncs[name]; ok {
			e.modules[name] = true
		}
	}

	e.options = []expr.Option{
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.DisableAllBuiltins(),
		expr.MaxNodes(uint(cfg.MaxNodes)),
		expr.Patch(modulePatcher{}),
	}
	for name, fn := range conditionFuncs {
		e.options = append(e.options, expr.Function(name, fn))
	}
	for module := range e.modules {
		for name, fn := range moduleFuncs[module] {
			e.options = append(e.options, expr.Function(moduleFuncName(module, name), fn))
		}
	}
	return e
}

// Config returns the effective configuration.
func (e *Evaluator) Config() Config { return e.cfg }

// Name returns the engine identifier.
func (e *Evaluator) Name() string {
	return "expr"
}

// Compile checks an expression for syntax and sandbox violations without
// running it. Used at schema-save time so bad expressions fail fast.
func (e *Evaluator) Compile(expression string) error {
	_, err := e.getOrCompile(expression, modeCondition)
	return err
}

// References lists the variables an expression reads, in first-use order.
func (e *Evaluator) References(expression string) ([]string, error) {
	c, err := e.getOrCompile(expression, modeCondition)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), c.refs...), nil
}

// Evaluate runs an expression against data. Missing variables read as nil.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeSyntax, "empty expression")
	}
	c, err := e.getOrCompile(expression, modeCondition)
	if err != nil {
		e.logFailure(ctx, expression, err)
		return nil, err
	}
	deadline := time.Now().Add(e.cfg.Timeout)
	out, err := e.run(ctx, c.program, data, deadline)
	if err != nil {
		e.logFailure(ctx, expression, err)
		return nil, err
	}
	return out, nil
}

// EvaluateBool runs an expression in boolean context. Non-bool results are
// read by truthiness. On error the result is false and the error says why;
// callers decide whether an EXECUTION_ERROR simply means false.
func (e *Evaluator) EvaluateBool(ctx context.Context, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	return Truthy(out), nil
}

func (e *Evaluator) run(ctx context.Context, prg *vm.Program, data map[string]any, deadline time.Time) (any, error) {
	if err := checkBudget(ctx, deadline); err != nil {
		return nil, err
	}
	env := data
	if env == nil {
		env = map[string]any{}
	}
	out, err := expr.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "execution error: %s", firstLine(err.Error())).
			WithCause(err)
	}
	if err := checkBudget(ctx, deadline); err != nil {
		return nil, err
	}
	return out, nil
}

// checkBudget fails with EVALUATION_TIMEOUT once the wall-clock budget or
// the caller's context is spent.
func checkBudget(ctx context.Context, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return schema.NewError(schema.ErrCodeTimeout, schema.MsgEvaluationFailed).WithCause(err)
	}
	if time.Now().After(deadline) {
		return schema.NewError(schema.ErrCodeTimeout, schema.MsgEvaluationFailed).
			WithCause(errors.New("evaluation budget exceeded"))
	}
	return nil
}

// getOrCompile returns a cached program or inspects, compiles and caches one.
func (e *Evaluator) getOrCompile(expression string, m mode) (*compiled, error) {
	key := cacheKey{mode: m, expression: expression}

	e.mu.RLock()
	if c, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return c, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if c, ok := e.cache[key]; ok {
		return c, nil
	}

	in, err := e.inspect(expression, m)
	if err != nil {
		return nil, err
	}

	prg, err := expr.Compile(expression, e.options...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSyntax, "compile error: %s", firstLine(err.Error())).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	c := &compiled{program: prg, refs: in.refs}
	e.cache[key] = c
	return c, nil
}

// logFailure records the internal cause of sandbox failures, which callers
// never see.
func (e *Evaluator) logFailure(ctx context.Context, expression string, err error) {
	var fe *schema.FormError
	if !errors.As(err, &fe) {
		return
	}
	switch fe.Code {
	case schema.ErrCodeSecurityViolation, schema.ErrCodeTimeout:
		e.logger.WarnContext(ctx, "expression rejected",
			slog.String("code", fe.Code),
			slog.String("expression", expression),
			slog.String("cause", fmt.Sprint(fe.Cause)))
	}
}

var _ Engine = (*Evaluator)(nil)
