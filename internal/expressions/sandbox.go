package expressions

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/rendis/formflow/pkg/schema"
)

// Config bounds what an Evaluator accepts and how long it may run.
type Config struct {
	// BlockedNames can never be referenced, bound or called.
	BlockedNames []string `json:"blocked_names,omitempty" yaml:"blocked_names,omitempty"`
	// Modules enabled for scripts. Only "math" exists.
	Modules         []string      `json:"modules,omitempty" yaml:"modules,omitempty"`
	MaxNodes        int           `json:"max_nodes" yaml:"max_nodes"`
	MaxStatements   int           `json:"max_statements" yaml:"max_statements"`
	MaxStringLength int           `json:"max_string_length" yaml:"max_string_length"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		BlockedNames: []string{
			"eval", "exec", "compile", "open", "import", "globals", "locals",
			"getattr", "setattr", "delattr", "vars", "dir", "type", "env",
		},
		Modules:         []string{"math"},
		MaxNodes:        256,
		MaxStatements:   50,
		MaxStringLength: 10_000,
		Timeout:         100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxNodes <= 0 {
		c.MaxNodes = d.MaxNodes
	}
	if c.MaxStatements <= 0 {
		c.MaxStatements = d.MaxStatements
	}
	if c.MaxStringLength <= 0 {
		c.MaxStringLength = d.MaxStringLength
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

var allowedBinary = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "%": true, "**": true, "^": true,
	"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true,
	"and": true, "or": true, "&&": true, "||": true,
	"in": true, "contains": true, "startsWith": true, "endsWith": true, "matches": true,
	"??": true,
}

var allowedUnary = map[string]bool{"!": true, "not": true, "-": true, "+": true}

// mode selects which constructs the inspector admits.
type mode int

const (
	modeCondition mode = iota
	modeScript
)

// inspection is the outcome of walking a parsed expression.
type inspection struct {
	refs  []string
	seen  map[string]bool
	nodes int
}

// violation is the internal detail behind a SECURITY_VIOLATION.
func violation(format string, args ...any) error {
	return schema.NewError(schema.ErrCodeSecurityViolation, schema.MsgEvaluationFailed).
		WithCause(fmt.Errorf(format, args...))
}

// inspect parses the expression and walks its AST against the allow-list.
// Anything not explicitly admitted fails closed.
func (e *Evaluator) inspect(expression string, m mode) (*inspection, error) {
	tree, err := parser.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSyntax, "syntax error: %s", firstLine(err.Error())).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	in := &inspection{seen: map[string]bool{}}
	if err := e.walk(tree.Node, m, in); err != nil {
		return nil, err
	}
	return in, nil
}

func (e *Evaluator) walk(node ast.Node, m mode, in *inspection) error {
	in.nodes++
	if in.nodes > e.cfg.MaxNodes {
		return schema.NewError(schema.ErrCodeTimeout, schema.MsgEvaluationFailed).
			WithCause(fmt.Errorf("expression exceeds %d nodes", e.cfg.MaxNodes))
	}

	switch n := node.(type) {
	case *ast.NilNode, *ast.IntegerNode, *ast.FloatNode, *ast.BoolNode, *ast.StringNode:
		return nil

	case *ast.IdentifierNode:
		if err := e.checkName(n.Value); err != nil {
			return err
		}
		if isFunctionName(n.Value) || e.modules[n.Value] {
			return violation("function %q used as a value", n.Value)
		}
		if !in.seen[n.Value] {
			in.seen[n.Value] = true
			in.refs = append(in.refs, n.Value)
		}
		return nil

	case *ast.UnaryNode:
		if !allowedUnary[n.Operator] {
			return violation("operator %q not allowed", n.Operator)
		}
		return e.walk(n.Node, m, in)

	case *ast.BinaryNode:
		if !allowedBinary[n.Operator] {
			return violation("operator %q not allowed", n.Operator)
		}
		if err := e.walk(n.Left, m, in); err != nil {
			return err
		}
		return e.walk(n.Right, m, in)

	case *ast.ConditionalNode:
		for _, child := range []ast.Node{n.Cond, n.Exp1, n.Exp2} {
			if err := e.walk(child, m, in); err != nil {
				return err
			}
		}
		return nil

	case *ast.ArrayNode:
		return e.walkAll(n.Nodes, m, in)

	case *ast.BuiltinNode:
		// The bare parser maps names like lower() or date() onto expr's own
		// builtins; they compile to our replacements, so admit only those.
		if !isFunctionName(n.Name) || e.blocked[n.Name] {
			return violation("function %q not allowed", n.Name)
		}
		return e.walkAll(n.Arguments, m, in)

	case *ast.CallNode:
		if err := e.checkCallee(n.Callee, m); err != nil {
			return err
		}
		return e.walkAll(n.Arguments, m, in)
	}

	return violation("construct %T not allowed", node)
}

func (e *Evaluator) walkAll(nodes []ast.Node, m mode, in *inspection) error {
	for _, child := range nodes {
		if err := e.walk(child, m, in); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) checkCallee(callee ast.Node, m mode) error {
	switch c := callee.(type) {
	case *ast.IdentifierNode:
		if !isFunctionName(c.Value) || e.blocked[c.Value] {
			return violation("function %q not allowed", c.Value)
		}
		return nil
	case *ast.MemberNode:
		module, name, ok := moduleCall(c)
		if !ok {
			return violation("member call not allowed")
		}
		if m != modeScript || !e.modules[module] {
			return violation("module %q not available", module)
		}
		if _, ok := moduleFuncs[module][name]; !ok || e.blocked[module+"."+name] {
			return violation("function %s.%s not allowed", module, name)
		}
		return nil
	}
	return violation("call target %T not allowed", callee)
}

// moduleCall recognizes module.name as a call target.
func moduleCall(m *ast.MemberNode) (module, name string, ok bool) {
	id, ok := m.Node.(*ast.IdentifierNode)
	if !ok {
		return "", "", false
	}
	prop, ok := m.Property.(*ast.StringNode)
	if !ok {
		return "", "", false
	}
	return id.Value, prop.Value, true
}

func (e *Evaluator) checkName(name string) error {
	switch {
	case strings.HasPrefix(name, "$"):
		return violation("environment access via %q", name)
	case strings.HasPrefix(name, "__"):
		return violation("reserved name %q", name)
	case e.blocked[name]:
		return violation("blocked name %q", name)
	}
	return nil
}

// modulePatcher rewrites module.name(...) into the flat function it was
// registered under, after inspect has admitted the call.
type modulePatcher struct{}

func (modulePatcher) Visit(node *ast.Node) {
	call, ok := (*node).(*ast.CallNode)
	if !ok {
		return
	}
	member, ok := call.Callee.(*ast.MemberNode)
	if !ok {
		return
	}
	if module, name, ok := moduleCall(member); ok {
		call.Callee = &ast.IdentifierNode{Value: moduleFuncName(module, name)}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
