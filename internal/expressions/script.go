package expressions

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rendis/formflow/pkg/schema"
)

// Script is a compiled multi-statement snippet for calculated fields.
type Script struct {
	source     string
	statements []statement
}

type statement struct {
	line    int
	target  string
	program *compiled
}

var assignment = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=([^=].*)$`)

// CompileScript splits a script into `name = expression` statements,
// separated by newlines or ';' with '#' comments, and compiles each one in
// script mode.
func (e *Evaluator) CompileScript(source string) (*Script, error) {
	lines := splitStatements(source)
	if len(lines) == 0 {
		return nil, schema.NewError(schema.ErrCodeSyntax, "empty script")
	}
	if len(lines) > e.cfg.MaxStatements {
		return nil, schema.NewError(schema.ErrCodeTimeout, schema.MsgEvaluationFailed).
			WithCause(fmt.Errorf("script has %d statements, limit is %d", len(lines), e.cfg.MaxStatements))
	}

	s := &Script{source: source}
	for _, ln := range lines {
		m := assignment.FindStringSubmatch(ln.text)
		if m == nil {
			return nil, schema.NewErrorf(schema.ErrCodeSyntax, "line %d: expected name = expression", ln.number)
		}
		target := m[1]
		if target != ResultBinding {
			if err := e.checkBinding(target); err != nil {
				return nil, err
			}
		}
		c, err := e.getOrCompile(strings.TrimSpace(m[2]), modeScript)
		if err != nil {
			return nil, err
		}
		s.statements = append(s.statements, statement{line: ln.number, target: target, program: c})
	}
	return s, nil
}

// checkBinding rejects assignment targets that would shadow reserved names.
func (e *Evaluator) checkBinding(name string) error {
	if err := e.checkName(name); err != nil {
		return err
	}
	if keywords[name] || schema.IsPseudoVariable(name) || isFunctionName(name) || e.modules[name] {
		return violation("assignment to reserved name %q", name)
	}
	return nil
}

// RunScript executes a compiled script against data. The result is the
// `result` binding if assigned, otherwise the map of bindings the script
// produced, minus '_'-prefixed and reserved names.
func (e *Evaluator) RunScript(ctx context.Context, s *Script, data map[string]any) (any, error) {
	deadline := time.Now().Add(e.cfg.Timeout)
	env := make(map[string]any, len(data)+len(s.statements))
	for k, v := range data {
		env[k] = v
	}

	bound := make(map[string]any)
	var order []string
	for _, st := range s.statements {
		out, err := e.run(ctx, st.program.program, env, deadline)
		if err != nil {
			e.logFailure(ctx, s.source, err)
			return nil, err
		}
		if str, ok := out.(string); ok && len(str) > e.cfg.MaxStringLength {
			err := schema.NewError(schema.ErrCodeTimeout, schema.MsgEvaluationFailed).
				WithCause(fmt.Errorf("line %d: string of %d bytes exceeds limit", st.line, len(str)))
			e.logFailure(ctx, s.source, err)
			return nil, err
		}
		env[st.target] = out
		if _, ok := bound[st.target]; !ok {
			order = append(order, st.target)
		}
		bound[st.target] = out
	}

	if v, ok := bound[ResultBinding]; ok {
		return v, nil
	}
	result := make(map[string]any, len(order))
	for _, name := range order {
		if strings.HasPrefix(name, "_") {
			continue
		}
		result[name] = bound[name]
	}
	return result, nil
}

// ExecScript compiles and runs source in one call.
func (e *Evaluator) ExecScript(ctx context.Context, source string, data map[string]any) (any, error) {
	s, err := e.CompileScript(source)
	if err != nil {
		e.logFailure(ctx, source, err)
		return nil, err
	}
	return e.RunScript(ctx, s, data)
}

type scriptLine struct {
	number int
	text   string
}

// splitStatements breaks a script on newlines and ';', dropping '#'
// comments and blank statements. Quoted strings are left intact.
func splitStatements(src string) []scriptLine {
	var (
		out   []scriptLine
		cur   strings.Builder
		quote rune
		line  = 1
		start = 1
		skip  bool
	)
	flush := func() {
		if text := strings.TrimSpace(cur.String()); text != "" {
			out = append(out, scriptLine{number: start, text: text})
		}
		cur.Reset()
		start = line
	}
	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\n' {
			line++
			skip = false
			quote = 0
			flush()
			continue
		}
		if skip {
			continue
		}
		if quote != 0 {
			cur.WriteRune(r)
			if r == '\\' && i+1 < len(runes) {
				i++
				cur.WriteRune(runes[i])
			} else if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '"', '\'', '`':
			quote = r
			cur.WriteRune(r)
		case '#':
			skip = true
		case ';':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
