package expressions

import (
	"strings"

	"github.com/rendis/formflow/pkg/schema"
)

// ResultBinding is the script binding whose value becomes the script result.
const ResultBinding = "result"

// keywords of the condition grammar; never usable as variable names.
var keywords = map[string]bool{
	"true": true, "false": true, "nil": true, "null": true,
	"and": true, "or": true, "not": true, "in": true,
	"contains": true, "matches": true, "startsWith": true, "endsWith": true,
	"let": true, "if": true, "else": true,
}

// VariableName maps an answer ID to the identifier expressions use for it.
// Every rune outside [A-Za-z0-9_] becomes '_' and a leading digit gets a
// '_' prefix, so "first-name" reads as first_name and "2nd" as _2nd.
func VariableName(id string) string {
	var b strings.Builder
	b.Grow(len(id) + 1)
	for i, r := range id {
		if i == 0 && r >= '0' && r <= '9' {
			b.WriteByte('_')
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// CheckVariableName reports why name cannot be bound to an answer, or nil.
func (e *Evaluator) CheckVariableName(name string) error {
	switch {
	case name == "":
		return schema.NewError(schema.ErrCodeValidation, "empty identifier")
	case keywords[name]:
		return schema.NewErrorf(schema.ErrCodeValidation, "identifier %q is a language keyword", name)
	case schema.IsPseudoVariable(name):
		return schema.NewErrorf(schema.ErrCodeValidation, "identifier %q is a reserved pseudo-variable", name)
	case name == ResultBinding:
		return schema.NewErrorf(schema.ErrCodeValidation, "identifier %q is reserved for script results", name)
	case strings.HasPrefix(name, "__"):
		return schema.NewErrorf(schema.ErrCodeValidation, "identifier %q uses the reserved __ prefix", name)
	case isFunctionName(name) || e.modules[name] || e.isModuleFunc(name):
		return schema.NewErrorf(schema.ErrCodeValidation, "identifier %q shadows a built-in function", name)
	case e.blocked[name]:
		return schema.NewErrorf(schema.ErrCodeValidation, "identifier %q is blocked", name)
	}
	return nil
}

// isModuleFunc reports whether name is the flat compiled name of a function
// of an enabled module, such as math_sqrt.
func (e *Evaluator) isModuleFunc(name string) bool {
	for module := range e.modules {
		for fn := range moduleFuncs[module] {
			if moduleFuncName(module, fn) == name {
				return true
			}
		}
	}
	return false
}
