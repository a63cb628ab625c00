package expressions

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// builtinFunc is the calling convention of every allow-listed function.
type builtinFunc func(args ...any) (any, error)

// conditionFuncs are the pure functions any expression may call.
var conditionFuncs = map[string]builtinFunc{
	"number":  fnNumber,
	"integer": fnInteger,
	"text":    fnText,
	"length":  fnLength,
	"lower":   stringFunc("lower", strings.ToLower),
	"upper":   stringFunc("upper", strings.ToUpper),
	"trim":    stringFunc("trim", strings.TrimSpace),
	"abs":     floatFunc("abs", math.Abs),
	"round":   floatFunc("round", math.Round),
	"floor":   floatFunc("floor", math.Floor),
	"ceil":    floatFunc("ceil", math.Ceil),
	"min":     fnMin,
	"max":     fnMax,
	"date":    fnDate,
}

// moduleFuncs are reachable only in scripts, as module.name(...), and only
// for modules enabled in Config.Modules.
var moduleFuncs = map[string]map[string]builtinFunc{
	"math": {
		"sqrt":  floatFunc("math.sqrt", math.Sqrt),
		"pow":   fnPow,
		"exp":   floatFunc("math.exp", math.Exp),
		"log":   floatFunc("math.log", math.Log),
		"log10": floatFunc("math.log10", math.Log10),
		"floor": floatFunc("math.floor", math.Floor),
		"ceil":  floatFunc("math.ceil", math.Ceil),
		"round": floatFunc("math.round", math.Round),
		"abs":   floatFunc("math.abs", math.Abs),
		"min":   fnMin,
		"max":   fnMax,
		"sin":   floatFunc("math.sin", math.Sin),
		"cos":   floatFunc("math.cos", math.Cos),
		"tan":   floatFunc("math.tan", math.Tan),
	},
}

func isFunctionName(name string) bool {
	_, ok := conditionFuncs[name]
	return ok
}

// moduleFuncName is the flat name a module call is compiled to.
func moduleFuncName(module, name string) string {
	return module + "_" + name
}

func arity(name string, args []any, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s expects %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

// toFloat converts numeric answer values. Strings are not coerced here;
// number() is the explicit cast.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func floatFunc(name string, fn func(float64) float64) builtinFunc {
	return func(args ...any) (any, error) {
		if err := arity(name, args, 1); err != nil {
			return nil, err
		}
		f, ok := toFloat(args[0])
		if !ok {
			return nil, fmt.Errorf("%s: %T is not a number", name, args[0])
		}
		return fn(f), nil
	}
}

func stringFunc(name string, fn func(string) string) builtinFunc {
	return func(args ...any) (any, error) {
		if err := arity(name, args, 1); err != nil {
			return nil, err
		}
		if args[0] == nil {
			return "", nil
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("%s: %T is not a string", name, args[0])
		}
		return fn(s), nil
	}
}

func fnNumber(args ...any) (any, error) {
	if err := arity("number", args, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case bool:
		if v {
			return 1.0, nil
		}
		return 0.0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("number: cannot convert %q", v)
		}
		return f, nil
	}
	if f, ok := toFloat(args[0]); ok {
		return f, nil
	}
	return nil, fmt.Errorf("number: cannot convert %T", args[0])
}

func fnInteger(args ...any) (any, error) {
	f, err := fnNumber(args...)
	if err != nil || f == nil {
		return f, err
	}
	return int(math.Trunc(f.(float64))), nil
}

func fnText(args ...any) (any, error) {
	if err := arity("text", args, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return fmt.Sprint(args[0]), nil
}

func fnLength(args ...any) (any, error) {
	if err := arity("length", args, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case nil:
		return 0, nil
	case string:
		return utf8.RuneCountInString(v), nil
	}
	rv := reflect.ValueOf(args[0])
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), nil
	}
	return nil, fmt.Errorf("length: %T has no length", args[0])
}

// numbers flattens min/max arguments: either several numbers or one list.
func numbers(name string, args []any) ([]float64, error) {
	if len(args) == 1 {
		if list, ok := args[0].([]any); ok {
			args = list
		}
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s expects at least one number", name)
	}
	out := make([]float64, len(args))
	for i, a := range args {
		f, ok := toFloat(a)
		if !ok {
			return nil, fmt.Errorf("%s: %T is not a number", name, a)
		}
		out[i] = f
	}
	return out, nil
}

func fnMin(args ...any) (any, error) {
	ns, err := numbers("min", args)
	if err != nil {
		return nil, err
	}
	m := ns[0]
	for _, n := range ns[1:] {
		m = math.Min(m, n)
	}
	return m, nil
}

func fnMax(args ...any) (any, error) {
	ns, err := numbers("max", args)
	if err != nil {
		return nil, err
	}
	m := ns[0]
	for _, n := range ns[1:] {
		m = math.Max(m, n)
	}
	return m, nil
}

func fnPow(args ...any) (any, error) {
	if err := arity("math.pow", args, 2); err != nil {
		return nil, err
	}
	x, okX := toFloat(args[0])
	y, okY := toFloat(args[1])
	if !okX || !okY {
		return nil, fmt.Errorf("math.pow: arguments must be numbers")
	}
	return math.Pow(x, y), nil
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}

// fnDate is the explicit ISO-8601 cast; it yields Unix seconds so dates
// compare numerically instead of by string order.
func fnDate(args ...any) (any, error) {
	if err := arity("date", args, 1); err != nil {
		return nil, err
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("date: %T is not an ISO-8601 string", args[0])
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	return nil, fmt.Errorf("date: cannot parse %q", s)
}

// Truthy applies the boolean-context reading of a non-bool result.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}
