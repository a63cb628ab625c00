package expressions

import (
	"strconv"
	"strings"
)

// ParseLiteral reads a data_mapping source written as a literal: a single-
// or double-quoted string, a number, true, false or null. ok is false for
// anything else, which callers then treat as a reference.
func ParseLiteral(src string) (value any, ok bool) {
	s := strings.TrimSpace(src)
	switch s {
	case "":
		return nil, false
	case "true":
		return true, true
	case "false":
		return false, true
	case "null", "nil":
		return nil, true
	}

	if len(s) >= 2 {
		switch {
		case s[0] == '"' && s[len(s)-1] == '"':
			if v, err := strconv.Unquote(s); err == nil {
				return v, true
			}
			return nil, false
		case s[0] == '\'' && s[len(s)-1] == '\'':
			body := s[1 : len(s)-1]
			if strings.Contains(strings.ReplaceAll(body, `\'`, ""), "'") {
				return nil, false
			}
			return strings.ReplaceAll(body, `\'`, "'"), true
		}
	}

	if c := s[0]; c != '-' && c != '+' && (c < '0' || c > '9') {
		return nil, false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return float64(i), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	return nil, false
}
