package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rendis/formflow/pkg/schema"
)

// MsgRequired is reported for a required visible question without a value.
const MsgRequired = "Required field missing"

// Accepted layouts for temporal answers. Bounds compare as strings, so
// answers and bounds must share the ISO-8601 shape.
var (
	dateLayouts     = []string{"2006-01-02"}
	dateTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"}
	timeLayouts     = []string{"15:04:05", "15:04"}
)

var phonePattern = regexp.MustCompile(`^\+?[0-9 ().-]{7,24}$`)

// patternCache holds compiled full-match patterns keyed by source.
var patternCache sync.Map

// fullMatch compiles pattern anchored at both ends, so "[0-9]+" rejects "12a".
func fullMatch(pattern string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}

// IsEmpty reports whether v counts as an absent answer: nil, whitespace-only
// text, or an empty list or map.
func IsEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

// checkValue returns the rule violations of one non-empty value.
func (e *Engine) checkValue(q *schema.Question, v any) []string {
	rules := q.ValidationRules
	if rules == nil {
		rules = &schema.ValidationRules{}
	}

	switch q.FieldType {
	case schema.FieldText, schema.FieldTextarea, schema.FieldRichText:
		s, ok := v.(string)
		if !ok {
			return []string{"must be text"}
		}
		return checkText(s, rules)

	case schema.FieldEmail:
		s, ok := v.(string)
		if !ok || !validEmail(s) {
			return []string{"must be a valid email address"}
		}
		return checkText(s, rules)

	case schema.FieldURL:
		s, ok := v.(string)
		if !ok || !validURL(s) {
			return []string{"must be a valid http or https URL"}
		}
		return checkText(s, rules)

	case schema.FieldPhone:
		s, ok := v.(string)
		if !ok || !validPhone(s) {
			return []string{"must be a valid phone number"}
		}
		return checkText(s, rules)

	case schema.FieldNumber, schema.FieldRating:
		n, ok := toNumber(v)
		if !ok {
			return []string{"must be a number"}
		}
		return checkNumber(n, rules, q.FieldType == schema.FieldRating)

	case schema.FieldDate:
		return checkTemporal(v, dateLayouts, "date (YYYY-MM-DD)", rules)
	case schema.FieldDateTime:
		return checkTemporal(v, dateTimeLayouts, "date-time (ISO-8601)", rules)
	case schema.FieldTime:
		return checkTemporal(v, timeLayouts, "time (HH:MM)", rules)

	case schema.FieldBoolean:
		if _, ok := v.(bool); !ok {
			return []string{"must be true or false"}
		}

	case schema.FieldChoice:
		s, ok := v.(string)
		if !ok || !hasOption(q, s) {
			return []string{"must be one of the offered options"}
		}

	case schema.FieldMultiChoice:
		return checkSelection(q, v, rules)

	case schema.FieldFile:
		return checkFile(v, rules)

	case schema.FieldJSON:
		if len(rules.JSONSchema) == 0 {
			return nil
		}
		if err := e.jsonSchema.ValidateValue(v, rules.JSONSchema); err != nil {
			return violationsOf(err)
		}
	}
	return nil
}

func checkText(s string, rules *schema.ValidationRules) []string {
	var out []string
	n := utf8.RuneCountInString(s)
	if rules.MinLength != nil && n < *rules.MinLength {
		out = append(out, fmt.Sprintf("must be at least %d characters", *rules.MinLength))
	}
	if rules.MaxLength != nil && n > *rules.MaxLength {
		out = append(out, fmt.Sprintf("must be at most %d characters", *rules.MaxLength))
	}
	if rules.Pattern != "" {
		re, err := fullMatch(rules.Pattern)
		switch {
		case err != nil:
			out = append(out, "pattern is invalid")
		case !re.MatchString(s):
			msg := rules.PatternMessage
			if msg == "" {
				msg = "does not match the required format"
			}
			out = append(out, msg)
		}
	}
	return out
}

func checkNumber(n float64, rules *schema.ValidationRules, integral bool) []string {
	var out []string
	if (rules.Integer || integral) && n != math.Trunc(n) {
		out = append(out, "must be a whole number")
	}
	if rules.Min != nil && n < *rules.Min {
		out = append(out, fmt.Sprintf("must be at least %s", formatNumber(*rules.Min)))
	}
	if rules.Max != nil && n > *rules.Max {
		out = append(out, fmt.Sprintf("must be at most %s", formatNumber(*rules.Max)))
	}
	return out
}

func checkTemporal(v any, layouts []string, kind string, rules *schema.ValidationRules) []string {
	s, ok := v.(string)
	if !ok || !parsesAs(s, layouts) {
		return []string{"must be a valid " + kind}
	}
	var out []string
	if rules.MinDate != "" && s < rules.MinDate {
		out = append(out, "must not be before "+rules.MinDate)
	}
	if rules.MaxDate != "" && s > rules.MaxDate {
		out = append(out, "must not be after "+rules.MaxDate)
	}
	return out
}

func checkSelection(q *schema.Question, v any, rules *schema.ValidationRules) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{"must be a list of options"}
	}
	var out []string
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok || !hasOption(q, s) {
			out = append(out, fmt.Sprintf("%v is not one of the offered options", item))
			continue
		}
		if seen[s] {
			out = append(out, fmt.Sprintf("%q is selected more than once", s))
		}
		seen[s] = true
	}
	if rules.MinSelected != nil && len(items) < *rules.MinSelected {
		out = append(out, fmt.Sprintf("select at least %d options", *rules.MinSelected))
	}
	if rules.MaxSelected != nil && len(items) > *rules.MaxSelected {
		out = append(out, fmt.Sprintf("select at most %d options", *rules.MaxSelected))
	}
	return out
}

// checkFile accepts a file name or a {name, size} descriptor.
func checkFile(v any, rules *schema.ValidationRules) []string {
	var (
		name string
		size float64
	)
	switch val := v.(type) {
	case string:
		name = val
	case map[string]any:
		name, _ = val["name"].(string)
		size, _ = toNumber(val["size"])
	default:
		return []string{"must be a file reference"}
	}
	if name == "" {
		return []string{"file name is missing"}
	}

	var out []string
	if len(rules.AllowedExtensions) > 0 {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
		allowed := false
		for _, a := range rules.AllowedExtensions {
			if strings.ToLower(strings.TrimPrefix(a, ".")) == ext {
				allowed = true
				break
			}
		}
		if !allowed {
			out = append(out, "file type must be one of "+strings.Join(rules.AllowedExtensions, ", "))
		}
	}
	if rules.MaxFileSize > 0 && size > float64(rules.MaxFileSize) {
		out = append(out, fmt.Sprintf("file must be at most %d bytes", rules.MaxFileSize))
	}
	return out
}

func hasOption(q *schema.Question, value string) bool {
	for _, o := range q.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func validURL(s string) bool {
	u, err := url.ParseRequestURI(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validPhone(s string) bool {
	if !phonePattern.MatchString(s) {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 7 && digits <= 15
}

func parsesAs(s string, layouts []string) bool {
	for _, layout := range layouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
