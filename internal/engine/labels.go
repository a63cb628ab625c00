package engine

import (
	"strconv"
	"strings"
)

// DefaultLabel is the label of a form's first version when none is given.
const DefaultLabel = "1.0"

// NextLabel returns the label that follows label. The last dot-separated
// numeric component is incremented (1.0 -> 1.1, 1.9 -> 1.10). A label whose
// last component is not numeric, or that has a single component, counts as
// its own .1 revision, so .2 is appended (v1 -> v1.2, 3 -> 3.2). The result
// is bumped again while taken reports it as used.
func NextLabel(label string, taken func(string) bool) string {
	prefix, n := splitRevision(label)
	for {
		n++
		next := prefix + "." + strconv.Itoa(n)
		if taken == nil || !taken(next) {
			return next
		}
	}
}

// splitRevision separates a label into the part kept across bumps and its
// current revision number.
func splitRevision(label string) (string, int) {
	i := strings.LastIndexByte(label, '.')
	if i < 0 {
		return label, 1
	}
	last := label[i+1:]
	if !isDigits(last) {
		return label, 1
	}
	n, err := strconv.Atoi(last)
	if err != nil {
		return label, 1
	}
	return label[:i], n
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
