package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		src  string
		want any
		ok   bool
	}{
		{`"hello"`, "hello", true},
		{`'hello'`, "hello", true},
		{`'it\'s'`, "it's", true},
		{`"a\"b"`, `a"b`, true},
		{"42", 42.0, true},
		{"-1.5", -1.5, true},
		{"true", true, true},
		{"false", false, true},
		{"null", nil, true},
		{"Q1", nil, false},
		{"first-name", nil, false},
		{".main.Q1", nil, false},
		{`'broken`, nil, false},
		{`'a'b'`, nil, false},
		{"", nil, false},
		{"NaN", nil, false},
		{"Inf", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, ok := ParseLiteral(tt.src)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
