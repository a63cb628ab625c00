package expressions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFnNumber(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{"  4.5 ", 4.5},
		{3, 3.0},
		{json.Number("7"), 7.0},
		{true, 1.0},
		{nil, nil},
	}
	for _, tt := range tests {
		got, err := fnNumber(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := fnNumber("abc")
	assert.Error(t, err)
	_, err = fnNumber(1, 2)
	assert.Error(t, err)
}

func TestFnLength(t *testing.T) {
	for _, tt := range []struct {
		in   any
		want int
	}{
		{"héllo", 5},
		{[]any{1, 2}, 2},
		{map[string]any{"a": 1}, 1},
		{nil, 0},
	} {
		got, err := fnLength(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := fnLength(5)
	assert.Error(t, err)
}

func TestFnDate(t *testing.T) {
	got, err := fnDate("2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1704067200), got)

	_, err = fnDate("yesterday")
	assert.Error(t, err)
	_, err = fnDate(12)
	assert.Error(t, err)
}

func TestFnMinMax(t *testing.T) {
	got, err := fnMin([]any{4.0, 2.0, 9.0})
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)

	got, err = fnMax(1, 7.5)
	require.NoError(t, err)
	assert.Equal(t, 7.5, got)

	_, err = fnMax()
	assert.Error(t, err)
	_, err = fnMin("a")
	assert.Error(t, err)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy([]any{}))
	assert.False(t, Truthy(map[string]any{}))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy(-1))
	assert.True(t, Truthy(struct{}{}))
}
