package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{name: "trims whitespace", input: []string{"  gold_100  ", "pro_monthly "}, expected: []string{"gold_100", "pro_monthly"}},
		{name: "dedupes preserving order", input: []string{"a", "b", "a", "c", "b"}, expected: []string{"a", "b", "c"}},
		{name: "drops empties", input: []string{"a", "", "   ", "b"}, expected: []string{"a", "b"}},
		{name: "case sensitive", input: []string{"Gold", "gold"}, expected: []string{"Gold", "gold"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}
