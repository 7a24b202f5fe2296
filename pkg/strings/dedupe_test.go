package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{"nil", nil, nil},
		{"empty", []string{}, []string{}},
		{"dedupes keeping first-seen order", []string{"b", "a", "b", "a"}, []string{"b", "a"}},
		{"trims before comparing", []string{" a", "a ", "b"}, []string{"a", "b"}},
		{"drops empties and whitespace", []string{"", "  ", "a"}, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.input))
		})
	}
}
