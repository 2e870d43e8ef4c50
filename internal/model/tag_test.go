package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain ascii", "fix-build", "fix-build"},
		{"trims whitespace", "  fix-build \n", "fix-build"},
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		// "café" with a combining acute accent folds to the precomposed form.
		{"nfc folds decomposed", "café", "café"},
		{"nfc keeps precomposed", "café", "café"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeKey(tt.in))
		})
	}
}
