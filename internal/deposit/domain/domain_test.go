package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTxHash(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"带0x大写", "0xABCdef", "abcdef"},
		{"带0X", "0XAB", "ab"},
		{"两端空白", "  abc \n", "abc"},
		{"已规范", "abc", "abc"},
		{"空串", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTxHash(tt.in))
		})
	}
}

func TestIsHexHash(t *testing.T) {
	assert.True(t, IsHexHash(strings.Repeat("a1", 32)))
	assert.False(t, IsHexHash(strings.Repeat("a", 63)))
	assert.False(t, IsHexHash(strings.Repeat("g", 64)))
	assert.False(t, IsHexHash(strings.Repeat("A", 64)), "必须先规范化")
}
