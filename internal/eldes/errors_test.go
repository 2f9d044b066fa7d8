package eldes

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 5, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"ascii cut", "abcdef", 3, "abc..."},
		{"cut inside two-byte rune", "aą", 2, "a..."},
		{"cut inside three-byte rune", "ab€", 3, "ab..."},
		{"cut after rune", "ąb", 2, "ą..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestNewUpstreamError_BodyStaysValidUTF8(t *testing.T) {
	// 511 ASCII bytes put the 512 byte limit inside the two-byte rune.
	body := strings.Repeat("x", 511) + strings.Repeat("ž", 10)
	err := newUpstreamError("/device/list", 500, []byte(body))

	var ue *UpstreamError
	assert.True(t, errors.As(err, &ue))
	assert.True(t, utf8.ValidString(ue.Body))
	assert.Equal(t, strings.Repeat("x", 511)+"...", ue.Body)
}
