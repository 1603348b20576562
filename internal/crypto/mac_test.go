package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	tag, err := Sign(key, "00ff")
	require.NoError(t, err)
	assert.Len(t, tag, 64)
	assert.NoError(t, Verify(key, "00ff", tag))

	tests := []struct {
		name    string
		key     []byte
		message string
		tag     string
	}{
		{"changed message", key, "01ff", tag},
		{"wrong key", []byte("another key"), "00ff", tag},
		{"truncated tag", key, "00ff", tag[:62]},
		{"not hex", key, "00ff", strings.Repeat("z", 64)},
		{"flipped tag", key, "00ff", flipHex(tag)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Verify(tt.key, tt.message, tt.tag), ErrBadMAC)
		})
	}

	_, err = Sign(nil, "00ff")
	assert.ErrorIs(t, err, ErrEmptyKeyMaterial)
}

func flipHex(s string) string {
	b := []byte(s)
	if b[0] == '0' {
		b[0] = '1'
	} else {
		b[0] = '0'
	}
	return string(b)
}
