package apikey

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_Vectors(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		token string
	}{
		{"random", "0ef1a2b3-4c5d-46e7-8f90-a1b2c3d4e5f6", "07F38NK-165THQ7-27S18DJ-31X9SFP"},
		{"zero", "00000000-0000-0000-0000-000000000000", "0000000-0000000-0000000-0000000"},
		{"max", "ffffffff-ffff-ffff-ffff-ffffffffffff", "3ZZZZZZ-3ZZZZZZ-3ZZZZZZ-3ZZZZZZ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := uuid.MustParse(tt.id)
			assert.Equal(t, tt.token, Encode(id))

			got, err := Decode(tt.token)
			require.NoError(t, err)
			assert.Equal(t, id, got)
		})
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := uuid.New()
		token := Encode(id)
		assert.Len(t, token, tokenLen)

		got, err := Decode(token)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestDecode_Normalization(t *testing.T) {
	id := uuid.MustParse("0ef1a2b3-4c5d-46e7-8f90-a1b2c3d4e5f6")

	for _, in := range []string{
		"07f38nk-165thq7-27s18dj-31x9sfp",
		"07F38NK165THQ727S18DJ31X9SFP",
		"  07F38NK-165THQ7-27S18DJ-31X9SFP\n",
	} {
		got, err := Decode(in)
		require.NoError(t, err, in)
		assert.Equal(t, id, got)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"empty", "", ErrTokenLength},
		{"short", "07F38NK-165THQ7-27S18DJ", ErrTokenLength},
		{"long", "07F38NK-165THQ7-27S18DJ-31X9SFP0", ErrTokenLength},
		{"misplaced dash", "07F38N-K165THQ7-27S18DJ-31X9SFP", ErrTokenFormat},
		{"extra dash", "07F3-NK-165THQ7-27S18DJ-31X9SFP", ErrTokenFormat},
		{"raw with dash", "07F38NK165THQ727S18DJ31X9S-P", ErrTokenFormat},
		{"excluded letter", "07F38NU-165THQ7-27S18DJ-31X9SFP", ErrTokenAlphabet},
		{"punctuation", "07F38N!-165THQ7-27S18DJ-31X9SFP", ErrTokenAlphabet},
		{"group overflow", "4ZZZZZZ-0000000-0000000-0000000", ErrTokenRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, Valid(tt.token))
		})
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, "07F38NK-XXXXXXX-XXXXXXX-31X9SFP", Mask("07F38NK-165THQ7-27S18DJ-31X9SFP"))
	assert.Equal(t, "ab", Mask("ab"))
	assert.Equal(t, "a-b", Mask("a-b"))
	assert.Equal(t, "a-XX-c", Mask("a-bb-c"))

	token := Encode(uuid.New())
	masked := Mask(token)
	assert.Len(t, masked, len(token))
	assert.True(t, strings.HasPrefix(masked, token[:groupLen]))
	assert.True(t, strings.HasSuffix(masked, token[len(token)-groupLen:]))
}
