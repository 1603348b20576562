package crypto

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriver_LegacyKnownAnswer(t *testing.T) {
	d := NewDeriver(LegacyIterations)

	kek, err := d.Derive([]byte("material"), LegacyContext)
	require.NoError(t, err)
	assert.Equal(t, "c8c5223bb3b65987752a8ad1d28acf011a61b86f1fc4cec82c7283fde6f83c3d", hex.EncodeToString(kek))

	iv, err := d.DeriveSize([]byte("wrap-seed"), LegacyContext, IVSize)
	require.NoError(t, err)
	assert.Equal(t, "8a9a5953b207154ac6a0ce01ef7f714e", hex.EncodeToString(iv))
}

func TestDeriver_Deterministic(t *testing.T) {
	d := NewDeriver(1000)

	a, err := d.Derive([]byte("secret"), "ctx")
	require.NoError(t, err)
	b, err := d.Derive([]byte("secret"), "ctx")
	require.NoError(t, err)
	c, err := d.Derive([]byte("secret"), "other")
	require.NoError(t, err)

	assert.Len(t, a, KeySize)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDeriver_EmptyInput(t *testing.T) {
	d := NewDeriver(0)

	_, err := d.Derive(nil, LegacyContext)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyKeyMaterial))
	assert.True(t, IsCryptoError(err))

	_, err = d.DeriveSize([]byte("x"), LegacyContext, 0)
	assert.True(t, errors.Is(err, ErrInvalidKeySize))
}
