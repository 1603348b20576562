package crypto

import (
	"testing"

	"github.com/kenneth/envvault/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSuite_FixedFromSeeds(t *testing.T) {
	suite, err := BuildSuite(config.CryptoConfig{
		IVMode:        "fixed",
		KDFContext:    LegacyContext,
		KDFIterations: LegacyIterations,
		KeyWrapIV:     config.IVSource{Seed: "wrap-seed"},
		SecretValueIV: config.IVSource{Hex: "000102030405060708090a0b0c0d0e0f"},
		LinkSecret:    "server-key",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, IVModeFixed, suite.Cipher.Mode())
	assert.Len(t, suite.LinkKey, KeySize)
	assert.Len(t, suite.LinkMACKey, KeySize)
	assert.NotEqual(t, suite.LinkKey, suite.LinkMACKey, "encryption and authentication keys are independent")

	key := mustHex(t, "c8c5223bb3b65987752a8ad1d28acf011a61b86f1fc4cec82c7283fde6f83c3d")
	ct, err := suite.Cipher.EncryptString(PurposeKeyWrap, "hello world", key)
	require.NoError(t, err)
	assert.Equal(t, "9eb1415a8ccc0d19c2eb081caf76468c", ct, "seeded IV matches legacy derivation")

	link, err := suite.Cipher.EncryptString(PurposeRegistrationLink, "hello world", key)
	require.NoError(t, err)
	assert.Equal(t, ct, link, "link IV falls back to the key-wrap IV")
}

func TestBuildSuite_Errors(t *testing.T) {
	_, err := BuildSuite(config.CryptoConfig{
		IVMode:        "fixed",
		KDFContext:    LegacyContext,
		KDFIterations: 1,
		KeyWrapIV:     config.IVSource{Hex: "abcd"},
		SecretValueIV: config.IVSource{Seed: "x"},
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidIV)

	_, err = BuildSuite(config.CryptoConfig{
		IVMode:        "fixed",
		KDFContext:    LegacyContext,
		KDFIterations: 1,
		KeyWrapIV:     config.IVSource{Seed: "x"},
	}, nil)
	assert.ErrorIs(t, err, ErrEmptyKeyMaterial)

	suite, err := BuildSuite(config.CryptoConfig{IVMode: "random", KDFContext: "ctx", KDFIterations: 10}, nil)
	require.NoError(t, err)
	assert.Nil(t, suite.LinkKey)
	assert.Nil(t, suite.LinkMACKey)
}
