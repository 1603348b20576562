package crypto

import (
	"crypto/sha512"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key length produced for KEKs and data keys.
	KeySize = 32
	// IVSize is the AES block size used for CBC initialization vectors.
	IVSize = 16

	// LegacyContext and LegacyIterations reproduce the parameters existing
	// wrapped keys were derived with.
	LegacyContext    = "salt"
	LegacyIterations = 1
)

// Deriver turns password-verification material into fixed-length keys.
// The same input and context always yield the same output.
type Deriver struct {
	iterations int
}

// NewDeriver creates a PBKDF2-SHA512 deriver. Non-positive iteration counts
// fall back to LegacyIterations.
func NewDeriver(iterations int) *Deriver {
	if iterations <= 0 {
		iterations = LegacyIterations
	}
	return &Deriver{iterations: iterations}
}

// Derive returns a KeySize key for secret under context.
func (d *Deriver) Derive(secret []byte, context string) ([]byte, error) {
	return d.DeriveSize(secret, context, KeySize)
}

// DeriveSize returns size bytes of key material for secret under context.
func (d *Deriver) DeriveSize(secret []byte, context string, size int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, &Error{Op: "derive", Err: ErrEmptyKeyMaterial}
	}
	if size <= 0 {
		return nil, &Error{Op: "derive", Err: ErrInvalidKeySize}
	}
	return pbkdf2.Key(secret, []byte(context), d.iterations, size, sha512.New), nil
}
