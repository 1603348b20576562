// Package vault owns the per-user master data key: it is generated once at
// registration, stored only wrapped under a key-encryption key derived from
// the user's password-verification material, and unwrapped per request.
package vault

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/kenneth/envvault/internal/crypto"
	"github.com/kenneth/envvault/internal/domain"
)

var (
	// ErrStaleKey means the KEK did not open the wrap, typically because the
	// verification material changed without a rewrap.
	ErrStaleKey = errors.New("wrapped master key does not open with this key material")
	// ErrCorruptWrap means the stored wrap is not valid ciphertext.
	ErrCorruptWrap = errors.New("wrapped master key is corrupt")
)

// Error is returned by every failed vault operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "key vault: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// DataKey is an unwrapped master key. Callers hold it for one request only.
type DataKey []byte

// Zero overwrites the key in place.
func (k DataKey) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// Vault wraps and unwraps master data keys.
type Vault struct {
	deriver *crypto.Deriver
	cipher  *crypto.Cipher
	context string
	rand    io.Reader
}

// New creates a vault. context is the key-derivation context used for KEKs.
func New(deriver *crypto.Deriver, cipher *crypto.Cipher, context string) *Vault {
	return &Vault{
		deriver: deriver,
		cipher:  cipher,
		context: context,
		rand:    rand.Reader,
	}
}

// NewFromSuite creates a vault from the process crypto suite.
func NewFromSuite(s *crypto.Suite) *Vault {
	return New(s.Deriver, s.Cipher, s.KDFContext)
}

// Initialize generates a fresh 256-bit data key and returns it wrapped under
// the KEK derived from material. It is called once per user.
func (v *Vault) Initialize(material string) (string, error) {
	key := make(DataKey, crypto.KeySize)
	defer key.Zero()
	if _, err := io.ReadFull(v.rand, key); err != nil {
		return "", &Error{Op: "initialize", Err: fmt.Errorf("failed to generate data key: %w", err)}
	}

	wrap, err := v.wrap(material, key)
	if err != nil {
		return "", &Error{Op: "initialize", Err: err}
	}
	return wrap, nil
}

// Unwrap opens wrap with the KEK derived from material.
func (v *Vault) Unwrap(material, wrap string) (DataKey, error) {
	kek, err := v.deriver.Derive([]byte(material), v.context)
	if err != nil {
		return nil, &Error{Op: "unwrap", Err: err}
	}

	plain, err := v.cipher.Decrypt(crypto.PurposeKeyWrap, wrap, kek)
	if err != nil {
		if errors.Is(err, crypto.ErrMalformedInput) {
			return nil, &Error{Op: "unwrap", Err: fmt.Errorf("%w: %v", ErrCorruptWrap, err)}
		}
		return nil, &Error{Op: "unwrap", Err: fmt.Errorf("%w: %v", ErrStaleKey, err)}
	}

	// The wrapped plaintext is the hex rendering of the key. A wrong KEK that
	// happens to produce valid padding is caught here.
	if len(plain) != 2*crypto.KeySize {
		return nil, &Error{Op: "unwrap", Err: ErrStaleKey}
	}
	key := make(DataKey, crypto.KeySize)
	if _, err := hex.Decode(key, plain); err != nil {
		return nil, &Error{Op: "unwrap", Err: ErrStaleKey}
	}
	return key, nil
}

// UnwrapMasterKey opens the user's stored wrap with their current
// verification material.
func (v *Vault) UnwrapMasterKey(u *domain.User) (DataKey, error) {
	if u == nil || u.WrappedMasterKey == "" {
		return nil, &Error{Op: "unwrap", Err: ErrCorruptWrap}
	}
	return v.Unwrap(u.PasswordHash, u.WrappedMasterKey)
}

// Rewrap re-protects the same data key under the KEK derived from newMaterial.
func (v *Vault) Rewrap(oldMaterial, newMaterial, wrap string) (string, error) {
	key, err := v.Unwrap(oldMaterial, wrap)
	if err != nil {
		return "", &Error{Op: "rewrap", Err: err}
	}
	defer key.Zero()

	out, err := v.wrap(newMaterial, key)
	if err != nil {
		return "", &Error{Op: "rewrap", Err: err}
	}
	return out, nil
}

func (v *Vault) wrap(material string, key DataKey) (string, error) {
	kek, err := v.deriver.Derive([]byte(material), v.context)
	if err != nil {
		return "", err
	}
	return v.cipher.EncryptString(crypto.PurposeKeyWrap, hex.EncodeToString(key), kek)
}
