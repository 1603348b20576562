package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// Purpose selects the IV used for a message in fixed IV mode.
type Purpose string

const (
	PurposeKeyWrap          Purpose = "key-wrap"
	PurposeSecretValue      Purpose = "secret-value"
	PurposeRegistrationLink Purpose = "registration-link"
)

// IVMode is the per-deployment IV policy.
type IVMode string

const (
	// IVModeFixed uses one IV per purpose. Output is byte-compatible with
	// existing data, but equal plaintexts under one key encrypt identically.
	IVModeFixed IVMode = "fixed"
	// IVModeRandom draws a fresh IV per message and prepends it to the
	// ciphertext before hex encoding.
	IVModeRandom IVMode = "random"
)

// Recorder receives per-operation measurements. metrics.Metrics satisfies it.
type Recorder interface {
	RecordCryptoOperation(operation, purpose string, duration time.Duration, bytes int)
	RecordCryptoError(operation, purpose, errorType string)
}

// CipherOptions configures a Cipher. It is read once at construction.
type CipherOptions struct {
	Mode IVMode
	// IVs holds the fixed IV for each purpose. Required in fixed mode.
	IVs map[Purpose][]byte
	// Rand defaults to crypto/rand.Reader.
	Rand     io.Reader
	Recorder Recorder
}

// Cipher is AES-256-CBC with PKCS#7 padding and a hex wire format.
// It is immutable after construction and safe for concurrent use.
type Cipher struct {
	mode     IVMode
	ivs      map[Purpose][]byte
	rand     io.Reader
	recorder Recorder
}

// NewCipher validates opts and builds a Cipher.
func NewCipher(opts CipherOptions) (*Cipher, error) {
	c := &Cipher{
		mode:     opts.Mode,
		ivs:      make(map[Purpose][]byte, len(opts.IVs)),
		rand:     opts.Rand,
		recorder: opts.Recorder,
	}
	if c.rand == nil {
		c.rand = rand.Reader
	}

	switch opts.Mode {
	case IVModeFixed:
		for _, p := range []Purpose{PurposeKeyWrap, PurposeSecretValue, PurposeRegistrationLink} {
			iv, ok := opts.IVs[p]
			if !ok {
				return nil, &Error{Op: "configure", Purpose: p, Err: fmt.Errorf("%w: missing", ErrInvalidIV)}
			}
			if len(iv) != IVSize {
				return nil, &Error{Op: "configure", Purpose: p, Err: fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidIV, IVSize, len(iv))}
			}
			c.ivs[p] = append([]byte(nil), iv...)
		}
	case IVModeRandom:
	default:
		return nil, &Error{Op: "configure", Err: fmt.Errorf("%w: %q", ErrUnsupportedIVMode, opts.Mode)}
	}

	return c, nil
}

// Mode returns the active IV policy.
func (c *Cipher) Mode() IVMode {
	return c.mode
}

// Encrypt encrypts plaintext under key and returns hex ciphertext.
func (c *Cipher) Encrypt(purpose Purpose, plaintext, key []byte) (string, error) {
	start := time.Now()
	out, err := c.encrypt(purpose, plaintext, key)
	c.observe("encrypt", purpose, start, len(plaintext), err)
	return out, err
}

// Decrypt reverses Encrypt. Any failure is an *Error and no plaintext is returned.
func (c *Cipher) Decrypt(purpose Purpose, ciphertextHex string, key []byte) ([]byte, error) {
	start := time.Now()
	out, err := c.decrypt(purpose, ciphertextHex, key)
	c.observe("decrypt", purpose, start, len(out), err)
	return out, err
}

// EncryptString is Encrypt for string plaintexts.
func (c *Cipher) EncryptString(purpose Purpose, plaintext string, key []byte) (string, error) {
	return c.Encrypt(purpose, []byte(plaintext), key)
}

// DecryptString is Decrypt returning a string.
func (c *Cipher) DecryptString(purpose Purpose, ciphertextHex string, key []byte) (string, error) {
	b, err := c.Decrypt(purpose, ciphertextHex, key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *Cipher) encrypt(purpose Purpose, plaintext, key []byte) (string, error) {
	block, err := newBlock(key)
	if err != nil {
		return "", &Error{Op: "encrypt", Purpose: purpose, Err: err}
	}

	padded := pad(plaintext, aes.BlockSize)

	var iv []byte
	var out []byte
	switch c.mode {
	case IVModeFixed:
		fixed, ok := c.ivs[purpose]
		if !ok {
			return "", &Error{Op: "encrypt", Purpose: purpose, Err: ErrUnknownPurpose}
		}
		iv = fixed
		out = make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	case IVModeRandom:
		out = make([]byte, IVSize+len(padded))
		iv = out[:IVSize]
		if _, err := io.ReadFull(c.rand, iv); err != nil {
			return "", &Error{Op: "encrypt", Purpose: purpose, Err: fmt.Errorf("failed to generate iv: %w", err)}
		}
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[IVSize:], padded)
	default:
		return "", &Error{Op: "encrypt", Purpose: purpose, Err: ErrUnsupportedIVMode}
	}

	return hex.EncodeToString(out), nil
}

func (c *Cipher) decrypt(purpose Purpose, ciphertextHex string, key []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, &Error{Op: "decrypt", Purpose: purpose, Err: err}
	}

	raw, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return nil, &Error{Op: "decrypt", Purpose: purpose, Err: fmt.Errorf("%w: %v", ErrMalformedInput, err)}
	}

	var iv, body []byte
	switch c.mode {
	case IVModeFixed:
		fixed, ok := c.ivs[purpose]
		if !ok {
			return nil, &Error{Op: "decrypt", Purpose: purpose, Err: ErrUnknownPurpose}
		}
		iv, body = fixed, raw
	case IVModeRandom:
		if len(raw) < IVSize {
			return nil, &Error{Op: "decrypt", Purpose: purpose, Err: fmt.Errorf("%w: missing iv", ErrMalformedInput)}
		}
		iv, body = raw[:IVSize], raw[IVSize:]
	default:
		return nil, &Error{Op: "decrypt", Purpose: purpose, Err: ErrUnsupportedIVMode}
	}

	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return nil, &Error{Op: "decrypt", Purpose: purpose, Err: fmt.Errorf("%w: length %d is not a positive multiple of %d", ErrMalformedInput, len(body), aes.BlockSize)}
	}

	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, body)

	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return nil, &Error{Op: "decrypt", Purpose: purpose, Err: err}
	}
	return plain, nil
}

func (c *Cipher) observe(op string, purpose Purpose, start time.Time, n int, err error) {
	if c.recorder == nil {
		return
	}
	if err != nil {
		c.recorder.RecordCryptoError(op, string(purpose), errorType(err))
		return
	}
	c.recorder.RecordCryptoOperation(op, string(purpose), time.Since(start), n)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrBadPadding):
		return "bad_padding"
	case errors.Is(err, ErrMalformedInput):
		return "malformed"
	case errors.Is(err, ErrInvalidKeySize):
		return "key_size"
	default:
		return "other"
	}
}

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKeySize, KeySize, len(key))
	}
	return aes.NewCipher(key)
}

func pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, ErrBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, ErrBadPadding
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, ErrBadPadding
		}
	}
	return b[:len(b)-n], nil
}
