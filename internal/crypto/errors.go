package crypto

import "errors"

var (
	ErrEmptyKeyMaterial  = errors.New("empty key material")
	ErrInvalidKeySize    = errors.New("invalid key size")
	ErrInvalidIV         = errors.New("invalid initialization vector")
	ErrMalformedInput    = errors.New("malformed ciphertext")
	ErrBadPadding        = errors.New("bad padding")
	ErrUnknownPurpose    = errors.New("unknown purpose")
	ErrUnsupportedIVMode = errors.New("unsupported iv mode")
	ErrBadMAC            = errors.New("message authentication failed")
)

// Error is returned for every failed derivation, encryption or decryption.
// It is never retried: a wrong key and a tampered ciphertext look the same.
type Error struct {
	Op      string
	Purpose Purpose
	Err     error
}

func (e *Error) Error() string {
	if e.Purpose != "" {
		return "crypto: " + e.Op + " (" + string(e.Purpose) + "): " + e.Err.Error()
	}
	return "crypto: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCryptoError reports whether err came from this package.
func IsCryptoError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}
