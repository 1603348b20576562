package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex HMAC-SHA256 of message under key.
func Sign(key []byte, message string) (string, error) {
	if len(key) == 0 {
		return "", &Error{Op: "sign", Err: ErrEmptyKeyMaterial}
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks tag against message in constant time.
func Verify(key []byte, message, tag string) error {
	if len(key) == 0 {
		return &Error{Op: "verify", Err: ErrEmptyKeyMaterial}
	}
	got, err := hex.DecodeString(tag)
	if err != nil || len(got) != sha256.Size {
		return &Error{Op: "verify", Err: ErrBadMAC}
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return &Error{Op: "verify", Err: ErrBadMAC}
	}
	return nil
}
