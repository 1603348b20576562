// Package apikey issues and redeems API credentials. A credential's internal
// identifier is a UUID; the public token is that UUID rendered as four
// dash-separated Crockford base32 groups, one per 32-bit word:
//
//	XXXXXXX-XXXXXXX-XXXXXXX-XXXXXXX
package apikey

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	alphabet    = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	groupLen    = 7
	groupCount  = 4
	tokenLen    = groupCount*groupLen + groupCount - 1
	rawTokenLen = groupCount * groupLen
)

var (
	ErrTokenLength   = errors.New("token has wrong length")
	ErrTokenFormat   = errors.New("token groups are not dash separated")
	ErrTokenAlphabet = errors.New("token contains invalid characters")
	ErrTokenRange    = errors.New("token group out of range")
)

var decodeTable = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		t[alphabet[i]] = int8(i)
	}
	return t
}()

// Encode renders id as a public token.
func Encode(id uuid.UUID) string {
	var b strings.Builder
	b.Grow(tokenLen)
	for g := 0; g < groupCount; g++ {
		if g > 0 {
			b.WriteByte('-')
		}
		word := uint64(id[4*g])<<24 | uint64(id[4*g+1])<<16 | uint64(id[4*g+2])<<8 | uint64(id[4*g+3])
		var group [groupLen]byte
		for i := groupLen - 1; i >= 0; i-- {
			group[i] = alphabet[word&0x1f]
			word >>= 5
		}
		b.Write(group[:])
	}
	return b.String()
}

// Decode parses a public token back into its UUID. Input is case-insensitive
// and may omit the dashes. Only the token's structure is checked.
func Decode(token string) (uuid.UUID, error) {
	var id uuid.UUID

	raw, err := canonical(token)
	if err != nil {
		return id, err
	}

	for g := 0; g < groupCount; g++ {
		var word uint64
		for _, c := range []byte(raw[g*groupLen : (g+1)*groupLen]) {
			v := decodeTable[c]
			if v < 0 {
				return uuid.UUID{}, fmt.Errorf("%w: %q", ErrTokenAlphabet, c)
			}
			word = word<<5 | uint64(v)
		}
		if word > 0xffffffff {
			return uuid.UUID{}, ErrTokenRange
		}
		id[4*g] = byte(word >> 24)
		id[4*g+1] = byte(word >> 16)
		id[4*g+2] = byte(word >> 8)
		id[4*g+3] = byte(word)
	}
	return id, nil
}

// Valid reports whether token is structurally well formed.
func Valid(token string) bool {
	_, err := Decode(token)
	return err == nil
}

// canonical upper-cases token and strips the dashes after checking they sit
// between groups.
func canonical(token string) (string, error) {
	token = strings.ToUpper(strings.TrimSpace(token))
	switch len(token) {
	case tokenLen:
		for g := 1; g < groupCount; g++ {
			if token[g*(groupLen+1)-1] != '-' {
				return "", ErrTokenFormat
			}
		}
		raw := strings.ReplaceAll(token, "-", "")
		if len(raw) != rawTokenLen {
			return "", ErrTokenFormat
		}
		return raw, nil
	case rawTokenLen:
		if strings.Contains(token, "-") {
			return "", ErrTokenFormat
		}
		return token, nil
	default:
		return "", fmt.Errorf("%w: %d", ErrTokenLength, len(token))
	}
}

// Mask hides every group except the first and last with X characters of the
// same length. It is for display only.
func Mask(token string) string {
	groups := strings.Split(token, "-")
	if len(groups) < 3 {
		return token
	}
	for i := 1; i < len(groups)-1; i++ {
		groups[i] = strings.Repeat("X", len(groups[i]))
	}
	return strings.Join(groups, "-")
}
