package users

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kenneth/envvault/internal/crypto"
	"github.com/kenneth/envvault/internal/domain"
)

// linkPayload is sealed into a registration confirmation link. It carries the
// password hash, never the password.
type linkPayload struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	ExpiresAt    int64  `json:"expires_at"`
}

// sealLink encrypts p and appends an HMAC-SHA256 of the ciphertext. The link
// is the ciphertext hex and the tag hex joined by a dot.
func (s *Service) sealLink(p linkPayload) (string, error) {
	if len(s.linkKey) == 0 || len(s.linkMAC) == 0 {
		return "", errors.New("registration links require a link secret")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode registration link: %w", err)
	}
	sealed, err := s.cipher.Encrypt(crypto.PurposeRegistrationLink, raw, s.linkKey)
	if err != nil {
		return "", fmt.Errorf("failed to seal registration link: %w", err)
	}
	tag, err := crypto.Sign(s.linkMAC, sealed)
	if err != nil {
		return "", fmt.Errorf("failed to sign registration link: %w", err)
	}
	return sealed + "." + tag, nil
}

// openLink authenticates, unseals and checks a link. The tag is verified
// before anything is decrypted. Any tampering is reported as a bad link; an
// intact but stale link is reported as expired.
func (s *Service) openLink(link string) (*linkPayload, error) {
	if len(s.linkKey) == 0 || len(s.linkMAC) == 0 {
		return nil, domain.BadRequest("link", "bad confirmation link")
	}
	sealed, tag, ok := strings.Cut(link, ".")
	if !ok || crypto.Verify(s.linkMAC, sealed, tag) != nil {
		return nil, domain.BadRequest("link", "bad confirmation link")
	}
	raw, err := s.cipher.Decrypt(crypto.PurposeRegistrationLink, sealed, s.linkKey)
	if err != nil {
		return nil, domain.BadRequest("link", "bad confirmation link")
	}

	var p linkPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Email == "" || p.PasswordHash == "" {
		return nil, domain.BadRequest("link", "bad confirmation link")
	}
	if !s.now().Before(time.Unix(p.ExpiresAt, 0)) {
		return nil, domain.Expired("link", "confirmation link expired")
	}
	return &p, nil
}
