package users

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/envvault/internal/apikey"
	"github.com/kenneth/envvault/internal/domain"
	"github.com/kenneth/envvault/internal/store"
)

// Profile is the caller-facing view of a user.
type Profile struct {
	ID          string                    `json:"_id"`
	Username    string                    `json:"username"`
	Email       string                    `json:"email"`
	Avatar      string                    `json:"avatar"`
	Token       string                    `json:"token,omitempty"`
	Credentials []apikey.MaskedCredential `json:"tokens"`
	CreatedAt   time.Time                 `json:"created_at"`
}

// Gravatar returns the default avatar URL for email.
func Gravatar(email string) string {
	sum := md5.Sum([]byte(email))
	return "https://www.gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + "?d=robohash"
}

// NewProfile renders u for display. Credentials are masked.
func NewProfile(u *domain.User, token string) *Profile {
	avatar := u.Avatar
	if avatar == "" {
		avatar = Gravatar(u.Email)
	}
	return &Profile{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Avatar:      avatar,
		Token:       token,
		Credentials: apikey.List(u),
		CreatedAt:   u.CreatedAt,
	}
}

// ProfileUpdate lists the fields to change. Nil fields are kept.
type ProfileUpdate struct {
	Username *string
	Email    *string
	Avatar   *string
	Password *string
}

// UpdateProfile applies changes to caller's account. A new password is
// hashed and the master key is rewrapped under it in the same write, so
// existing secrets stay readable.
func (s *Service) UpdateProfile(ctx context.Context, caller *domain.User, in ProfileUpdate) (*domain.User, error) {
	if caller == nil {
		return nil, domain.Unauthenticated("authentication required")
	}

	var patch store.UserPatch

	if in.Username != nil {
		username := strings.TrimSpace(*in.Username)
		if err := validateUsername(username); err != nil {
			return nil, err
		}
		if taken, err := s.taken(ctx, store.UserFilter{Username: username}, caller.ID); err != nil {
			return nil, err
		} else if taken {
			return nil, domain.DuplicateKey("username", "username already exists")
		}
		patch.Username = &username
	}

	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		if taken, err := s.taken(ctx, store.UserFilter{Email: email}, caller.ID); err != nil {
			return nil, err
		} else if taken {
			return nil, domain.DuplicateKey("email", "email already exists")
		}
		patch.Email = &email
	}

	if in.Avatar != nil {
		avatar := strings.TrimSpace(*in.Avatar)
		patch.Avatar = &avatar
	}

	if in.Password != nil {
		if err := validatePassword(*in.Password); err != nil {
			return nil, err
		}
		hash, err := s.hashPassword(*in.Password)
		if err != nil {
			return nil, err
		}
		wrap, err := s.vault.Rewrap(caller.PasswordHash, hash, caller.WrappedMasterKey)
		if err != nil {
			s.logger.WithError(err).WithField("user_id", caller.ID).Error("Failed to rewrap master key")
			return nil, err
		}
		patch.PasswordHash = &hash
		patch.WrappedMasterKey = &wrap
	}

	updated, err := s.users.PersistUser(ctx, caller.ID, patch)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return nil, domain.DuplicateKey("username", "username or email already exists")
		case errors.Is(err, store.ErrNotFound):
			return nil, domain.Unauthenticated("user no longer exists")
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":          caller.ID,
		"password_changed": in.Password != nil,
	}).Info("User updated")
	return updated, nil
}

// Delete removes caller's environments and then the account itself.
func (s *Service) Delete(ctx context.Context, caller *domain.User) error {
	if caller == nil {
		return domain.Unauthenticated("authentication required")
	}

	n, err := s.envs.DeleteAuthoredBy(ctx, caller.ID)
	if err != nil {
		return err
	}
	if err := s.users.DeleteUser(ctx, caller.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":      caller.ID,
		"environments": n,
	}).Info("User deleted")
	return nil
}
