package apikey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/envvault/internal/domain"
	"github.com/kenneth/envvault/internal/store"
)

// DefaultMaxAttempts bounds identifier generation when a caller passes zero.
const DefaultMaxAttempts = 2

// Recorder receives credential metrics.
type Recorder interface {
	RecordCredentialIssuance(outcome string)
	RecordCredentialCollision()
	RecordCredentialResolution(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordCredentialIssuance(string)   {}
func (nopRecorder) RecordCredentialCollision()        {}
func (nopRecorder) RecordCredentialResolution(string) {}

// Issued is a freshly issued credential. Token is shown to the caller once
// and never stored.
type Issued struct {
	Credential domain.Credential
	Token      string
}

// Identity is the user a credential resolved to. The user carries the
// verification material and wrapped master key needed to unwrap secrets on
// their behalf.
type Identity struct {
	User         *domain.User
	CredentialID string
}

// MaskedCredential is the display form of a stored credential.
type MaskedCredential struct {
	ID        string    `json:"_id"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Issuer issues, resolves and revokes API credentials.
type Issuer struct {
	users       store.Users
	maxAttempts int
	newID       func() (uuid.UUID, error)
	now         func() time.Time
	recorder    Recorder
	logger      *logrus.Logger
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(i *Issuer) {
		if r != nil {
			i.recorder = r
		}
	}
}

// WithIDSource replaces the random identifier generator.
func WithIDSource(f func() (uuid.UUID, error)) Option {
	return func(i *Issuer) { i.newID = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer creates an issuer backed by users.
func NewIssuer(users store.Users, maxAttempts int, logger *logrus.Logger, opts ...Option) *Issuer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = logrus.New()
	}
	i := &Issuer{
		users:       users,
		maxAttempts: maxAttempts,
		newID:       uuid.NewRandom,
		now:         time.Now,
		recorder:    nopRecorder{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue generates a credential for userID and appends it to the user's set.
// A generated identifier already held by any user, or rejected by the store
// as a duplicate, is regenerated up to the attempt limit.
func (i *Issuer) Issue(ctx context.Context, userID string) (*Issued, error) {
	for attempt := 1; attempt <= i.maxAttempts; attempt++ {
		id, err := i.newID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate credential id: %w", err)
		}
		key := id.String()

		_, err = i.users.FindUser(ctx, store.UserFilter{CredentialKey: key})
		switch {
		case err == nil:
			i.collision(userID, attempt)
			continue
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("failed to check credential uniqueness: %w", err)
		}

		cred := domain.Credential{
			ID:        uuid.NewString(),
			Key:       key,
			CreatedAt: i.now().UTC(),
		}
		_, err = i.users.PersistUser(ctx, userID, store.UserPatch{AddCredential: &cred})
		switch {
		case errors.Is(err, store.ErrConflict):
			i.collision(userID, attempt)
			continue
		case errors.Is(err, store.ErrNotFound):
			return nil, domain.NotFound("user", "user not found")
		case err != nil:
			return nil, fmt.Errorf("failed to store credential: %w", err)
		}

		i.recorder.RecordCredentialIssuance("issued")
		i.logger.WithFields(logrus.Fields{
			"user_id":       userID,
			"credential_id": cred.ID,
			"attempt":       attempt,
		}).Info("Issued API credential")
		return &Issued{Credential: cred, Token: Encode(id)}, nil
	}

	i.recorder.RecordCredentialIssuance("exhausted")
	return nil, domain.RetryableIssuance(i.maxAttempts)
}

func (i *Issuer) collision(userID string, attempt int) {
	i.recorder.RecordCredentialCollision()
	i.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"attempt": attempt,
	}).Warn("Generated credential id already taken, regenerating")
}

// Redeem checks the token's structure and returns the internal identifier.
// It never touches the store.
func (i *Issuer) Redeem(token string) (string, error) {
	id, err := Decode(token)
	if err != nil {
		return "", domain.InvalidToken("api_key", err)
	}
	return id.String(), nil
}

// Resolve finds the single user holding the credential key.
func (i *Issuer) Resolve(ctx context.Context, key string) (*Identity, error) {
	u, err := i.users.FindUser(ctx, store.UserFilter{CredentialKey: key})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound("api_key", "no user holds this API key")
		}
		return nil, fmt.Errorf("failed to resolve credential: %w", err)
	}

	ident := &Identity{User: u}
	for _, c := range u.Credentials {
		if c.Key == key {
			ident.CredentialID = c.ID
			break
		}
	}
	return ident, nil
}

// Authenticate redeems token and resolves it to its owner.
func (i *Issuer) Authenticate(ctx context.Context, token string) (*Identity, error) {
	key, err := i.Redeem(token)
	if err != nil {
		i.recorder.RecordCredentialResolution("invalid")
		return nil, err
	}
	ident, err := i.Resolve(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			i.recorder.RecordCredentialResolution("unknown")
		}
		return nil, err
	}
	i.recorder.RecordCredentialResolution("resolved")
	return ident, nil
}

// Revoke removes one credential from the user's set. id is the credential's
// record id; the internal key is accepted as well.
func (i *Issuer) Revoke(ctx context.Context, userID, id string) error {
	if id == "" {
		return domain.Validation("key_id", "key_id is required")
	}

	u, err := i.users.FindUser(ctx, store.UserFilter{ID: userID})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound("user", "user not found")
		}
		return fmt.Errorf("failed to load user: %w", err)
	}

	kept := make([]domain.Credential, 0, len(u.Credentials))
	for _, c := range u.Credentials {
		if c.ID != id && c.Key != id {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(u.Credentials) {
		return domain.NotFound("key_id", "API key not found")
	}

	if _, err := i.users.PersistUser(ctx, userID, store.UserPatch{Credentials: &kept}); err != nil {
		return fmt.Errorf("failed to revoke credential: %w", err)
	}
	i.logger.WithFields(logrus.Fields{
		"user_id":       userID,
		"credential_id": id,
	}).Info("Revoked API credential")
	return nil
}

// List renders the user's credentials for display with their tokens masked.
func List(u *domain.User) []MaskedCredential {
	out := make([]MaskedCredential, 0, len(u.Credentials))
	for _, c := range u.Credentials {
		display := c.Key
		if id, err := uuid.Parse(c.Key); err == nil {
			display = Encode(id)
		}
		out = append(out, MaskedCredential{
			ID:        c.ID,
			Key:       Mask(display),
			CreatedAt: c.CreatedAt,
		})
	}
	return out
}
