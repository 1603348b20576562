// Package secrets implements environments and the secret mutation protocol:
// add, rename-or-update and delete of named secrets, ownership checks, and the
// redacted or decrypted views returned to callers.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kenneth/envvault/internal/crypto"
	"github.com/kenneth/envvault/internal/domain"
	"github.com/kenneth/envvault/internal/store"
	"github.com/kenneth/envvault/internal/vault"
)

// MinValueLength is the shortest accepted secret value.
const MinValueLength = 2

// Recorder receives secret metrics.
type Recorder interface {
	RecordSecretMutation(operation, outcome string)
	RecordSecretReveal(source string, count int)
}

type nopRecorder struct{}

func (nopRecorder) RecordSecretMutation(string, string) {}
func (nopRecorder) RecordSecretReveal(string, int)      {}

// Service owns environments and their secrets.
type Service struct {
	envs     store.Environments
	vault    *vault.Vault
	cipher   *crypto.Cipher
	logger   *logrus.Logger
	recorder Recorder
	tracer   trace.Tracer
	newID    func() string
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithIDGenerator replaces the secret and environment id generator.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the secret service.
func NewService(envs store.Environments, v *vault.Vault, c *crypto.Cipher, logger *logrus.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Service{
		envs:     envs,
		vault:    v,
		cipher:   c,
		logger:   logger,
		recorder: nopRecorder{},
		tracer:   otel.Tracer("envvault/secrets"),
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// startSpan opens a service span. The returned finish records err on the span.
func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcomeOf(err))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// ownedEnvironment loads envID and checks that caller is its author. An
// unknown id is a NotFound error; someone else's environment is an
// Authorization error.
func (s *Service) ownedEnvironment(ctx context.Context, caller *domain.User, envID string) (*domain.Environment, error) {
	if caller == nil {
		return nil, domain.Unauthenticated("authentication required")
	}
	if envID == "" {
		return nil, domain.Validation("env_id", "env_id is required")
	}

	env, err := s.envs.FindEnvironment(ctx, store.EnvironmentFilter{ID: envID})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound("env_id", "environment not found")
		}
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	if env.Author != caller.ID {
		s.logger.WithFields(logrus.Fields{
			"env_id":  envID,
			"user_id": caller.ID,
		}).Warn("Environment access denied: caller is not the author")
		return nil, domain.Authorization("env_id", "you are not the author of this environment")
	}
	return env, nil
}

// outcomeOf maps an error to a metric label.
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return "invalid"
	case domain.KindDuplicateKey:
		return "duplicate"
	case domain.KindNotFound:
		return "not_found"
	case domain.KindAuthorization:
		return "forbidden"
	}
	var ce *crypto.Error
	var ve *vault.Error
	if errors.As(err, &ve) || errors.As(err, &ce) {
		return "crypto_error"
	}
	return "error"
}

// persistSecrets writes the complete secret list in one update.
func (s *Service) persistSecrets(ctx context.Context, envID string, list []domain.Secret) (*domain.Environment, error) {
	updated, err := s.envs.PersistEnvironment(ctx, envID, store.EnvironmentPatch{Secrets: &list})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound("env_id", "environment not found")
		}
		return nil, fmt.Errorf("failed to persist environment: %w", err)
	}
	return updated, nil
}

// encryptValue unwraps the owner's master key and encrypts value under it.
func (s *Service) encryptValue(owner *domain.User, value string) (string, error) {
	key, err := s.vault.UnwrapMasterKey(owner)
	if err != nil {
		return "", err
	}
	defer key.Zero()

	ct, err := s.cipher.EncryptString(crypto.PurposeSecretValue, value, key)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt secret value: %w", err)
	}
	return ct, nil
}
