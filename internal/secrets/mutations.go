package secrets

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kenneth/envvault/internal/domain"
)

// AddInput names a secret to append to an environment.
type AddInput struct {
	EnvID   string
	KeyName string
	Value   string
}

// UpdateInput renames and/or re-values the secret KeyID.
type UpdateInput struct {
	EnvID   string
	KeyID   string
	KeyName string
	Value   string
}

// DeleteInput removes the secret KeyID.
type DeleteInput struct {
	EnvID string
	KeyID string
}

func validateValue(value string) error {
	if len(value) < MinValueLength {
		return domain.Validation("value", "value must be at least %d characters", MinValueLength)
	}
	return nil
}

// AddSecret appends a new secret. The name is normalized first and must not
// already exist in the environment.
func (s *Service) AddSecret(ctx context.Context, caller *domain.User, in AddInput) (env *domain.Environment, err error) {
	ctx, finish := s.startSpan(ctx, "secrets.Add", attribute.String("env.id", in.EnvID))
	defer func() {
		s.recorder.RecordSecretMutation("add", outcomeOf(err))
		finish(err)
	}()

	name, err := domain.ValidateKeyName(in.KeyName)
	if err != nil {
		return nil, err
	}
	if err := validateValue(in.Value); err != nil {
		return nil, err
	}

	env, err = s.ownedEnvironment(ctx, caller, in.EnvID)
	if err != nil {
		return nil, err
	}
	if env.SecretIndexByName(name) >= 0 {
		return nil, domain.DuplicateKey("key_name", "key %s already exists in this environment", name)
	}

	ct, err := s.encryptValue(caller, in.Value)
	if err != nil {
		return nil, err
	}

	list := append(env.Secrets, domain.Secret{
		ID:      s.newID(),
		KeyName: name,
		Value:   ct,
	})
	env, err = s.persistSecrets(ctx, env.ID, list)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"env_id":   env.ID,
		"key_name": name,
	}).Debug("Secret added")
	return env, nil
}

// UpdateSecret applies a rename and/or value update. The secret is located by
// normalized name first and by id second:
//
//	name match, same id      -> overwrite in place
//	name match, other id     -> DuplicateKey
//	no name match, id match  -> rename and overwrite that secret
//	neither                  -> NotFound
func (s *Service) UpdateSecret(ctx context.Context, caller *domain.User, in UpdateInput) (env *domain.Environment, err error) {
	ctx, finish := s.startSpan(ctx, "secrets.Update",
		attribute.String("env.id", in.EnvID),
		attribute.String("secret.id", in.KeyID),
	)
	defer func() {
		s.recorder.RecordSecretMutation("update", outcomeOf(err))
		finish(err)
	}()

	if in.KeyID == "" {
		return nil, domain.Validation("key_id", "key_id is required")
	}
	name, err := domain.ValidateKeyName(in.KeyName)
	if err != nil {
		return nil, err
	}
	if err := validateValue(in.Value); err != nil {
		return nil, err
	}

	env, err = s.ownedEnvironment(ctx, caller, in.EnvID)
	if err != nil {
		return nil, err
	}

	idx := env.SecretIndexByName(name)
	switch {
	case idx >= 0 && env.Secrets[idx].ID != in.KeyID:
		return nil, domain.DuplicateKey("key_name", "key %s already exists in this environment", name)
	case idx < 0:
		idx = env.SecretIndexByID(in.KeyID)
		if idx < 0 {
			return nil, domain.NotFound("key_id", "key not found in this environment")
		}
	}

	ct, err := s.encryptValue(caller, in.Value)
	if err != nil {
		return nil, err
	}

	list := append([]domain.Secret(nil), env.Secrets...)
	list[idx].KeyName = name
	list[idx].Value = ct
	env, err = s.persistSecrets(ctx, env.ID, list)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"env_id":   env.ID,
		"key_id":   in.KeyID,
		"key_name": name,
	}).Debug("Secret updated")
	return env, nil
}

// DeleteSecret removes one secret by id.
func (s *Service) DeleteSecret(ctx context.Context, caller *domain.User, in DeleteInput) (env *domain.Environment, err error) {
	ctx, finish := s.startSpan(ctx, "secrets.Delete",
		attribute.String("env.id", in.EnvID),
		attribute.String("secret.id", in.KeyID),
	)
	defer func() {
		s.recorder.RecordSecretMutation("delete", outcomeOf(err))
		finish(err)
	}()

	if in.KeyID == "" {
		return nil, domain.Validation("key_id", "key_id is required")
	}

	env, err = s.ownedEnvironment(ctx, caller, in.EnvID)
	if err != nil {
		return nil, err
	}

	idx := env.SecretIndexByID(in.KeyID)
	if idx < 0 {
		return nil, domain.NotFound("key_id", "key not found in this environment")
	}

	list := make([]domain.Secret, 0, len(env.Secrets)-1)
	list = append(list, env.Secrets[:idx]...)
	list = append(list, env.Secrets[idx+1:]...)
	env, err = s.persistSecrets(ctx, env.ID, list)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"env_id": env.ID,
		"key_id": in.KeyID,
	}).Debug("Secret deleted")
	return env, nil
}
