package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kenneth/envvault/internal/crypto"
	"github.com/kenneth/envvault/internal/domain"
	"github.com/kenneth/envvault/internal/store"
)

// Reveal sources used in metrics.
const (
	SourceSession = "session"
	SourceAPIKey  = "api_key"
)

// EnvironmentUpdate changes an environment's metadata. Nil fields are kept.
type EnvironmentUpdate struct {
	ID    string
	Title *string
	Team  *[]string
}

// CreateEnvironment creates an empty environment owned by caller. Titles are
// unique per author.
func (s *Service) CreateEnvironment(ctx context.Context, caller *domain.User, title string, team []string) (env *domain.Environment, err error) {
	ctx, finish := s.startSpan(ctx, "secrets.CreateEnvironment")
	defer func() { finish(err) }()

	if caller == nil {
		return nil, domain.Unauthenticated("authentication required")
	}
	env, err = domain.NewEnvironment(s.newID(), title, caller.ID, team, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if err := s.ensureTitleFree(ctx, caller.ID, env.Title, ""); err != nil {
		return nil, err
	}
	if err := s.envs.CreateEnvironment(ctx, env); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domain.DuplicateKey("title", "environment %s already exists", env.Title)
		}
		return nil, fmt.Errorf("failed to create environment: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"env_id":  env.ID,
		"user_id": caller.ID,
	}).Info("Environment created")
	return env, nil
}

func (s *Service) ensureTitleFree(ctx context.Context, author, title, exceptID string) error {
	existing, err := s.envs.FindEnvironment(ctx, store.EnvironmentFilter{Author: author, Title: title})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("failed to check environment title: %w", err)
	case existing.ID == exceptID:
		return nil
	}
	return domain.DuplicateKey("title", "environment %s already exists", title)
}

// UpdateEnvironment renames an environment or replaces its team. Team members
// are recorded only; they gain no access to secret values.
func (s *Service) UpdateEnvironment(ctx context.Context, caller *domain.User, in EnvironmentUpdate) (env *domain.Environment, err error) {
	ctx, finish := s.startSpan(ctx, "secrets.UpdateEnvironment", attribute.String("env.id", in.ID))
	defer func() { finish(err) }()

	env, err = s.ownedEnvironment(ctx, caller, in.ID)
	if err != nil {
		return nil, err
	}

	patch := store.EnvironmentPatch{Team: in.Team}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if len(title) < domain.MinTitleLength {
			return nil, domain.Validation("title", "title must be at least %d characters", domain.MinTitleLength)
		}
		if title != env.Title {
			if err := s.ensureTitleFree(ctx, caller.ID, title, env.ID); err != nil {
				return nil, err
			}
		}
		patch.Title = &title
	}

	env, err = s.envs.PersistEnvironment(ctx, env.ID, patch)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return nil, domain.DuplicateKey("title", "environment title already exists")
		case errors.Is(err, store.ErrNotFound):
			return nil, domain.NotFound("env_id", "environment not found")
		}
		return nil, fmt.Errorf("failed to update environment: %w", err)
	}
	return env, nil
}

// ListEnvironments returns the environments caller authored. Values are
// ciphertext.
func (s *Service) ListEnvironments(ctx context.Context, caller *domain.User) ([]*domain.Environment, error) {
	if caller == nil {
		return nil, domain.Unauthenticated("authentication required")
	}
	envs, err := s.envs.ListEnvironments(ctx, store.EnvironmentFilter{Author: caller.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	return envs, nil
}

// GetEnvironment returns one of caller's environments, decrypting every value
// when reveal is set.
func (s *Service) GetEnvironment(ctx context.Context, caller *domain.User, envID string, reveal bool) (env *domain.Environment, err error) {
	ctx, finish := s.startSpan(ctx, "secrets.GetEnvironment",
		attribute.String("env.id", envID),
		attribute.Bool("reveal", reveal),
	)
	defer func() { finish(err) }()

	env, err = s.ownedEnvironment(ctx, caller, envID)
	if err != nil {
		return nil, err
	}
	if !reveal {
		return env, nil
	}
	return s.Reveal(ctx, caller, env, SourceSession)
}

// FetchByTitle returns owner's environment titled title. It serves machine
// clients that resolved owner from an API credential.
func (s *Service) FetchByTitle(ctx context.Context, owner *domain.User, title string, reveal bool) (env *domain.Environment, err error) {
	ctx, finish := s.startSpan(ctx, "secrets.FetchByTitle", attribute.Bool("reveal", reveal))
	defer func() { finish(err) }()

	if owner == nil {
		return nil, domain.Unauthenticated("authentication required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domain.Validation("env_name", "env_name is required")
	}

	env, err = s.envs.FindEnvironment(ctx, store.EnvironmentFilter{Author: owner.ID, Title: title})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound("env_name", "environment %s not found", title)
		}
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	if !reveal {
		return env, nil
	}
	return s.Reveal(ctx, owner, env, SourceAPIKey)
}

// Reveal returns a copy of env with every value decrypted. The owner's master
// key is unwrapped once and used for the whole batch; any failure discards the
// partial result.
func (s *Service) Reveal(ctx context.Context, owner *domain.User, env *domain.Environment, source string) (*domain.Environment, error) {
	out := env.Clone()
	if len(out.Secrets) == 0 {
		return out, nil
	}

	key, err := s.vault.UnwrapMasterKey(owner)
	if err != nil {
		s.logger.WithError(err).WithField("env_id", env.ID).Error("Failed to unwrap master key")
		return nil, err
	}
	defer key.Zero()

	for i := range out.Secrets {
		plain, err := s.cipher.DecryptString(crypto.PurposeSecretValue, out.Secrets[i].Value, key)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"env_id": env.ID,
				"key_id": out.Secrets[i].ID,
			}).Error("Failed to decrypt secret value")
			return nil, fmt.Errorf("failed to decrypt %s: %w", out.Secrets[i].KeyName, err)
		}
		out.Secrets[i].Value = plain
	}

	s.recorder.RecordSecretReveal(source, len(out.Secrets))
	return out, nil
}

// DeleteEnvironment removes one of caller's environments.
func (s *Service) DeleteEnvironment(ctx context.Context, caller *domain.User, envID string) (err error) {
	ctx, finish := s.startSpan(ctx, "secrets.DeleteEnvironment", attribute.String("env.id", envID))
	defer func() { finish(err) }()

	env, err := s.ownedEnvironment(ctx, caller, envID)
	if err != nil {
		return err
	}
	if err := s.envs.DeleteEnvironment(ctx, env.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound("env_id", "environment not found")
		}
		return fmt.Errorf("failed to delete environment: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"env_id":  env.ID,
		"user_id": caller.ID,
	}).Info("Environment deleted")
	return nil
}

// DeleteAuthoredBy removes every environment authored by userID. It is the
// account deletion hook.
func (s *Service) DeleteAuthoredBy(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, domain.Validation("user", "user id is required")
	}
	n, err := s.envs.DeleteEnvironments(ctx, store.EnvironmentFilter{Author: userID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete environments: %w", err)
	}
	return n, nil
}
