// Package store defines the document store the vault services persist users
// and environments through, and an in-memory implementation of it.
package store

import (
	"context"
	"errors"

	"github.com/kenneth/envvault/internal/domain"
)

var (
	// ErrNotFound is returned when no document matches a filter or id.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write would violate a unique index.
	ErrConflict = errors.New("store: unique constraint violated")
	// ErrEmptyFilter is returned when a lookup filter has no fields set.
	ErrEmptyFilter = errors.New("store: empty filter")
)

// UserFilter selects users. Set fields are combined with AND.
type UserFilter struct {
	ID       string
	Username string
	Email    string
	// CredentialKey matches users holding a credential with this internal key.
	CredentialKey string
}

// IsEmpty reports whether no field is set.
func (f UserFilter) IsEmpty() bool {
	return f == UserFilter{}
}

// UserPatch lists the fields to change. Nil fields are left untouched.
type UserPatch struct {
	Username         *string
	Email            *string
	PasswordHash     *string
	WrappedMasterKey *string
	Avatar           *string
	// Credentials replaces the whole credential set.
	Credentials *[]domain.Credential
	// AddCredential appends one credential atomically.
	AddCredential *domain.Credential
}

// EnvironmentFilter selects environments. Set fields are combined with AND.
type EnvironmentFilter struct {
	ID     string
	Author string
	Title  string
}

// IsEmpty reports whether no field is set.
func (f EnvironmentFilter) IsEmpty() bool {
	return f == EnvironmentFilter{}
}

// EnvironmentPatch lists the fields to change. Nil fields are left untouched.
// Secrets replaces the whole secret list in one write.
type EnvironmentPatch struct {
	Title   *string
	Team    *[]string
	Secrets *[]domain.Secret
}

// Users persists user documents.
type Users interface {
	FindUser(ctx context.Context, filter UserFilter) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error
	PersistUser(ctx context.Context, id string, patch UserPatch) (*domain.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// Environments persists environment documents.
type Environments interface {
	FindEnvironment(ctx context.Context, filter EnvironmentFilter) (*domain.Environment, error)
	ListEnvironments(ctx context.Context, filter EnvironmentFilter) ([]*domain.Environment, error)
	CreateEnvironment(ctx context.Context, e *domain.Environment) error
	PersistEnvironment(ctx context.Context, id string, patch EnvironmentPatch) (*domain.Environment, error)
	DeleteEnvironment(ctx context.Context, id string) error
	DeleteEnvironments(ctx context.Context, filter EnvironmentFilter) (int, error)
}

// Store is a complete backend.
type Store interface {
	Users
	Environments
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
