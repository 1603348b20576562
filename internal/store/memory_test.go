package store

import (
	"context"
	"testing"
	"time"

	"github.com/kenneth/envvault/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_Users(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	alice := &domain.User{ID: "u1", Username: "alice", Email: "alice@example.com", Credentials: []domain.Credential{{ID: "c1", Key: "k1"}}}
	require.NoError(t, m.CreateUser(ctx, alice))

	// Caller mutations do not leak into the store.
	alice.Username = "mallory"

	got, err := m.FindUser(ctx, UserFilter{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	got, err = m.FindUser(ctx, UserFilter{CredentialKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	_, err = m.FindUser(ctx, UserFilter{Email: "nobody@example.com"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.FindUser(ctx, UserFilter{})
	assert.ErrorIs(t, err, ErrEmptyFilter)

	_, err = m.FindUser(ctx, UserFilter{ID: "u1", Email: "other@example.com"})
	assert.ErrorIs(t, err, ErrNotFound, "filters combine with AND")

	err = m.CreateUser(ctx, &domain.User{ID: "u2", Username: "alice", Email: "b@example.com"})
	assert.ErrorIs(t, err, ErrConflict)
	err = m.CreateUser(ctx, &domain.User{ID: "u2", Username: "bob", Email: "bob@example.com", Credentials: []domain.Credential{{ID: "c2", Key: "k1"}}})
	assert.ErrorIs(t, err, ErrConflict, "credential keys are unique across users")
}

func TestMemory_PersistUser(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateUser(ctx, &domain.User{ID: "u1", Username: "alice", Email: "a@example.com"}))
	require.NoError(t, m.CreateUser(ctx, &domain.User{ID: "u2", Username: "bob", Email: "b@example.com"}))

	hash, wrap := "new-hash", "new-wrap"
	updated, err := m.PersistUser(ctx, "u1", UserPatch{
		PasswordHash:     &hash,
		WrappedMasterKey: &wrap,
		AddCredential:    &domain.Credential{ID: "c1", Key: "k1", CreatedAt: time.Now()},
	})
	require.NoError(t, err)
	assert.Equal(t, "new-hash", updated.PasswordHash)
	assert.Equal(t, "new-wrap", updated.WrappedMasterKey)
	require.Len(t, updated.Credentials, 1)

	_, err = m.PersistUser(ctx, "u2", UserPatch{AddCredential: &domain.Credential{ID: "c2", Key: "k1"}})
	assert.ErrorIs(t, err, ErrConflict)

	name := "bob"
	_, err = m.PersistUser(ctx, "u1", UserPatch{Username: &name})
	assert.ErrorIs(t, err, ErrConflict)

	empty := []domain.Credential{}
	updated, err = m.PersistUser(ctx, "u1", UserPatch{Credentials: &empty})
	require.NoError(t, err)
	assert.Empty(t, updated.Credentials)

	_, err = m.PersistUser(ctx, "missing", UserPatch{})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.DeleteUser(ctx, "u2"))
	assert.ErrorIs(t, m.DeleteUser(ctx, "u2"), ErrNotFound)
}

func TestMemory_Environments(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	prod := &domain.Environment{ID: "e1", Title: "prod", Author: "u1", CreatedAt: now}
	dev := &domain.Environment{ID: "e2", Title: "dev", Author: "u1", CreatedAt: now.Add(time.Second)}
	other := &domain.Environment{ID: "e3", Title: "prod", Author: "u2", CreatedAt: now}
	require.NoError(t, m.CreateEnvironment(ctx, prod))
	require.NoError(t, m.CreateEnvironment(ctx, dev))
	require.NoError(t, m.CreateEnvironment(ctx, other), "titles are unique per author only")

	err := m.CreateEnvironment(ctx, &domain.Environment{ID: "e4", Title: "prod", Author: "u1"})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := m.FindEnvironment(ctx, EnvironmentFilter{Author: "u2", Title: "prod"})
	require.NoError(t, err)
	assert.Equal(t, "e3", got.ID)

	list, err := m.ListEnvironments(ctx, EnvironmentFilter{Author: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "e1", list[0].ID)
	assert.Equal(t, "e2", list[1].ID)

	secrets := []domain.Secret{{ID: "s1", KeyName: "DB_PASSWORD", Value: "00"}}
	updated, err := m.PersistEnvironment(ctx, "e1", EnvironmentPatch{Secrets: &secrets})
	require.NoError(t, err)
	assert.Equal(t, secrets, updated.Secrets)

	secrets[0].Value = "mutated"
	got, err = m.FindEnvironment(ctx, EnvironmentFilter{ID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, "00", got.Secrets[0].Value)

	title := "dev"
	_, err = m.PersistEnvironment(ctx, "e1", EnvironmentPatch{Title: &title})
	assert.ErrorIs(t, err, ErrConflict)

	n, err := m.DeleteEnvironments(ctx, EnvironmentFilter{Author: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, m.DeleteEnvironment(ctx, "e1"), ErrNotFound)
	require.NoError(t, m.DeleteEnvironment(ctx, "e3"))
}
