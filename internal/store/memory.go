package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kenneth/envvault/internal/domain"
)

// Memory is a Store held in process memory. Documents are copied on the way in
// and out, so callers never share state with the store.
type Memory struct {
	mu           sync.RWMutex
	users        map[string]*domain.User
	environments map[string]*domain.Environment
	now          func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:        make(map[string]*domain.User),
		environments: make(map[string]*domain.Environment),
		now:          time.Now,
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) Close(ctx context.Context) error {
	return nil
}

func matchUser(u *domain.User, f UserFilter) bool {
	if f.ID != "" && u.ID != f.ID {
		return false
	}
	if f.Username != "" && u.Username != f.Username {
		return false
	}
	if f.Email != "" && u.Email != f.Email {
		return false
	}
	if f.CredentialKey != "" && !u.HasCredential(f.CredentialKey) {
		return false
	}
	return true
}

func (m *Memory) FindUser(ctx context.Context, filter UserFilter) (*domain.User, error) {
	if filter.IsEmpty() {
		return nil, ErrEmptyFilter
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if filter.ID != "" {
		u, ok := m.users[filter.ID]
		if !ok || !matchUser(u, filter) {
			return nil, ErrNotFound
		}
		return u.Clone(), nil
	}
	for _, u := range m.users {
		if matchUser(u, filter) {
			return u.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// uniqueUserLocked checks username, email and credential key uniqueness of u
// against every other user.
func (m *Memory) uniqueUserLocked(u *domain.User) bool {
	for id, other := range m.users {
		if id == u.ID {
			continue
		}
		if other.Username == u.Username || other.Email == u.Email {
			return false
		}
		for _, c := range u.Credentials {
			if other.HasCredential(c.Key) {
				return false
			}
		}
	}
	return true
}

func (m *Memory) CreateUser(ctx context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[u.ID]; exists {
		return ErrConflict
	}
	if !m.uniqueUserLocked(u) {
		return ErrConflict
	}
	m.users[u.ID] = u.Clone()
	return nil
}

func (m *Memory) PersistUser(ctx context.Context, id string, patch UserPatch) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := current.Clone()
	if patch.Username != nil {
		next.Username = *patch.Username
	}
	if patch.Email != nil {
		next.Email = *patch.Email
	}
	if patch.PasswordHash != nil {
		next.PasswordHash = *patch.PasswordHash
	}
	if patch.WrappedMasterKey != nil {
		next.WrappedMasterKey = *patch.WrappedMasterKey
	}
	if patch.Avatar != nil {
		next.Avatar = *patch.Avatar
	}
	if patch.Credentials != nil {
		next.Credentials = append([]domain.Credential{}, (*patch.Credentials)...)
	}
	if patch.AddCredential != nil {
		next.Credentials = append(next.Credentials, *patch.AddCredential)
	}
	if !m.uniqueUserLocked(next) {
		return nil, ErrConflict
	}
	next.UpdatedAt = m.now()
	m.users[id] = next
	return next.Clone(), nil
}

func (m *Memory) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func matchEnvironment(e *domain.Environment, f EnvironmentFilter) bool {
	if f.ID != "" && e.ID != f.ID {
		return false
	}
	if f.Author != "" && e.Author != f.Author {
		return false
	}
	if f.Title != "" && e.Title != f.Title {
		return false
	}
	return true
}

func (m *Memory) FindEnvironment(ctx context.Context, filter EnvironmentFilter) (*domain.Environment, error) {
	if filter.IsEmpty() {
		return nil, ErrEmptyFilter
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.environments {
		if matchEnvironment(e, filter) {
			return e.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListEnvironments(ctx context.Context, filter EnvironmentFilter) ([]*domain.Environment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.Environment, 0)
	for _, e := range m.environments {
		if matchEnvironment(e, filter) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) uniqueTitleLocked(e *domain.Environment) bool {
	for id, other := range m.environments {
		if id != e.ID && other.Author == e.Author && other.Title == e.Title {
			return false
		}
	}
	return true
}

func (m *Memory) CreateEnvironment(ctx context.Context, e *domain.Environment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.environments[e.ID]; exists {
		return ErrConflict
	}
	if !m.uniqueTitleLocked(e) {
		return ErrConflict
	}
	m.environments[e.ID] = e.Clone()
	return nil
}

func (m *Memory) PersistEnvironment(ctx context.Context, id string, patch EnvironmentPatch) (*domain.Environment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.environments[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := current.Clone()
	if patch.Title != nil {
		next.Title = *patch.Title
	}
	if patch.Team != nil {
		next.Team = append([]string{}, (*patch.Team)...)
	}
	if patch.Secrets != nil {
		next.Secrets = append([]domain.Secret{}, (*patch.Secrets)...)
	}
	if !m.uniqueTitleLocked(next) {
		return nil, ErrConflict
	}
	next.UpdatedAt = m.now()
	m.environments[id] = next
	return next.Clone(), nil
}

func (m *Memory) DeleteEnvironment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.environments[id]; !ok {
		return ErrNotFound
	}
	delete(m.environments, id)
	return nil
}

func (m *Memory) DeleteEnvironments(ctx context.Context, filter EnvironmentFilter) (int, error) {
	if filter.IsEmpty() {
		return 0, ErrEmptyFilter
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, e := range m.environments {
		if matchEnvironment(e, filter) {
			delete(m.environments, id)
			n++
		}
	}
	return n, nil
}
