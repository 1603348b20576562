package apikey

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/envvault/internal/domain"
	"github.com/kenneth/envvault/internal/store"
)

// countingUsers wraps the memory store, counting lookups and optionally
// failing appends with a conflict.
type countingUsers struct {
	*store.Memory
	finds            int
	conflictsToForce int
}

func (c *countingUsers) FindUser(ctx context.Context, f store.UserFilter) (*domain.User, error) {
	c.finds++
	return c.Memory.FindUser(ctx, f)
}

func (c *countingUsers) PersistUser(ctx context.Context, id string, p store.UserPatch) (*domain.User, error) {
	if p.AddCredential != nil && c.conflictsToForce > 0 {
		c.conflictsToForce--
		return nil, store.ErrConflict
	}
	return c.Memory.PersistUser(ctx, id, p)
}

type fakeRecorder struct {
	issued     map[string]int
	collisions int
	resolved   map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{issued: map[string]int{}, resolved: map[string]int{}}
}

func (f *fakeRecorder) RecordCredentialIssuance(outcome string)   { f.issued[outcome]++ }
func (f *fakeRecorder) RecordCredentialCollision()                { f.collisions++ }
func (f *fakeRecorder) RecordCredentialResolution(outcome string) { f.resolved[outcome]++ }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func setupUsers(t *testing.T) *countingUsers {
	t.Helper()
	users := &countingUsers{Memory: store.NewMemory()}
	ctx := context.Background()
	require.NoError(t, users.CreateUser(ctx, &domain.User{ID: "alice", Username: "alice", Email: "alice@example.com", PasswordHash: "hash-a"}))
	require.NoError(t, users.CreateUser(ctx, &domain.User{ID: "bob", Username: "bob", Email: "bob@example.com", PasswordHash: "hash-b"}))
	return users
}

func sequence(ids ...string) func() (uuid.UUID, error) {
	n := 0
	return func() (uuid.UUID, error) {
		id := uuid.MustParse(ids[n%len(ids)])
		n++
		return id, nil
	}
}

func TestIssueRedeemResolve(t *testing.T) {
	ctx := context.Background()
	users := setupUsers(t)
	rec := newFakeRecorder()
	issuer := NewIssuer(users, 2, quietLogger(), WithRecorder(rec))

	issued, err := issuer.Issue(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, Valid(issued.Token))
	assert.NotEmpty(t, issued.Credential.ID)
	assert.Equal(t, 1, rec.issued["issued"])

	key, err := issuer.Redeem(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, issued.Credential.Key, key)

	ident, err := issuer.Authenticate(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", ident.User.ID)
	assert.Equal(t, "hash-a", ident.User.PasswordHash)
	assert.Equal(t, issued.Credential.ID, ident.CredentialID)
	assert.Equal(t, 1, rec.resolved["resolved"])

	// Lower-case input resolves to the same user.
	ident, err = issuer.Authenticate(ctx, strings.ToLower(issued.Token))
	require.NoError(t, err)
	assert.Equal(t, "alice", ident.User.ID)
}

func TestRedeem_MalformedTokenSkipsStore(t *testing.T) {
	ctx := context.Background()
	users := setupUsers(t)
	rec := newFakeRecorder()
	issuer := NewIssuer(users, 2, quietLogger(), WithRecorder(rec))

	before := users.finds
	_, err := issuer.Authenticate(ctx, "not-a-token")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	assert.Equal(t, before, users.finds, "malformed token must not reach the store")
	assert.Equal(t, 1, rec.resolved["invalid"])
}

func TestResolve_UnknownCredential(t *testing.T) {
	issuer := NewIssuer(setupUsers(t), 2, quietLogger())

	_, err := issuer.Authenticate(context.Background(), Encode(uuid.New()))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIssue_CollisionRetry(t *testing.T) {
	ctx := context.Background()
	const taken = "11111111-1111-4111-8111-111111111111"
	const fresh = "22222222-2222-4222-8222-222222222222"

	t.Run("regenerates after a collision", func(t *testing.T) {
		users := setupUsers(t)
		_, err := users.PersistUser(ctx, "bob", store.UserPatch{AddCredential: &domain.Credential{ID: "c", Key: taken}})
		require.NoError(t, err)

		rec := newFakeRecorder()
		issuer := NewIssuer(users, 2, quietLogger(), WithRecorder(rec), WithIDSource(sequence(taken, fresh)))
		issued, err := issuer.Issue(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, fresh, issued.Credential.Key)
		assert.Equal(t, 1, rec.collisions)
	})

	t.Run("gives up after the attempt limit", func(t *testing.T) {
		users := setupUsers(t)
		_, err := users.PersistUser(ctx, "bob", store.UserPatch{AddCredential: &domain.Credential{ID: "c", Key: taken}})
		require.NoError(t, err)

		rec := newFakeRecorder()
		issuer := NewIssuer(users, 2, quietLogger(), WithRecorder(rec), WithIDSource(sequence(taken)))
		_, err = issuer.Issue(ctx, "alice")
		assert.ErrorIs(t, err, domain.ErrRetryableIssuance)
		assert.Equal(t, 2, rec.collisions)
		assert.Equal(t, 1, rec.issued["exhausted"])

		alice, err := users.FindUser(ctx, store.UserFilter{ID: "alice"})
		require.NoError(t, err)
		assert.Empty(t, alice.Credentials, "no partial write on failure")
	})

	t.Run("store conflict counts as a collision", func(t *testing.T) {
		users := setupUsers(t)
		users.conflictsToForce = 1

		issuer := NewIssuer(users, 2, quietLogger())
		issued, err := issuer.Issue(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, Valid(issued.Token))
	})

	t.Run("id source failure", func(t *testing.T) {
		issuer := NewIssuer(setupUsers(t), 2, quietLogger(), WithIDSource(func() (uuid.UUID, error) {
			return uuid.UUID{}, errors.New("entropy exhausted")
		}))
		_, err := issuer.Issue(ctx, "alice")
		require.Error(t, err)
		assert.Empty(t, domain.KindOf(err))
	})
}

func TestIssue_UnknownUser(t *testing.T) {
	issuer := NewIssuer(setupUsers(t), 2, quietLogger())
	_, err := issuer.Issue(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	users := setupUsers(t)
	issuer := NewIssuer(users, 2, quietLogger())

	first, err := issuer.Issue(ctx, "alice")
	require.NoError(t, err)
	second, err := issuer.Issue(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, issuer.Revoke(ctx, "alice", first.Credential.ID))

	_, err = issuer.Authenticate(ctx, first.Token)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = issuer.Authenticate(ctx, second.Token)
	assert.NoError(t, err)

	err = issuer.Revoke(ctx, "alice", first.Credential.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Another user's credential id is not found in bob's set.
	err = issuer.Revoke(ctx, "bob", second.Credential.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = issuer.Revoke(ctx, "alice", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestList_MasksTokens(t *testing.T) {
	id := uuid.MustParse("0ef1a2b3-4c5d-46e7-8f90-a1b2c3d4e5f6")
	u := &domain.User{Credentials: []domain.Credential{{ID: "c1", Key: id.String()}}}

	list := List(u)
	require.Len(t, list, 1)
	assert.Equal(t, "c1", list[0].ID)
	assert.Equal(t, "07F38NK-XXXXXXX-XXXXXXX-31X9SFP", list[0].Key)
	assert.Equal(t, id.String(), u.Credentials[0].Key, "stored key is untouched")
}
