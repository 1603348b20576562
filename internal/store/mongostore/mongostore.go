// Package mongostore implements store.Store on MongoDB. Users and
// environments live in their own collections; uniqueness is enforced by
// indexes so concurrent writers cannot race past the service checks.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/kenneth/envvault/internal/config"
	"github.com/kenneth/envvault/internal/domain"
	"github.com/kenneth/envvault/internal/store"
)

const (
	usersCollection        = "users"
	environmentsCollection = "environments"

	connectAttempts = 3
	retryInterval   = 2 * time.Second
)

// Store is a MongoDB-backed store.Store.
type Store struct {
	client *mongo.Client
	users  *mongo.Collection
	envs   *mongo.Collection
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open connects to MongoDB, retrying while the server warms up, and ensures
// the indexes exist.
func Open(ctx context.Context, cfg config.MongoConfig, logger *logrus.Logger) (*Store, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		err = client.Ping(pingCtx, nil)
		cancel()
		if err == nil {
			break
		}
		if attempt >= connectAttempts {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("failed to connect to mongo after %d attempts: %w", attempt, err)
		}
		logger.WithError(err).WithField("attempt", attempt).Warn("MongoDB not reachable, retrying")
		select {
		case <-ctx.Done():
			_ = client.Disconnect(context.Background())
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client: client,
		users:  db.Collection(usersCollection),
		envs:   db.Collection(environmentsCollection),
		now:    time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.WithField("database", cfg.Database).Info("Connected to MongoDB")
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateMany(ctx, userIndexes()); err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}
	if _, err := s.envs.Indexes().CreateMany(ctx, environmentIndexes()); err != nil {
		return fmt.Errorf("failed to create environment indexes: %w", err)
	}
	return nil
}

func userIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{
			// Credential keys are unique across all users. Users without
			// credentials are left out of the index.
			Keys: bson.D{{Key: "tokens.key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "tokens.key", Value: bson.D{{Key: "$exists", Value: true}}}}),
		},
	}
}

func environmentIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "author", Value: 1}, {Key: "title", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "author", Value: 1}, {Key: "created_at", Value: 1}}},
	}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

func (s *Store) FindUser(ctx context.Context, filter store.UserFilter) (*domain.User, error) {
	if filter.IsEmpty() {
		return nil, store.ErrEmptyFilter
	}
	var u domain.User
	if err := s.users.FindOne(ctx, userFilter(filter)).Decode(&u); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	doc := u.Clone()
	if doc.Credentials == nil {
		doc.Credentials = []domain.Credential{}
	}
	_, err := s.users.InsertOne(ctx, doc)
	return translate(err)
}

func (s *Store) PersistUser(ctx context.Context, id string, patch store.UserPatch) (*domain.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var u domain.User
	err := s.users.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: id}}, userUpdate(patch, s.now().UTC()), opts).Decode(&u)
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.users.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return translate(err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindEnvironment(ctx context.Context, filter store.EnvironmentFilter) (*domain.Environment, error) {
	if filter.IsEmpty() {
		return nil, store.ErrEmptyFilter
	}
	var e domain.Environment
	if err := s.envs.FindOne(ctx, environmentFilter(filter)).Decode(&e); err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (s *Store) ListEnvironments(ctx context.Context, filter store.EnvironmentFilter) ([]*domain.Environment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.envs.Find(ctx, environmentFilter(filter), opts)
	if err != nil {
		return nil, translate(err)
	}
	var out []*domain.Environment
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode environments: %w", err)
	}
	return out, nil
}

func (s *Store) CreateEnvironment(ctx context.Context, e *domain.Environment) error {
	_, err := s.envs.InsertOne(ctx, e.Clone())
	return translate(err)
}

func (s *Store) PersistEnvironment(ctx context.Context, id string, patch store.EnvironmentPatch) (*domain.Environment, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var e domain.Environment
	err := s.envs.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: id}}, environmentUpdate(patch, s.now().UTC()), opts).Decode(&e)
	if err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (s *Store) DeleteEnvironment(ctx context.Context, id string) error {
	res, err := s.envs.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return translate(err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteEnvironments(ctx context.Context, filter store.EnvironmentFilter) (int, error) {
	if filter.IsEmpty() {
		return 0, store.ErrEmptyFilter
	}
	res, err := s.envs.DeleteMany(ctx, environmentFilter(filter))
	if err != nil {
		return 0, translate(err)
	}
	return int(res.DeletedCount), nil
}
