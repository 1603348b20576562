// Package pgstore implements store.Store on PostgreSQL through the pgx
// database/sql driver. Credentials, team members and secrets are JSONB
// columns so each document is still written in a single statement.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/envvault/internal/config"
	"github.com/kenneth/envvault/internal/domain"
	"github.com/kenneth/envvault/internal/store"
)

const uniqueViolation = "23505"

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open connects to PostgreSQL and applies migrations when configured.
func Open(ctx context.Context, cfg config.PostgresConfig, logger *logrus.Logger) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if cfg.RunMigrations {
		if err := RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	logger.Info("Connected to PostgreSQL")
	return New(db), nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	}
	return fmt.Errorf("db error: %w", err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*domain.User, error) {
	var (
		u      domain.User
		tokens []byte
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.WrappedMasterKey,
		&u.Avatar, &tokens, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tokens, &u.Credentials); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return &u, nil
}

func scanEnvironment(row scanner) (*domain.Environment, error) {
	var (
		e          domain.Environment
		team, keys []byte
	)
	if err := row.Scan(&e.ID, &e.Title, &e.Author, &team, &keys, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(team, &e.Team); err != nil {
		return nil, fmt.Errorf("failed to decode team: %w", err)
	}
	if err := json.Unmarshal(keys, &e.Secrets); err != nil {
		return nil, fmt.Errorf("failed to decode secrets: %w", err)
	}
	return &e, nil
}

func (s *Store) FindUser(ctx context.Context, filter store.UserFilter) (*domain.User, error) {
	if filter.IsEmpty() {
		return nil, store.ErrEmptyFilter
	}
	q, args, err := findUserQuery(filter)
	if err != nil {
		return nil, translate(err)
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	creds := u.Credentials
	if creds == nil {
		creds = []domain.Credential{}
	}
	tokens, err := encodeJSON(creds)
	if err != nil {
		return translate(err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.WrappedMasterKey, u.Avatar,
		tokens, u.CreatedAt, u.UpdatedAt)
	return translate(err)
}

func (s *Store) PersistUser(ctx context.Context, id string, patch store.UserPatch) (*domain.User, error) {
	q, args, err := updateUserQuery(id, patch, s.now().UTC())
	if err != nil {
		return nil, translate(err)
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindEnvironment(ctx context.Context, filter store.EnvironmentFilter) (*domain.Environment, error) {
	if filter.IsEmpty() {
		return nil, store.ErrEmptyFilter
	}
	where, args := environmentWhere(filter)
	e, err := scanEnvironment(s.db.QueryRowContext(ctx,
		"SELECT "+environmentColumns+" FROM environments WHERE "+where+" LIMIT 1", args...))
	if err != nil {
		return nil, translate(err)
	}
	return e, nil
}

func (s *Store) ListEnvironments(ctx context.Context, filter store.EnvironmentFilter) ([]*domain.Environment, error) {
	where, args := environmentWhere(filter)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+environmentColumns+" FROM environments WHERE "+where+" ORDER BY created_at, id", args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []*domain.Environment
	for rows.Next() {
		e, err := scanEnvironment(rows)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Store) CreateEnvironment(ctx context.Context, e *domain.Environment) error {
	team, err := encodeJSON(append([]string{}, e.Team...))
	if err != nil {
		return translate(err)
	}
	secrets, err := encodeJSON(append([]domain.Secret{}, e.Secrets...))
	if err != nil {
		return translate(err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO environments (`+environmentColumns+`)
		 VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7)`,
		e.ID, e.Title, e.Author, team, secrets, e.CreatedAt, e.UpdatedAt)
	return translate(err)
}

func (s *Store) PersistEnvironment(ctx context.Context, id string, patch store.EnvironmentPatch) (*domain.Environment, error) {
	q, args, err := updateEnvironmentQuery(id, patch, s.now().UTC())
	if err != nil {
		return nil, translate(err)
	}
	e, err := scanEnvironment(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, translate(err)
	}
	return e, nil
}

func (s *Store) DeleteEnvironment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM environments WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	return requireAffected(res)
}

func (s *Store) DeleteEnvironments(ctx context.Context, filter store.EnvironmentFilter) (int, error) {
	if filter.IsEmpty() {
		return 0, store.ErrEmptyFilter
	}
	where, args := environmentWhere(filter)
	res, err := s.db.ExecContext(ctx, "DELETE FROM environments WHERE "+where, args...)
	if err != nil {
		return 0, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, translate(err)
	}
	return int(n), nil
}
