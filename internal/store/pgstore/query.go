package pgstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kenneth/envvault/internal/domain"
	"github.com/kenneth/envvault/internal/store"
)

const (
	userColumns        = "id, username, email, password, encrypted_user_key, avatar, tokens, created_at, updated_at"
	environmentColumns = "id, title, author, team, keys, created_at, updated_at"
)

// builder accumulates SQL fragments with positional arguments.
type builder struct {
	parts []string
	args  []any
	err   error
}

func (b *builder) add(format string, arg any) {
	b.args = append(b.args, arg)
	b.parts = append(b.parts, fmt.Sprintf(format, len(b.args)))
}

// addJSON adds v encoded as a JSON document. The first encoding error is kept
// and reported by the query function.
func (b *builder) addJSON(format string, v any) {
	doc, err := encodeJSON(v)
	if err != nil && b.err == nil {
		b.err = err
	}
	b.add(format, doc)
}

func (b *builder) next() int {
	return len(b.args) + 1
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return string(data), nil
}

// credentialMatch is the JSONB containment document matching a credential key.
func credentialMatch(key string) []map[string]string {
	return []map[string]string{{"key": key}}
}

func userWhere(f store.UserFilter) (string, []any, error) {
	var b builder
	if f.ID != "" {
		b.add("id = $%d", f.ID)
	}
	if f.Username != "" {
		b.add("username = $%d", f.Username)
	}
	if f.Email != "" {
		b.add("email = $%d", f.Email)
	}
	if f.CredentialKey != "" {
		b.addJSON("tokens @> $%d::jsonb", credentialMatch(f.CredentialKey))
	}
	return strings.Join(b.parts, " AND "), b.args, b.err
}

func findUserQuery(f store.UserFilter) (string, []any, error) {
	where, args, err := userWhere(f)
	if err != nil {
		return "", nil, err
	}
	return "SELECT " + userColumns + " FROM users WHERE " + where + " LIMIT 1", args, nil
}

// updateUserQuery builds the UPDATE for patch. A lone credential append is
// done with the JSONB concatenation operator so it never overwrites a
// concurrent append.
func updateUserQuery(id string, p store.UserPatch, now time.Time) (string, []any, error) {
	var b builder
	b.add("updated_at = $%d", now)
	if p.Username != nil {
		b.add("username = $%d", *p.Username)
	}
	if p.Email != nil {
		b.add("email = $%d", *p.Email)
	}
	if p.PasswordHash != nil {
		b.add("password = $%d", *p.PasswordHash)
	}
	if p.WrappedMasterKey != nil {
		b.add("encrypted_user_key = $%d", *p.WrappedMasterKey)
	}
	if p.Avatar != nil {
		b.add("avatar = $%d", *p.Avatar)
	}
	switch {
	case p.Credentials != nil:
		creds := append([]domain.Credential{}, (*p.Credentials)...)
		if p.AddCredential != nil {
			creds = append(creds, *p.AddCredential)
		}
		b.addJSON("tokens = $%d::jsonb", creds)
	case p.AddCredential != nil:
		b.addJSON("tokens = tokens || $%d::jsonb", []domain.Credential{*p.AddCredential})
	}

	if b.err != nil {
		return "", nil, b.err
	}
	q := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d RETURNING %s",
		strings.Join(b.parts, ", "), b.next(), userColumns)
	return q, append(b.args, id), nil
}

func environmentWhere(f store.EnvironmentFilter) (string, []any) {
	var b builder
	if f.ID != "" {
		b.add("id = $%d", f.ID)
	}
	if f.Author != "" {
		b.add("author = $%d", f.Author)
	}
	if f.Title != "" {
		b.add("title = $%d", f.Title)
	}
	if len(b.parts) == 0 {
		return "TRUE", nil
	}
	return strings.Join(b.parts, " AND "), b.args
}

func updateEnvironmentQuery(id string, p store.EnvironmentPatch, now time.Time) (string, []any, error) {
	var b builder
	b.add("updated_at = $%d", now)
	if p.Title != nil {
		b.add("title = $%d", *p.Title)
	}
	if p.Team != nil {
		b.addJSON("team = $%d::jsonb", append([]string{}, (*p.Team)...))
	}
	if p.Secrets != nil {
		b.addJSON("keys = $%d::jsonb", append([]domain.Secret{}, (*p.Secrets)...))
	}

	if b.err != nil {
		return "", nil, b.err
	}
	q := fmt.Sprintf("UPDATE environments SET %s WHERE id = $%d RETURNING %s",
		strings.Join(b.parts, ", "), b.next(), environmentColumns)
	return q, append(b.args, id), nil
}
