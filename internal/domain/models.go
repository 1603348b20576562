// Package domain holds the entities shared by the vault services and the
// storage backends, together with the invariants enforced at construction.
package domain

import (
	"strings"
	"time"
	"unicode"
)

const (
	// MinTitleLength is the shortest accepted environment title.
	MinTitleLength = 2
	// MinKeyNameLength is the shortest accepted secret name before normalization.
	MinKeyNameLength = 2
)

// Credential is one API credential held by a user. Key is the internal
// identifier; the public token is derived from it and never stored.
type Credential struct {
	ID        string    `json:"id" bson:"id"`
	Key       string    `json:"key" bson:"key"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// User is the identity root.
type User struct {
	ID               string       `json:"id" bson:"_id"`
	Username         string       `json:"username" bson:"username"`
	Email            string       `json:"email" bson:"email"`
	PasswordHash     string       `json:"-" bson:"password"`
	WrappedMasterKey string       `json:"-" bson:"encrypted_user_key"`
	Avatar           string       `json:"avatar,omitempty" bson:"avatar,omitempty"`
	Credentials      []Credential `json:"-" bson:"tokens"`
	CreatedAt        time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" bson:"updated_at"`
}

// HasCredential reports whether the user holds the credential with internal key.
func (u *User) HasCredential(key string) bool {
	for _, c := range u.Credentials {
		if c.Key == key {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Credentials = append([]Credential(nil), u.Credentials...)
	return &c
}

// Secret is one name/value pair inside an environment. Value is hex ciphertext
// except in a response explicitly requested as decrypted.
type Secret struct {
	ID      string `json:"_id" bson:"id"`
	KeyName string `json:"key_name" bson:"key_name"`
	Value   string `json:"value" bson:"value"`
}

// Environment is a named collection of secrets owned by one author.
type Environment struct {
	ID        string    `json:"_id" bson:"_id"`
	Title     string    `json:"title" bson:"title"`
	Author    string    `json:"author" bson:"author"`
	Team      []string  `json:"team" bson:"team"`
	Secrets   []Secret  `json:"keys" bson:"keys"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// NewEnvironment validates the title and builds an empty environment.
func NewEnvironment(id, title, author string, team []string, now time.Time) (*Environment, error) {
	title = strings.TrimSpace(title)
	if len(title) < MinTitleLength {
		return nil, Validation("title", "title must be at least %d characters", MinTitleLength)
	}
	if author == "" {
		return nil, Validation("author", "author is required")
	}
	return &Environment{
		ID:        id,
		Title:     title,
		Author:    author,
		Team:      append([]string{}, team...),
		Secrets:   []Secret{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SecretIndexByName returns the index of the secret named name, or -1.
func (e *Environment) SecretIndexByName(name string) int {
	for i, s := range e.Secrets {
		if s.KeyName == name {
			return i
		}
	}
	return -1
}

// SecretIndexByID returns the index of the secret with id, or -1.
func (e *Environment) SecretIndexByID(id string) int {
	for i, s := range e.Secrets {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy.
func (e *Environment) Clone() *Environment {
	if e == nil {
		return nil
	}
	c := *e
	c.Team = append(make([]string, 0, len(e.Team)), e.Team...)
	c.Secrets = append(make([]Secret, 0, len(e.Secrets)), e.Secrets...)
	return &c
}

// NormalizeKeyName replaces every whitespace character with an underscore and
// upper-cases the result.
func NormalizeKeyName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, name)
	return strings.ToUpper(mapped)
}

// ValidateKeyName checks the raw name and returns its normalized form.
func ValidateKeyName(name string) (string, error) {
	if len(name) < MinKeyNameLength {
		return "", Validation("key_name", "key_name must be at least %d characters", MinKeyNameLength)
	}
	return NormalizeKeyName(name), nil
}
