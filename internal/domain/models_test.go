package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKeyName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"db password", "DB_PASSWORD"},
		{"DB_PASSWORD", "DB_PASSWORD"},
		{"api  key", "API__KEY"},
		{"tab\tname", "TAB_NAME"},
		{"mixed Case name", "MIXED_CASE_NAME"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeKeyName(tt.in))
		})
	}
}

func TestValidateKeyName_TooShort(t *testing.T) {
	_, err := ValidateKeyName("a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewEnvironment(t *testing.T) {
	now := time.Now()
	env, err := NewEnvironment("e1", "  prod ", "u1", []string{"u2"}, now)
	require.NoError(t, err)
	assert.Equal(t, "prod", env.Title)
	assert.Empty(t, env.Secrets)
	assert.Equal(t, []string{"u2"}, env.Team)

	_, err = NewEnvironment("e2", "p", "u1", nil, now)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewEnvironment("e3", "prod", "", nil, now)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEnvironmentClone_IsDeep(t *testing.T) {
	env := &Environment{ID: "e1", Secrets: []Secret{{ID: "s1", KeyName: "A"}}, Team: []string{"u2"}}
	c := env.Clone()
	c.Secrets[0].KeyName = "B"
	c.Team[0] = "u3"
	assert.Equal(t, "A", env.Secrets[0].KeyName)
	assert.Equal(t, "u2", env.Team[0])
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", DuplicateKey("DB_PASSWORD", "key_name exists"))
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindDuplicateKey, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))

	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "DB_PASSWORD", de.Field)
	assert.Contains(t, de.Error(), "field: DB_PASSWORD")
}
