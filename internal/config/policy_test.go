package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmailPolicy(t *testing.T) {
	policy := NewEmailPolicy([]string{"*@example.com", " Admin@Corp.Example "})

	tests := []struct {
		email   string
		allowed bool
	}{
		{"alice@example.com", true},
		{"ALICE@EXAMPLE.COM", true},
		{"admin@corp.example", true},
		{"bob@corp.example", false},
		{"mallory@example.com.evil", false},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.allowed, policy.Allowed(tt.email))
		})
	}
}

func TestEmailPolicy_EmptyAllowsAll(t *testing.T) {
	policy := NewEmailPolicy(nil)
	assert.True(t, policy.Allowed("anyone@anywhere.test"))

	policy.SetPatterns([]string{"*@example.com"})
	assert.False(t, policy.Allowed("anyone@anywhere.test"))

	policy.SetPatterns([]string{"  "})
	assert.True(t, policy.Allowed("anyone@anywhere.test"))
}
