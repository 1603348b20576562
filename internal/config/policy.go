package config

import (
	"strings"
	"sync"

	"github.com/ryanuber/go-glob"
)

// EmailPolicy decides which addresses may register, by glob pattern
// (for example "*@example.com"). Patterns can be replaced at runtime when the
// configuration file is reloaded.
type EmailPolicy struct {
	patterns []string
	mu       sync.RWMutex
}

// NewEmailPolicy creates a policy from patterns. No patterns allows every address.
func NewEmailPolicy(patterns []string) *EmailPolicy {
	p := &EmailPolicy{}
	p.SetPatterns(patterns)
	return p
}

// SetPatterns replaces the active patterns.
func (p *EmailPolicy) SetPatterns(patterns []string) {
	normalized := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern != "" {
			normalized = append(normalized, pattern)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.patterns = normalized
}

// Allowed reports whether email matches any pattern.
func (p *EmailPolicy) Allowed(email string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.patterns) == 0 {
		return true
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, pattern := range p.patterns {
		if glob.Glob(pattern, email) {
			return true
		}
	}
	return false
}
