// Package auth supplies upstream access tokens. The OAuth exchange itself
// happens outside this process; the collector is handed a token and an
// expiry and refuses to issue requests once it lapses.
package auth

import (
	"sync"
	"time"

	"github.com/expirytrack/collector/internal/fetch"
)

// TokenSource holds the current upstream access token.
// Safe for concurrent use.
type TokenSource struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	now func() time.Time
}

// NewTokenSource creates a TokenSource. A zero expiresAt means the token
// does not expire (useful for sandbox keys and tests).
func NewTokenSource(token string, expiresAt time.Time) *TokenSource {
	return &TokenSource{
		token:     token,
		expiresAt: expiresAt,
		now:       time.Now,
	}
}

// Token returns the current access token, or an AuthError when no valid
// token is available.
func (s *TokenSource) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" {
		return "", &fetch.AuthError{Reason: "no access token configured"}
	}
	if !s.expiresAt.IsZero() && !s.now().Before(s.expiresAt) {
		return "", &fetch.AuthError{Reason: "access token expired"}
	}
	return s.token, nil
}

// Valid reports whether a usable token is currently held.
func (s *TokenSource) Valid() bool {
	_, err := s.Token()
	return err == nil
}

// Update replaces the held token, e.g. after an operator re-authenticates.
func (s *TokenSource) Update(token string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expiresAt = expiresAt
}
