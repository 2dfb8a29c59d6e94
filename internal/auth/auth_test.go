package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/expirytrack/collector/internal/fetch"
)

func TestTokenSource_Valid(t *testing.T) {
	s := NewTokenSource("tok-123", time.Now().Add(time.Hour))

	tok, err := s.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok != "tok-123" {
		t.Errorf("Token() = %q, want tok-123", tok)
	}
	if !s.Valid() {
		t.Error("Valid() = false, want true")
	}
}

func TestTokenSource_Expired(t *testing.T) {
	s := NewTokenSource("tok-123", time.Now().Add(time.Hour))
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err := s.Token()
	var authErr *fetch.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Token() error = %v, want AuthError", err)
	}
	if s.Valid() {
		t.Error("Valid() = true for expired token")
	}
}

func TestTokenSource_Empty(t *testing.T) {
	s := NewTokenSource("", time.Time{})

	_, err := s.Token()
	var authErr *fetch.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Token() error = %v, want AuthError", err)
	}
}

func TestTokenSource_NoExpiry(t *testing.T) {
	s := NewTokenSource("tok-sandbox", time.Time{})
	if !s.Valid() {
		t.Error("token without expiry should be valid")
	}
}

func TestTokenSource_Update(t *testing.T) {
	s := NewTokenSource("", time.Time{})
	s.Update("tok-new", time.Now().Add(time.Hour))

	tok, err := s.Token()
	if err != nil {
		t.Fatalf("Token() after Update error = %v", err)
	}
	if tok != "tok-new" {
		t.Errorf("Token() = %q, want tok-new", tok)
	}
}
