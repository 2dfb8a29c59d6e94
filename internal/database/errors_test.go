package database

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestWrapError_Nil(t *testing.T) {
	if WrapError(nil) != nil {
		t.Error("WrapError(nil) should be nil")
	}
}

func TestWrapError_FatalClasses(t *testing.T) {
	tests := []struct {
		code  string
		fatal bool
	}{
		{"53100", true},  // disk full
		{"XX001", true},  // data corrupted
		{"42P01", true},  // undefined table
		{"08006", false}, // connection failure
		{"40001", false}, // serialization failure
		{"55P03", false}, // lock not available
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := WrapError(&pgconn.PgError{Code: tt.code})
			var stErr *StorageError
			if !errors.As(err, &stErr) {
				t.Fatalf("WrapError() = %v, want StorageError", err)
			}
			if stErr.Fatal != tt.fatal {
				t.Errorf("Fatal = %v, want %v", stErr.Fatal, tt.fatal)
			}
			if IsFatalStorage(err) != tt.fatal {
				t.Errorf("IsFatalStorage() = %v, want %v", IsFatalStorage(err), tt.fatal)
			}
		})
	}
}

func TestWrapError_PlainErrorIsTransient(t *testing.T) {
	err := WrapError(errors.New("connection reset"))
	var stErr *StorageError
	if !errors.As(err, &stErr) {
		t.Fatalf("WrapError() = %v, want StorageError", err)
	}
	if stErr.Fatal {
		t.Error("plain errors should classify as transient")
	}
}

func TestWrapError_ContextCanceledPassesThrough(t *testing.T) {
	err := WrapError(context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WrapError() = %v, want context.Canceled", err)
	}
	var stErr *StorageError
	if errors.As(err, &stErr) {
		t.Error("context cancellation should not become a StorageError")
	}
}

func TestWrapError_Idempotent(t *testing.T) {
	inner := &StorageError{Fatal: true, Err: errors.New("disk full")}
	if got := WrapError(inner); got != inner {
		t.Errorf("WrapError() re-wrapped an existing StorageError")
	}
}
