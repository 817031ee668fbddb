package errors

import (
	"fmt"
	"testing"
)

func TestOpError_WrapsCause(t *testing.T) {
	cause := fmt.Errorf("connect: %w", ErrUnavailable)
	err := Op("PersistSnapshot", cause)

	var opErr *OpError
	if !As(err, &opErr) {
		t.Fatalf("expected OpError, got %T", err)
	}
	if opErr.Op != "PersistSnapshot" {
		t.Errorf("op = %q, want PersistSnapshot", opErr.Op)
	}
	if !IsUnavailable(err) {
		t.Error("wrapped cause should still match ErrUnavailable")
	}
}

func TestOp_NilPassthrough(t *testing.T) {
	if err := Op("NodeChangeEvents", nil); err != nil {
		t.Errorf("Op(nil) = %v, want nil", err)
	}
}

func TestCategoryHelpers(t *testing.T) {
	tests := []struct {
		name string
		err  error
		fn   func(error) bool
		want bool
	}{
		{"unavailable direct", ErrUnavailable, IsUnavailable, true},
		{"unavailable wrapped", fmt.Errorf("dial: %w", ErrUnavailable), IsUnavailable, true},
		{"schema mismatch", ErrSchemaMismatch, IsSchemaMismatch, true},
		{"closed", ErrClosed, IsClosed, true},
		{"cross category", ErrSchemaMismatch, IsUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.err); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
