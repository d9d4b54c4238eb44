package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{name: "message", err: NewNotFound("No record found for id '7'"), want: "No record found for id '7'"},
		{name: "code only", err: New("custom.code", ""), want: "custom.code"},
		{
			name: "with cause",
			err:  NewConflict("Duplicate primary key", nil).WithCause(errors.New("E11000")),
			want: "Duplicate primary key: E11000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_IsKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{name: "not found", err: NewNotFound("x"), kind: ErrNotFound},
		{name: "conflict", err: NewConflict("x", nil), kind: ErrConflict},
		{name: "bad request", err: NewBadRequest("x"), kind: ErrBadRequest},
		{name: "usage", err: NewUsage("x"), kind: ErrUsage},
		{name: "wrapped", err: fmt.Errorf("find: %w", NewBadRequest("x")), kind: ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.kind) {
				t.Fatalf("expected %v to match %v", tt.err, tt.kind)
			}
			for _, other := range []error{ErrNotFound, ErrConflict, ErrBadRequest, ErrUsage} {
				if other != tt.kind && errors.Is(tt.err, other) {
					t.Fatalf("%v unexpectedly matched %v", tt.err, other)
				}
			}
		})
	}
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("root cause")
	err := NewConflict("dup", nil).WithCause(cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
}

func TestStatusAndCodeOf(t *testing.T) {
	if got := StatusOf(NewNotFound("x")); got != http.StatusNotFound {
		t.Fatalf("StatusOf = %d", got)
	}
	if got := StatusOf(errors.New("plain")); got != http.StatusInternalServerError {
		t.Fatalf("StatusOf plain = %d", got)
	}
	if got := StatusOf(New("validation.required", "")); got != http.StatusBadRequest {
		t.Fatalf("inferred status = %d", got)
	}
	if got := CodeOf(fmt.Errorf("wrap: %w", NewConflict("x", nil))); got != CodeConflict {
		t.Fatalf("CodeOf = %q", got)
	}
	if got := CodeOf(errors.New("plain")); got != CodeInternal {
		t.Fatalf("CodeOf plain = %q", got)
	}
}
