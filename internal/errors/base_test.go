package errors

import (
	"errors"
	"testing"
)

var errWrapped = errors.New("wrapped error")

func TestWrap(t *testing.T) {
	err := Wrap(errWrapped, "Hello, Wrapped!")
	if err.Error() != "Hello, Wrapped!, err: wrapped error" {
		t.Fatalf("error mismatch: %+v", err)
	}
}

func TestWrapKeepsSentinel(t *testing.T) {
	err := Wrap(ErrInvariant, "apply fill")
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("wrapped sentinel lost: %+v", err)
	}
	if errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("unexpected sentinel match: %+v", err)
	}
}
