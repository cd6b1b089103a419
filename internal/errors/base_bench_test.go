package errors

import (
	"errors"
	"testing"
)

func BenchmarkWrap(b *testing.B) {
	b.Run("wrap nil", func(b *testing.B) {
		for b.Loop() {
			err := Wrap(nil, "order 42")
			_ = err
		}
	})

	b.Run("wrap sentinel", func(b *testing.B) {
		for b.Loop() {
			err := Wrap(ErrInvariant, "order 42")
			_ = err.Error()
		}
	})

	b.Run("is sentinel", func(b *testing.B) {
		wrapped := Wrap(ErrDuplicateEvent, "order 42")
		for b.Loop() {
			_ = errors.Is(wrapped, ErrDuplicateEvent)
		}
	})
}
