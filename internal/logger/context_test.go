package logger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext(t *testing.T) {
	t.Parallel()

	t.Run("Should return the injected logger instance when present", func(t *testing.T) {
		// Arrange
		expected := slog.New(slog.NewJSONHandler(io.Discard, nil)).With(slog.String("request_id", "r-1"))

		// Act
		got := FromContext(WithContext(context.Background(), expected))

		// Assert
		assert.Same(t, expected, got)
	})

	t.Run("Should fall back to the default logger when context is empty", func(t *testing.T) {
		assert.Same(t, slog.Default(), FromContext(context.Background()))
	})

	t.Run("Should let an inner context override an outer logger", func(t *testing.T) {
		outer := Discard()
		inner := Discard()

		ctx := WithContext(WithContext(context.Background(), outer), inner)

		assert.Same(t, inner, FromContext(ctx))
	})
}
