package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/config"
)

func TestNewWithWriter(t *testing.T) {
	t.Parallel()

	t.Run("Should emit JSON with service identity", func(t *testing.T) {
		t.Parallel()
		// Arrange
		var buf bytes.Buffer
		cfg := &config.AppConfig{Name: "shield-study", Version: "1.2.3", Environment: "production", LogLevel: "info", LogFormat: "json"}

		// Act
		NewWithWriter(cfg, &buf).Info("hello", slog.String("k", "v"))

		// Assert
		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "hello", rec["msg"])
		assert.Equal(t, "shield-study", rec["service"])
		assert.Equal(t, "1.2.3", rec["version"])
		assert.Equal(t, "production", rec["env"])
		assert.Equal(t, "v", rec["k"])
		assert.NotContains(t, rec, "source", "source is only added outside production")
	})

	t.Run("Should emit text when configured", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		cfg := &config.AppConfig{Name: "svc", Environment: "development", LogLevel: "debug", LogFormat: "text"}

		NewWithWriter(cfg, &buf).Debug("dbg")

		assert.Contains(t, buf.String(), "msg=dbg")
		assert.Contains(t, buf.String(), "service=svc")
	})

	t.Run("Should filter below the configured level", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		cfg := &config.AppConfig{LogLevel: "warn", LogFormat: "json"}

		l := NewWithWriter(cfg, &buf)
		l.Info("dropped")
		l.Warn("kept")

		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("Should panic on nil config", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { NewWithWriter(nil, &bytes.Buffer{}) })
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "input %q", tt.in)
	}
}

func TestWithStudy(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	WithStudy(base, "button-study", "kittens").Info("x")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "button-study", rec["study"])
	assert.Equal(t, "kittens", rec["branch"])
}

func TestOrDefault(t *testing.T) {
	t.Parallel()

	assert.Same(t, slog.Default(), OrDefault(nil))
	l := Discard()
	assert.Same(t, l, OrDefault(l))
}
