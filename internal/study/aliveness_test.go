package study

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/logger"
)

func TestAliveness_Tick(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Arrange
	h := newHarness(t)
	_, err := h.engine.Setup(ctx, baseConfig())
	require.NoError(t, err)
	a := NewAliveness(h.engine, logger.Discard(), time.Hour)

	// Act + Assert
	assert.True(t, a.Tick(ctx), "first tick only records the day")
	h.clock.Advance(time.Hour)
	assert.True(t, a.Tick(ctx))
	assert.Equal(t, []string{PingEnter, PingInstalled}, h.states())

	h.clock.Advance(24 * time.Hour)
	assert.True(t, a.Tick(ctx))
	assert.Equal(t, []string{PingEnter, PingInstalled, PingActive}, h.states())

	h.clock.Advance(14 * 24 * time.Hour)
	assert.False(t, a.Tick(ctx))
	assert.Equal(t, []string{PingEnter, PingInstalled, PingActive, EndingExpired, PingExit}, h.states())
	assert.Equal(t, StateEnded, h.engine.State())
}

func TestAliveness_RunStopsWhenStudyEnds(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Arrange
	h := newHarness(t)
	_, err := h.engine.Setup(ctx, baseConfig())
	require.NoError(t, err)
	h.clock.Advance(15 * 24 * time.Hour)
	a := NewAliveness(h.engine, logger.Discard(), time.Minute)

	// Act
	err = a.Run(ctx)

	// Assert
	require.NoError(t, err)
	assert.NoError(t, ctx.Err(), "run should return before the deadline")
	assert.Equal(t, EndingExpired, h.engine.Internals().EndingRequested)
}

func TestAliveness_StartStop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t)
	_, err := h.engine.Setup(ctx, baseConfig())
	require.NoError(t, err)
	a := NewAliveness(h.engine, logger.Discard(), time.Minute)

	a.Start(ctx)
	a.Start(ctx)
	a.Stop()
	a.Stop()

	assert.Equal(t, StateRunning, h.engine.State())
}

func TestNewAliveness_DefaultInterval(t *testing.T) {
	t.Parallel()

	a := NewAliveness(newHarness(t).engine, nil, 0)

	assert.Equal(t, 5*time.Minute, a.interval)
	assert.Panics(t, func() { NewAliveness(nil, nil, time.Second) })
}
