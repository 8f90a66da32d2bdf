package study

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/logger"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/observability"
)

// Aliveness periodically ends an expired study and sends the daily "active"
// ping when the UTC day changes.
type Aliveness struct {
	engine   *Engine
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastDay string
}

// NewAliveness creates a runner for engine. An interval below one second
// falls back to five minutes.
func NewAliveness(engine *Engine, log *slog.Logger, interval time.Duration) *Aliveness {
	if engine == nil {
		panic("study: engine cannot be nil")
	}
	if interval < time.Second {
		interval = 5 * time.Minute
	}
	return &Aliveness{
		engine:   engine,
		logger:   logger.OrDefault(log),
		interval: interval,
		now:      engine.now,
	}
}

// Run blocks until ctx is cancelled or the study is no longer running.
func (a *Aliveness) Run(ctx context.Context) error {
	a.logger.Info("starting aliveness checks", slog.String("interval", a.interval.String()))

	a.mu.Lock()
	a.lastDay = a.day()
	a.mu.Unlock()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	// Check once on startup: a study may have expired while the host was down.
	if !a.Tick(ctx) {
		a.logger.Info("study no longer running, aliveness checks stopped")
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("aliveness checks stopping...")
			return nil
		case <-ticker.C:
			if !a.Tick(ctx) {
				a.logger.Info("study no longer running, aliveness checks stopped")
				return nil
			}
		}
	}
}

// Tick performs one check and reports whether the study is still running.
func (a *Aliveness) Tick(ctx context.Context) bool {
	a.mu.Lock()
	today := a.day()
	newDay := a.lastDay != "" && today != a.lastDay
	a.lastDay = today
	a.mu.Unlock()

	running, err := a.engine.CheckAliveness(ctx, newDay)
	switch {
	case err != nil:
		observability.StudyAlivenessChecks.WithLabelValues("error").Inc()
		a.logger.Error("aliveness check failed", slog.String("error", err.Error()))
		return true
	case running:
		observability.StudyAlivenessChecks.WithLabelValues("alive").Inc()
		return true
	default:
		observability.StudyAlivenessChecks.WithLabelValues("stopped").Inc()
		return false
	}
}

// Start runs the loop in a goroutine. A second Start is a no-op.
func (a *Aliveness) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		_ = a.Run(ctx)
	}(a.done)
}

// Stop cancels the loop and waits for it to return. Safe to call more than once.
func (a *Aliveness) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *Aliveness) day() string {
	return a.now().UTC().Format(time.DateOnly)
}
