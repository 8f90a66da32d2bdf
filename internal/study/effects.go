package study

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/observability"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/prefs"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/surveyurl"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/telemetry"
)

// effectRun carries the data effects of one transition share.
type effectRun struct {
	info   Info
	ending Ending
	result EndingResult
}

// execute runs effects in order. Only a RequestEnd can fail the run; every
// other effect logs its own failure and lets the lifecycle continue.
func (e *Engine) execute(ctx context.Context, effects []Effect, run *effectRun) error {
	for _, eff := range effects {
		switch eff.Kind {
		case EffectSendState:
			if _, err := e.emitter.SendState(ctx, eff.StudyState, eff.Fullname); err != nil {
				e.logger.Warn("cannot send state ping", slog.String("state", eff.StudyState), slog.String("error", err.Error()))
			}

		case EffectPersistFirst:
			e.persistFirstRun(ctx, run.info.FirstRunTimestamp)

		case EffectSetActive:
			if e.tracker != nil {
				if err := e.tracker.SetActive(ctx, run.info.ActiveExperimentName, run.info.Variation.Name); err != nil {
					e.logger.Warn("cannot mark experiment active", slog.String("error", err.Error()))
				}
			}

		case EffectUnsetActive:
			if e.tracker != nil {
				if err := e.tracker.SetInactive(ctx, run.info.ActiveExperimentName); err != nil {
					e.logger.Warn("cannot mark experiment inactive", slog.String("error", err.Error()))
				}
			}

		case EffectRunHook:
			e.runHook(ctx, eff.Hook, run)

		case EffectBuildURLs:
			urls, err := surveyurl.EndingURLs(run.ending.BaseURLs, run.ending.ExactURLs, run.result.QueryArgs)
			if err != nil {
				e.logger.Warn("some ending urls could not be built", slog.String("error", err.Error()))
			}
			run.result.URLs = urls

		case EffectRequestEnd:
			if _, err := e.EndStudy(ctx, eff.Ending); err != nil {
				return err
			}

		case EffectFireReady:
			e.mu.Lock()
			fire := !e.readyFired
			e.readyFired = true
			e.mu.Unlock()
			if fire && e.listeners.OnReady != nil {
				info := run.info
				e.safeListener("onReady", func() { e.listeners.OnReady(info) })
			}

		case EffectFireEndStudy:
			e.mu.Lock()
			fire := !e.endFired
			e.endFired = true
			e.mu.Unlock()
			if fire && e.listeners.OnEndStudy != nil {
				result := cloneResult(run.result)
				e.safeListener("onEndStudy", func() { e.listeners.OnEndStudy(result) })
			}
		}
	}
	return nil
}

func (e *Engine) persistFirstRun(ctx context.Context, ts int64) {
	err := e.store.Set(ctx, e.key(prefs.KeyFirstRunTimestamp), strconv.FormatInt(ts, 10))
	if err == nil {
		return
	}
	e.logger.Error("cannot persist first run timestamp", slog.String("error", err.Error()))
	_, _ = e.emitter.SendError(ctx, telemetry.ErrorReport{
		ErrorID:     "prefs-write",
		ErrorSource: telemetry.SourceShield,
		Severity:    telemetry.SeverityImpaired,
		Message:     err.Error(),
	})
}

// runHook calls one study hook with panic and error isolation. A failure is
// reported as a fatal error ping and never stops the lifecycle.
func (e *Engine) runHook(ctx context.Context, hook HookName, run *effectRun) {
	var fn func() error
	switch hook {
	case HookInstalled:
		if h := e.hooks.OnInstalled; h != nil {
			fn = func() error { return h(ctx, run.info) }
		}
	case HookIneligible:
		if h := e.hooks.OnIneligible; h != nil {
			fn = func() error { return h(ctx, run.info) }
		}
	case HookExpired:
		if h := e.hooks.OnExpired; h != nil {
			fn = func() error { return h(ctx, run.info) }
		}
	case HookCleanup:
		if h := e.hooks.OnCleanup; h != nil {
			result := cloneResult(run.result)
			fn = func() error { return h(ctx, result) }
		}
	}
	if fn == nil {
		return
	}

	err := isolate(fn)
	if err == nil {
		return
	}

	observability.StudyHookFailuresTotal.WithLabelValues(string(hook)).Inc()
	e.logger.Error("study hook failed", slog.String("hook", string(hook)), slog.String("error", err.Error()))
	_, _ = e.emitter.SendError(ctx, telemetry.ErrorReport{
		ErrorID:     "hook-" + string(hook),
		ErrorSource: telemetry.SourceAddon,
		Severity:    telemetry.SeverityFatal,
		Message:     err.Error(),
		Error:       map[string]any{"hook": string(hook)},
	})
}

// safeListener calls a collaborator callback, logging a panic instead of
// propagating it.
func (e *Engine) safeListener(name string, fn func()) {
	if err := isolate(func() error { fn(); return nil }); err != nil {
		e.logger.Error("listener failed", slog.String("listener", name), slog.String("error", err.Error()))
	}
}

// isolate runs fn and converts a panic into an error.
func isolate(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
