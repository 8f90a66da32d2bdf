// Package study implements the study lifecycle: variation assignment,
// eligibility, state transitions with their telemetry, and the exactly-once
// ending.
//
// The lifecycle decisions live in the pure Transition function; Engine owns
// the mutable state, performs the I/O the transition asks for and serializes
// concurrent callers.
package study

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/logger"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/observability"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/prefs"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/sampling"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/schema"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/surveyurl"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/telemetry"
)

// HostInfo describes the add-on and the application it runs in. It feeds the
// envelope and the survey URL covariates.
type HostInfo struct {
	AddonVersion  string
	UpdateChannel string
	HostVersion   string
}

// Engine is one study instance. Create it with New; it is safe for
// concurrent use.
type Engine struct {
	validator   *schema.Validator
	emitter     *telemetry.Emitter
	store       prefs.Store
	logger      *slog.Logger
	now         func() time.Time
	namespace   string
	host        HostInfo
	hooks       Hooks
	listeners   Listeners
	tracker     ExperimentTracker
	permissions PermissionsProvider

	persistVariation bool

	// setupMu serializes Setup and Reset. mu guards everything below it and
	// is never held across I/O.
	setupMu sync.Mutex
	mu      sync.Mutex

	state             State
	cfg               *Config
	variation         *sampling.Variation
	clientID          string
	isFirstRun        bool
	firstRunTimestamp *int64
	endingRequested   string
	endingResult      *EndingResult
	readyFired        bool
	endFired          bool
	lastPermissions   *Permissions
}

// Option customizes an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = logger.OrDefault(l) } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithNamespace sets the prefix of persisted keys. Default "shield".
func WithNamespace(ns string) Option { return func(e *Engine) { e.namespace = ns } }

func WithHostInfo(h HostInfo) Option { return func(e *Engine) { e.host = h } }

func WithHooks(h Hooks) Option { return func(e *Engine) { e.hooks = h } }

func WithListeners(l Listeners) Option { return func(e *Engine) { e.listeners = l } }

func WithExperimentTracker(t ExperimentTracker) Option { return func(e *Engine) { e.tracker = t } }

// WithPermissions gates first-run enrollment on the host's data permissions.
func WithPermissions(p PermissionsProvider) Option { return func(e *Engine) { e.permissions = p } }

// WithPersistedVariation stores the chosen variation and reuses it on later
// runs (legacy behaviour; hashing already makes the choice stable).
func WithPersistedVariation() Option { return func(e *Engine) { e.persistVariation = true } }

// New creates an engine in the uninitialized state.
func New(validator *schema.Validator, emitter *telemetry.Emitter, store prefs.Store, opts ...Option) *Engine {
	if validator == nil {
		panic("study: validator cannot be nil")
	}
	if emitter == nil {
		panic("study: emitter cannot be nil")
	}
	if store == nil {
		panic("study: store cannot be nil")
	}

	e := &Engine{
		validator: validator,
		emitter:   emitter,
		store:     store,
		logger:    slog.Default(),
		now:       time.Now,
		namespace: "shield",
		state:     StateUninitialized,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Setup validates cfg, assigns the variation and runs the first lifecycle
// transition. It may end the study right away (ineligible, expired); in that
// case OnReady is not fired and the returned Info is still valid.
func (e *Engine) Setup(ctx context.Context, cfg Config) (Info, error) {
	e.setupMu.Lock()
	defer e.setupMu.Unlock()

	if cfg.Endings == nil {
		cfg.Endings = map[string]Ending{}
	}
	if err := e.validator.ValidateOrError(cfg, schema.StudySetup); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	e.mu.Lock()
	current := e.state
	e.mu.Unlock()
	if current != StateUninitialized {
		return Info{}, fmt.Errorf("setup: %w", ErrAlreadySetup)
	}

	clientID, err := e.emitter.Pipeline().TelemetryID(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("failed to resolve telemetry client id: %w", err)
	}

	variation, err := e.decideVariation(ctx, &cfg, clientID)
	if err != nil {
		return Info{}, err
	}

	nowMs := e.now().UnixMilli()
	firstRunTS, isFirstRun, err := e.loadFirstRun(ctx, &cfg, nowMs)
	if err != nil {
		return Info{}, err
	}

	ineligible := false
	if isFirstRun {
		ineligible = !e.eligible(ctx, &cfg, clientID)
	}
	expired := (cfg.Testing.Expired != nil && *cfg.Testing.Expired) ||
		(cfg.Expire != nil && cfg.timeUntilExpire(firstRunTS, nowMs) <= 0)

	e.emitter.Configure(telemetry.Identity{
		StudyName:    cfg.ActiveExperimentName,
		Branch:       variation.Name,
		AddonVersion: e.host.AddonVersion,
		Testing:      !cfg.Telemetry.RemoveTestingFlag,
	}, cfg.Telemetry.Send)

	e.mu.Lock()
	next, effects, err := Transition(e.state, Event{
		Kind:       EventSetup,
		FirstRun:   isFirstRun,
		Ineligible: ineligible,
		Expired:    expired,
	})
	if err != nil {
		e.mu.Unlock()
		return Info{}, fmt.Errorf("setup: %w", err)
	}
	e.state = next
	e.cfg = &cfg
	e.variation = &variation
	e.clientID = clientID
	e.isFirstRun = isFirstRun
	e.firstRunTimestamp = &firstRunTS
	info := e.infoLocked(nowMs)
	e.mu.Unlock()

	observability.StudyTransitionsTotal.WithLabelValues(string(next)).Inc()
	e.logger.Info("study setup",
		slog.String("study", cfg.ActiveExperimentName),
		slog.String("branch", variation.Name),
		slog.Bool("first_run", isFirstRun),
		slog.Bool("ineligible", ineligible),
		slog.Bool("expired", expired),
	)

	run := &effectRun{info: info}
	if err := e.execute(ctx, effects, run); err != nil {
		return info, err
	}
	return info, nil
}

// EndStudy ends the study exactly once.
//
// The first caller claims the ending; concurrent callers get a *ConflictError
// until it completes. Afterwards the same name returns the cached result and
// a different name is a conflict. The ending runs to completion even if ctx
// is cancelled.
func (e *Engine) EndStudy(ctx context.Context, endingName string) (EndingResult, error) {
	e.mu.Lock()
	if e.state == StateUninitialized {
		e.mu.Unlock()
		return EndingResult{}, fmt.Errorf("endStudy: %w", ErrNotSetup)
	}

	ending, bucket, ok := e.cfg.resolveEnding(endingName)
	if !ok {
		e.mu.Unlock()
		return EndingResult{}, fmt.Errorf("endStudy: %w: %q", ErrUnknownEnding, endingName)
	}

	next, effects, err := Transition(e.state, Event{Kind: EventEnd, Ending: endingName, Bucket: bucket})
	if err != nil {
		defer e.mu.Unlock()
		if errors.Is(err, errEnded) && endingName == e.endingRequested {
			return cloneResult(*e.endingResult), nil
		}
		return EndingResult{}, &ConflictError{Requested: endingName, Current: e.endingRequested}
	}

	e.state = next
	e.endingRequested = endingName
	info := e.infoLocked(e.now().UnixMilli())
	args := e.covariatesLocked().QueryArgs().WithReason(bucket, endingName)
	e.mu.Unlock()

	observability.StudyTransitionsTotal.WithLabelValues(string(next)).Inc()
	e.logger.Info("study ending",
		slog.String("ending", endingName),
		slog.String("bucket", bucket),
	)

	ctx = context.WithoutCancel(ctx)
	run := &effectRun{
		info:   info,
		ending: ending,
		result: EndingResult{
			EndingName:      endingName,
			ShouldUninstall: true,
			URLs:            []string{},
			QueryArgs:       args,
		},
	}
	_ = e.execute(ctx, effects, run)

	e.mu.Lock()
	next, effects, err = Transition(e.state, Event{Kind: EventEndComplete})
	if err != nil {
		// Only Reset can move the state away from ending.
		e.mu.Unlock()
		return EndingResult{}, fmt.Errorf("endStudy: %w", err)
	}
	e.state = next
	result := run.result
	e.endingResult = &result
	e.mu.Unlock()

	observability.StudyTransitionsTotal.WithLabelValues(string(next)).Inc()
	observability.StudyEndingsTotal.WithLabelValues(bucket).Inc()
	e.logger.Info("study ended", slog.String("ending", endingName), slog.Int("urls", len(result.URLs)))

	_ = e.execute(ctx, effects, run)
	return cloneResult(result), nil
}

// StudyInfo reports the current study facts.
func (e *Engine) StudyInfo(_ context.Context) (Info, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateUninitialized {
		return Info{}, fmt.Errorf("getStudyInfo: %w", ErrNotSetup)
	}
	return e.infoLocked(e.now().UnixMilli()), nil
}

// SendTelemetry emits feature data as a shield-study-addon ping. Values must
// be strings; use telemetry.FlattenObject for nested data. An empty id means
// the ping was not submitted.
func (e *Engine) SendTelemetry(ctx context.Context, payload map[string]string) (string, error) {
	if err := e.requireRunning("sendTelemetry"); err != nil {
		return "", err
	}
	return e.emitter.SendAddon(ctx, payload)
}

// CalculateTelemetryPingSize returns the byte size of the ping SendTelemetry
// would submit for payload.
func (e *Engine) CalculateTelemetryPingSize(_ context.Context, payload map[string]string) (int, error) {
	if err := e.requireSetup("calculateTelemetryPingSize"); err != nil {
		return 0, err
	}
	if payload == nil {
		payload = map[string]string{}
	}
	return e.emitter.PingSize(telemetry.BucketAddon, telemetry.AddonData{Attributes: payload})
}

// SearchSentTelemetry queries the audit trail, newest first.
func (e *Engine) SearchSentTelemetry(_ context.Context, q telemetry.SearchQuery) ([]telemetry.SentPing, error) {
	return e.emitter.Audit().Search(q), nil
}

// ValidateJSON validates data against an arbitrary schema document.
func (e *Engine) ValidateJSON(data, schemaDoc any) (schema.Result, error) {
	return e.validator.Validate(data, schemaDoc)
}

// NotifyDataPermissions records the host's permissions and fires
// OnDataPermissionsChange when they differ from the last known value.
func (e *Engine) NotifyDataPermissions(_ context.Context, p Permissions) {
	e.mu.Lock()
	changed := e.lastPermissions == nil || *e.lastPermissions != p
	e.lastPermissions = &p
	e.mu.Unlock()

	if changed && e.listeners.OnDataPermissionsChange != nil {
		e.safeListener("onDataPermissionsChange", func() { e.listeners.OnDataPermissionsChange(p) })
	}
}

// CheckAliveness is one tick of the aliveness runner: it ends an expired study
// through EndStudy, and sends the daily "active" ping when newDay is set.
// It reports whether the study is still running afterwards.
func (e *Engine) CheckAliveness(ctx context.Context, newDay bool) (bool, error) {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return false, nil
	}
	cfg := e.cfg
	expired := (cfg.Testing.Expired != nil && *cfg.Testing.Expired) ||
		cfg.timeUntilExpire(*e.firstRunTimestamp, e.now().UnixMilli()) <= 0
	_, effects, err := Transition(e.state, Event{Kind: EventAliveness, Expired: expired, NewDay: newDay})
	e.mu.Unlock()
	if err != nil {
		return false, err
	}

	if err := e.execute(ctx, effects, &effectRun{}); err != nil {
		if errors.Is(err, ErrEndingConflict) {
			return false, nil
		}
		return false, err
	}
	return !expired, nil
}

// Reset returns the engine to its uninitialized state, clears the audit trail
// and deletes the persisted keys. Debug and tests only.
func (e *Engine) Reset(ctx context.Context) error {
	e.setupMu.Lock()
	defer e.setupMu.Unlock()

	e.mu.Lock()
	e.state, _, _ = Transition(e.state, Event{Kind: EventReset})
	e.cfg = nil
	e.variation = nil
	e.clientID = ""
	e.isFirstRun = false
	e.firstRunTimestamp = nil
	e.endingRequested = ""
	e.endingResult = nil
	e.readyFired = false
	e.endFired = false
	e.mu.Unlock()

	e.emitter.Reset()

	return errors.Join(
		e.store.Delete(ctx, e.key(prefs.KeyFirstRunTimestamp)),
		e.store.Delete(ctx, e.key(prefs.KeyVariation)),
	)
}

// SetFirstRunTimestamp persists ts (milliseconds) as the first-run timestamp.
// Debug and tests only.
func (e *Engine) SetFirstRunTimestamp(ctx context.Context, ts int64) error {
	if err := e.store.Set(ctx, e.key(prefs.KeyFirstRunTimestamp), strconv.FormatInt(ts, 10)); err != nil {
		return fmt.Errorf("failed to persist first run timestamp: %w", err)
	}
	e.mu.Lock()
	if e.state != StateUninitialized {
		e.firstRunTimestamp = &ts
	}
	e.mu.Unlock()
	return nil
}

// Internals returns a debug snapshot.
func (e *Engine) Internals() Internals {
	e.mu.Lock()
	defer e.mu.Unlock()

	in := Internals{
		State:           string(e.state),
		Variation:       e.variation,
		StudyConfig:     e.cfg,
		IsFirstRun:      e.isFirstRun,
		IsSetup:         e.state != StateUninitialized,
		IsEnding:        e.state == StateEnding || e.state == StateEnded,
		IsEnded:         e.state == StateEnded,
		EndingRequested: e.endingRequested,
		SeenTelemetry:   e.emitter.Audit().All(),
	}
	if e.firstRunTimestamp != nil {
		ts := *e.firstRunTimestamp
		in.FirstRunTimestamp = &ts
	}
	if e.endingResult != nil {
		r := cloneResult(*e.endingResult)
		in.EndingReturned = &r
	}
	return in
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) requireSetup(method string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateUninitialized {
		return fmt.Errorf("%s: %w", method, ErrNotSetup)
	}
	return nil
}

func (e *Engine) requireRunning(method string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateUninitialized:
		return fmt.Errorf("%s: %w", method, ErrNotSetup)
	case StateEnding, StateEnded:
		return fmt.Errorf("%s: %w", method, ErrStudyEnded)
	}
	return nil
}

func (e *Engine) key(name string) string {
	return prefs.Key(e.namespace, name)
}

func (e *Engine) infoLocked(nowMs int64) Info {
	return Info{
		ActiveExperimentName: e.cfg.ActiveExperimentName,
		StudyType:            e.cfg.StudyType,
		IsFirstRun:           e.isFirstRun,
		FirstRunTimestamp:    *e.firstRunTimestamp,
		Variation:            *e.variation,
		ShieldID:             e.clientID,
		TimeUntilExpire:      e.cfg.timeUntilExpire(*e.firstRunTimestamp, nowMs),
	}
}

func (e *Engine) covariatesLocked() surveyurl.Covariates {
	return surveyurl.Covariates{
		Study:         e.cfg.ActiveExperimentName,
		Variation:     e.variation.Name,
		UpdateChannel: e.host.UpdateChannel,
		HostVersion:   e.host.HostVersion,
		AddonVersion:  e.host.AddonVersion,
		ClientID:      e.clientID,
	}
}

// decideVariation applies, in order: the testing override, the persisted
// legacy choice, the DecideVariation hook, and deterministic hashing.
func (e *Engine) decideVariation(ctx context.Context, cfg *Config, clientID string) (sampling.Variation, error) {
	if name := cfg.Testing.VariationName; name != nil && *name != "" {
		v, ok := cfg.variationByName(*name)
		if !ok {
			return sampling.Variation{}, fmt.Errorf("%w: testing.variationName %q is not one of the weighted variations", ErrUnknownVariation, *name)
		}
		return v, nil
	}

	if e.persistVariation {
		stored, ok, err := e.store.Get(ctx, e.key(prefs.KeyVariation))
		if err != nil {
			return sampling.Variation{}, fmt.Errorf("failed to read persisted variation: %w", err)
		}
		if v, known := cfg.variationByName(stored); ok && known {
			return v, nil
		}
	}

	v, decided := e.variationFromHook(ctx, cfg)
	if !decided {
		var err error
		if v, _, err = AssignVariation(cfg, clientID); err != nil {
			return sampling.Variation{}, err
		}
	}

	if e.persistVariation {
		if err := e.store.Set(ctx, e.key(prefs.KeyVariation), v.Name); err != nil {
			return sampling.Variation{}, fmt.Errorf("failed to persist variation: %w", err)
		}
	}
	return v, nil
}

func (e *Engine) variationFromHook(ctx context.Context, cfg *Config) (sampling.Variation, bool) {
	if e.hooks.DecideVariation == nil {
		return sampling.Variation{}, false
	}

	var name string
	err := isolate(func() error {
		var err error
		name, err = e.hooks.DecideVariation(ctx, slices.Clone(cfg.WeightedVariations))
		return err
	})
	if err != nil {
		observability.StudyHookFailuresTotal.WithLabelValues("decideVariation").Inc()
		e.logger.Error("decideVariation hook failed, falling back to hashing", slog.String("error", err.Error()))
		return sampling.Variation{}, false
	}

	v, ok := cfg.variationByName(name)
	if !ok {
		e.logger.Warn("decideVariation returned an unknown variation, falling back to hashing", slog.String("variation", name))
	}
	return v, ok
}

// loadFirstRun returns the first-run timestamp and whether this is the first
// run. Only the absence of both the testing override and the persisted value
// means first run; a zero override is a real timestamp.
func (e *Engine) loadFirstRun(ctx context.Context, cfg *Config, nowMs int64) (int64, bool, error) {
	if ts := cfg.Testing.FirstRunTimestamp; ts != nil {
		return *ts, false, nil
	}

	raw, ok, err := e.store.Get(ctx, e.key(prefs.KeyFirstRunTimestamp))
	if err != nil {
		return 0, false, fmt.Errorf("failed to read first run timestamp: %w", err)
	}
	if !ok {
		return nowMs, true, nil
	}

	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.logger.Warn("ignoring corrupt first run timestamp", slog.String("value", raw))
		return nowMs, true, nil
	}
	return ts, false, nil
}

// eligible combines allowEnroll, the rollout percentage and data permissions.
func (e *Engine) eligible(ctx context.Context, cfg *Config, clientID string) bool {
	if !cfg.AllowEnroll {
		return false
	}

	if !InEnrollment(cfg, clientID) {
		e.logger.Info("install outside enrollment percentage", slog.Int("percent", *cfg.EnrollmentPercent))
		return false
	}

	if e.permissions != nil {
		perms, err := e.permissions.DataPermissions(ctx)
		if err != nil {
			e.logger.Warn("cannot read data permissions, treating as ineligible", slog.String("error", err.Error()))
			return false
		}
		e.mu.Lock()
		e.lastPermissions = &perms
		e.mu.Unlock()
		if !perms.Allows(cfg.StudyType) {
			return false
		}
	}
	return true
}

func cloneResult(r EndingResult) EndingResult {
	r.URLs = slices.Clone(r.URLs)
	r.QueryArgs = maps.Clone(r.QueryArgs)
	return r
}
