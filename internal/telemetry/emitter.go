package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/logger"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/observability"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/schema"
)

// ErrNotConfigured is returned by sending methods before Configure.
var ErrNotConfigured = errors.New("this method can't be used until setup is called")

// ErrorIDValidation is the error_id of the report sent in place of a ping that
// failed schema validation.
const ErrorIDValidation = "jsonschema-validation"

// Emitter builds, validates and submits pings and keeps the audit trail.
// It is safe for concurrent use.
type Emitter struct {
	pipeline  Pipeline
	validator *schema.Validator
	logger    *slog.Logger
	now       func() time.Time
	audit     Audit

	mu         sync.RWMutex
	identity   *Identity
	send       bool
	captureAll bool
}

// EmitterOption customizes an Emitter.
type EmitterOption func(*Emitter)

// WithClock overrides time.Now for audit timestamps.
func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) { e.now = now }
}

// WithCaptureAll records every ping in the audit trail, even unsent
// shield-study-addon pings.
func WithCaptureAll() EmitterOption {
	return func(e *Emitter) { e.captureAll = true }
}

// WithAuditLimit caps the audit trail at n pings. n <= 0 keeps DefaultAuditLimit.
func WithAuditLimit(n int) EmitterOption {
	return func(e *Emitter) { e.audit.limit = n }
}

// NewEmitter creates an unconfigured emitter.
func NewEmitter(pipeline Pipeline, validator *schema.Validator, log *slog.Logger, opts ...EmitterOption) *Emitter {
	if pipeline == nil {
		panic("telemetry: pipeline cannot be nil")
	}
	if validator == nil {
		panic("telemetry: validator cannot be nil")
	}

	e := &Emitter{
		pipeline:  pipeline,
		validator: validator,
		logger:    logger.OrDefault(log),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Configure fixes the envelope identity and the send flag. Until it is called
// every sending method fails with ErrNotConfigured.
func (e *Emitter) Configure(id Identity, send bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.identity = &id
	e.send = send
}

// Reset returns the emitter to its unconfigured state and clears the audit trail.
func (e *Emitter) Reset() {
	e.mu.Lock()
	e.identity = nil
	e.send = false
	e.mu.Unlock()
	e.audit.Clear()
}

// Configured reports whether Configure has been called.
func (e *Emitter) Configured() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.identity != nil
}

// Audit exposes the trail of seen pings.
func (e *Emitter) Audit() *Audit {
	return &e.audit
}

// Pipeline returns the underlying pipeline.
func (e *Emitter) Pipeline() Pipeline {
	return e.pipeline
}

// Send emits data under bucket and returns the ping id.
//
// An empty id with a nil error means the ping was not submitted: it was
// suppressed (send=false), replaced by an error report, or dropped because of
// a library or transport fault. The only error returned is ErrNotConfigured.
func (e *Emitter) Send(ctx context.Context, bucket string, data any) (string, error) {
	e.mu.RLock()
	identity, send, captureAll := e.identity, e.send, e.captureAll
	e.mu.RUnlock()

	if identity == nil {
		return "", ErrNotConfigured
	}

	log := e.logger.With(slog.String("bucket", bucket))
	payload := identity.envelope(bucket, data)

	res, err := e.validator.ValidateNamed(payload, bucket)
	if err != nil {
		observability.TelemetryPingsTotal.WithLabelValues(bucket, observability.OutcomeFailed).Inc()
		log.Error("cannot validate ping, dropping it", slog.String("error", err.Error()))
		return "", nil
	}

	if !res.Valid {
		observability.TelemetryPingsTotal.WithLabelValues(bucket, observability.OutcomeInvalid).Inc()
		if bucket == BucketError {
			log.Error("error report failed validation, giving up", slog.String("errors", res.Summary()))
			return "", nil
		}
		log.Warn("ping failed validation, sending error report instead", slog.String("errors", res.Summary()))
		return e.SendError(ctx, ErrorReport{
			ErrorID:     ErrorIDValidation,
			ErrorSource: SourceAddon,
			Severity:    SeverityFatal,
			Message:     res.Summary(),
			Error: map[string]any{
				"bucket": bucket,
				"errors": res.Errors,
			},
		})
	}

	if !send {
		if bucket == BucketStudy || bucket == BucketError || captureAll {
			e.audit.Record(SentPing{Type: bucket, Timestamp: e.now(), Payload: payload})
		}
		observability.TelemetryPingsTotal.WithLabelValues(bucket, observability.OutcomeSuppress).Inc()
		log.Debug("telemetry sending disabled, ping not submitted")
		return "", nil
	}

	start := time.Now()
	id, err := e.pipeline.Submit(ctx, bucket, payload)
	observability.TelemetrySubmitDuration.WithLabelValues(e.pipeline.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.TelemetryPingsTotal.WithLabelValues(bucket, observability.OutcomeFailed).Inc()
		log.Warn("ping submission failed", slog.String("error", err.Error()))
		return "", nil
	}

	e.audit.Record(SentPing{ID: id, Type: bucket, Timestamp: e.now(), Payload: payload})
	observability.TelemetryPingsTotal.WithLabelValues(bucket, observability.OutcomeSent).Inc()
	log.Debug("ping submitted", slog.String("ping_id", id))
	return id, nil
}

// SendState emits a shield-study ping. fullname may be empty.
func (e *Emitter) SendState(ctx context.Context, state, fullname string) (string, error) {
	return e.Send(ctx, BucketStudy, StateData{StudyState: state, Fullname: fullname})
}

// SendAddon emits feature data as shield-study-addon attributes.
func (e *Emitter) SendAddon(ctx context.Context, attributes map[string]string) (string, error) {
	if attributes == nil {
		attributes = map[string]string{}
	}
	return e.Send(ctx, BucketAddon, AddonData{Attributes: attributes})
}

// SendError emits a shield-study-error ping.
func (e *Emitter) SendError(ctx context.Context, report ErrorReport) (string, error) {
	return e.Send(ctx, BucketError, report)
}

// PingSize returns the byte size the pipeline would send for data under bucket.
func (e *Emitter) PingSize(bucket string, data any) (int, error) {
	e.mu.RLock()
	identity := e.identity
	e.mu.RUnlock()

	if identity == nil {
		return 0, ErrNotConfigured
	}
	return e.pipeline.PingSize(bucket, identity.envelope(bucket, data))
}
