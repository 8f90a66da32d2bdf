package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NOTE: All metrics are defined globally here and registered on the default
// registry at init. Tests assert deltas, never absolute values.

// namespace defines the global prefix for all metrics (e.g., shield_...).
const namespace = "shield"

// submitBuckets covers a local Redis XADD (sub-millisecond) up to a slow
// remote ingestion endpoint.
var submitBuckets = []float64{.001, .005, .010, .025, .050, .100, .250, .500, 1, 2.5, 5}

// Ping outcomes recorded in TelemetryPingsTotal.
const (
	OutcomeSent     = "sent"
	OutcomeSuppress = "suppressed" // send=false, audit trail only
	OutcomeInvalid  = "invalid"    // failed schema validation
	OutcomeFailed   = "failed"     // transport or library fault
)

var (
	// -------------------------------------------------------------------------
	// CONTROL API (HTTP)
	// -------------------------------------------------------------------------

	// ControlAPIReqDuration measures the latency of HTTP requests.
	// Metric: shield_control_api_http_handling_seconds
	ControlAPIReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_api",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in the control API",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// ControlAPIReqTotal counts the total number of HTTP requests.
	// Metric: shield_control_api_http_requests_total
	ControlAPIReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_api",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in the control API",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// TELEMETRY
	// -------------------------------------------------------------------------

	// TelemetryPingsTotal counts pings by bucket (shield-study, shield-study-addon,
	// shield-study-error) and outcome.
	// Metric: shield_telemetry_pings_total
	TelemetryPingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "telemetry",
		Name:      "pings_total",
		Help:      "Total telemetry pings by bucket and outcome",
	}, []string{"bucket", "outcome"})

	// TelemetrySubmitDuration measures how long the pipeline took to accept a ping.
	// Metric: shield_telemetry_submit_duration_seconds
	TelemetrySubmitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "telemetry",
		Name:      "submit_duration_seconds",
		Help:      "Time taken to hand a ping to the telemetry pipeline",
		Buckets:   submitBuckets,
	}, []string{"pipeline"})

	// -------------------------------------------------------------------------
	// STUDY LIFECYCLE
	// -------------------------------------------------------------------------

	// StudyEndingsTotal counts completed endings by canonical category.
	StudyEndingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "study",
		Name:      "endings_total",
		Help:      "Total study endings by category",
	}, []string{"category"})

	// StudyHookFailuresTotal counts add-on hooks that returned an error or panicked.
	StudyHookFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "study",
		Name:      "hook_failures_total",
		Help:      "Total study hook failures (errors and recovered panics)",
	}, []string{"hook"})

	// StudyTransitionsTotal counts lifecycle transitions by target state.
	StudyTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "study",
		Name:      "transitions_total",
		Help:      "Total lifecycle state transitions by target state",
	}, []string{"state"})

	// StudyAlivenessChecks counts aliveness ticks by result (alive, stopped, error).
	StudyAlivenessChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "study",
		Name:      "aliveness_checks_total",
		Help:      "Total aliveness checks by result",
	}, []string{"result"})

	// -------------------------------------------------------------------------
	// PREFS (L1 cache)
	// -------------------------------------------------------------------------

	PrefsCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "prefs",
		Name:      "l1_cache_hits_total",
		Help:      "Total prefs L1 cache hits (in-memory)",
	})

	PrefsCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "prefs",
		Name:      "l1_cache_misses_total",
		Help:      "Total prefs L1 cache misses",
	})

	// -------------------------------------------------------------------------
	// DATABASE (pgx pool, postgres prefs backend)
	// -------------------------------------------------------------------------

	// DatabasePoolConnections reports pool connections by state (max, total, idle, in_use).
	DatabasePoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_connections",
		Help:      "Database pool connections by state",
	}, []string{"state"})

	// DatabasePoolAcquireCount mirrors pgxpool's cumulative acquire count.
	DatabasePoolAcquireCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_count",
		Help:      "Cumulative successful connection acquisitions",
	})
)
