// Package controlapi implements the REST API through which the host
// application drives a study: setup facts, endings, telemetry and data
// permissions.
package controlapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/logger"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/schema"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/study"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/telemetry"
)

// Study is the part of *study.Engine the API serves.
type Study interface {
	StudyInfo(ctx context.Context) (study.Info, error)
	EndStudy(ctx context.Context, endingName string) (study.EndingResult, error)
	SendTelemetry(ctx context.Context, payload map[string]string) (string, error)
	CalculateTelemetryPingSize(ctx context.Context, payload map[string]string) (int, error)
	SearchSentTelemetry(ctx context.Context, q telemetry.SearchQuery) ([]telemetry.SentPing, error)
	ValidateJSON(data, schemaDoc any) (schema.Result, error)
	NotifyDataPermissions(ctx context.Context, p study.Permissions)

	Reset(ctx context.Context) error
	SetFirstRunTimestamp(ctx context.Context, ts int64) error
	Internals() study.Internals
}

// Options tunes NewAPIWithConfig.
type Options struct {
	// APIKeyHash is the hex SHA-256 of the bearer token. Required unless SkipAuth.
	APIKeyHash string

	// SkipAuth disables authentication (loopback hosts and tests).
	SkipAuth bool

	// MaxBodyBytes caps request bodies. Zero means 1 MiB.
	MaxBodyBytes int64

	// DebugRoutes mounts /api/v1/debug.
	DebugRoutes bool

	Logger *slog.Logger
}

// API holds the router and its dependencies.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	study  Study
	opts   Options
	logger *slog.Logger
}

// NewAPI creates an API with authentication enabled.
// Panics if apiKeyHash is empty.
func NewAPI(svc Study, apiKeyHash string) *API {
	return NewAPIWithConfig(svc, Options{APIKeyHash: apiKeyHash})
}

// NewAPIWithConfig creates an API with explicit options.
func NewAPIWithConfig(svc Study, opts Options) *API {
	if svc == nil {
		panic("controlapi: study cannot be nil")
	}
	if !opts.SkipAuth && opts.APIKeyHash == "" {
		panic("controlapi: apiKeyHash cannot be empty when authentication is enabled")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	api := &API{
		Router: chi.NewRouter(),
		study:  svc,
		opts:   opts,
		logger: logger.OrDefault(opts.Logger),
	}
	api.configureRoutes()
	return api
}

// HashAPIKey returns the hex SHA-256 of key, the form NewAPI expects.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger(a.logger))
	a.Router.Use(Metrics)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(middleware.RequestSize(a.opts.MaxBodyBytes))
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)

		r.Route("/study", func(r chi.Router) {
			r.Get("/", a.handleStudyInfo)
			r.Post("/end", a.handleEndStudy)
		})

		r.Route("/telemetry", func(r chi.Router) {
			r.Post("/", a.handleSendTelemetry)
			r.Post("/size", a.handlePingSize)
			r.Get("/sent", a.handleSearchSent)
		})

		r.Post("/permissions", a.handlePermissions)
		r.Post("/validate", a.handleValidate)

		if a.opts.DebugRoutes {
			r.Route("/debug", func(r chi.Router) {
				r.Get("/internals", a.handleInternals)
				r.Post("/reset", a.handleReset)
				r.Put("/first-run-timestamp", a.handleFirstRunTimestamp)
			})
		}
	})
}

func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
