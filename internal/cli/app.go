package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/config"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/controlapi"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/database"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/logger"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/observability"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/prefs"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/schema"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/study"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/telemetry"
)

const poolMonitorInterval = 15 * time.Second

// App is the wired host process: prefs store, telemetry emitter, study engine,
// aliveness runner, control API and admin server.
type App struct {
	cfg *config.Config
	log *slog.Logger

	Store     prefs.Store
	Validator *schema.Validator
	Emitter   *telemetry.Emitter
	Engine    *study.Engine
	Study     study.Config
	Aliveness *study.Aliveness
	API       *controlapi.API

	httpServer *http.Server
	obs        *observability.Server
	checkers   []observability.Checker

	background context.CancelFunc
	closers    []func()
}

// Build wires every component from cfg. Nothing listens yet; call Setup and
// Run. On error, everything already opened is released.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (app *App, err error) {
	log = logger.OrDefault(log)
	ctx = logger.WithContext(ctx, log)

	app = &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	// -------------------------------------------------------------------------
	// 1. Study definition
	// -------------------------------------------------------------------------

	// A bad file fails before any connection is opened.
	raw, err := config.LoadStudyFile(cfg.Study.ConfigFile)
	if err != nil {
		return app, err
	}
	if app.Study, err = study.ParseConfig(raw); err != nil {
		return app, err
	}

	// -------------------------------------------------------------------------
	// 2. Infrastructure (Redis, prefs store)
	// -------------------------------------------------------------------------

	// One client serves both the redis store and the redis transport.
	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient, err = database.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return app, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.onClose(func() { _ = redisClient.Close() })
		app.checkers = append(app.checkers, database.NewRedisChecker(redisClient))
	}

	if app.Store, err = app.openStore(ctx, redisClient); err != nil {
		return app, err
	}

	// -------------------------------------------------------------------------
	// 3. Telemetry (client id, transport, pipeline, emitter)
	// -------------------------------------------------------------------------

	clientID, err := telemetry.ResolveClientID(ctx, app.Store,
		prefs.Key(cfg.Study.Namespace, prefs.KeyClientID), cfg.Study.ClientID)
	if err != nil {
		return app, err
	}

	transport, err := app.transport(redisClient)
	if err != nil {
		return app, err
	}

	var pipeline telemetry.Pipeline = telemetry.NewPlainPipeline(clientID, transport)
	if cfg.Telemetry.EncryptionEnabled() {
		pipeline, err = telemetry.NewEncryptedPipeline(clientID, transport,
			cfg.Telemetry.EncryptionRecipient, cfg.Telemetry.EncryptionKeyID, cfg.Telemetry.PioneerID)
		if err != nil {
			return app, err
		}
	}

	validator, err := schema.New(schema.WithAdhocCapacity(cfg.Study.SchemaCacheCapacity))
	if err != nil {
		return app, err
	}
	app.onClose(validator.Close)
	app.Validator = validator

	emitterOpts := []telemetry.EmitterOption{telemetry.WithAuditLimit(cfg.Study.AuditLimit)}
	if cfg.Study.CaptureAllTelemetry {
		emitterOpts = append(emitterOpts, telemetry.WithCaptureAll())
	}
	app.Emitter = telemetry.NewEmitter(pipeline, validator, log, emitterOpts...)

	// -------------------------------------------------------------------------
	// 4. Study engine and aliveness runner
	// -------------------------------------------------------------------------

	perms := study.NewHostPermissions(study.Permissions{
		Shield:  cfg.Study.PermissionShield,
		Pioneer: cfg.Study.PermissionPioneer,
	})
	engineOpts := []study.Option{
		study.WithLogger(log),
		study.WithNamespace(cfg.Study.Namespace),
		study.WithHostInfo(study.HostInfo{
			AddonVersion:  cfg.Study.AddonVersion,
			UpdateChannel: cfg.Study.UpdateChannel,
			HostVersion:   cfg.Study.HostVersion,
		}),
		study.WithPermissions(perms),
		study.WithExperimentTracker(study.NewStoreTracker(app.Store, cfg.Study.Namespace)),
		study.WithListeners(study.Listeners{
			OnReady: func(info study.Info) {
				log.Info("study ready", slog.String("variation", info.Variation.Name))
			},
			OnEndStudy: func(r study.EndingResult) {
				log.Info("study ended",
					slog.String("ending", r.EndingName),
					slog.Bool("should_uninstall", r.ShouldUninstall),
					slog.Any("urls", r.URLs),
				)
			},
			OnDataPermissionsChange: perms.Update,
		}),
	}
	if cfg.Study.PersistVariation {
		engineOpts = append(engineOpts, study.WithPersistedVariation())
	}
	app.Engine = study.New(validator, app.Emitter, app.Store, engineOpts...)
	app.Aliveness = study.NewAliveness(app.Engine, log, cfg.Study.AlivenessInterval)

	// -------------------------------------------------------------------------
	// 5. Host surfaces (control API, readiness)
	// -------------------------------------------------------------------------

	apiOpts := controlapi.Options{
		SkipAuth:     cfg.Server.APIToken == "",
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		DebugRoutes:  cfg.Server.DebugRoutes,
		Logger:       log,
	}
	if !apiOpts.SkipAuth {
		apiOpts.APIKeyHash = controlapi.HashAPIKey(cfg.Server.APIToken)
	}
	app.API = controlapi.NewAPIWithConfig(app.Engine, apiOpts)

	app.checkers = append(app.checkers, observability.CheckerFunc{
		Component: "study",
		Fn:        app.studyReady,
	})

	return app, nil
}

func (a *App) openStore(ctx context.Context, redisClient *redis.Client) (prefs.Store, error) {
	cfg := a.cfg.Store

	switch cfg.Backend {
	case config.StoreBackendMemory:
		return prefs.NewMemoryStore(), nil

	case config.StoreBackendSQLite:
		s, err := prefs.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = s.Close() })
		a.checkers = append(a.checkers, s)
		return s, nil

	case config.StoreBackendRedis:
		return a.cached(prefs.NewRedisStore(redisClient))

	case config.StoreBackendPostgres:
		pool, err := database.NewPostgresPool(ctx, &a.cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.onClose(pool.Close)
		a.checkers = append(a.checkers, database.NewPostgresChecker(pool))

		monitorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.onClose(cancel)
		go database.RunPoolMonitor(monitorCtx, pool, poolMonitorInterval)

		return a.cached(prefs.NewPostgresStore(pool))
	}

	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

func (a *App) cached(inner prefs.Store) (prefs.Store, error) {
	s, err := prefs.NewCachedStore(inner, a.cfg.Store.CacheCapacity, a.cfg.Store.CacheTTL)
	if err != nil {
		return nil, err
	}
	a.onClose(s.Close)
	return s, nil
}

func (a *App) transport(redisClient *redis.Client) (telemetry.Transport, error) {
	cfg := a.cfg.Telemetry

	switch cfg.Transport {
	case config.TransportNone:
		return telemetry.NopTransport{Logger: a.log}, nil
	case config.TransportHTTP:
		return telemetry.NewHTTPTransport(cfg.Endpoint, cfg.Timeout), nil
	case config.TransportRedis:
		return telemetry.NewRedisStreamTransport(redisClient, cfg.Stream, 0), nil
	}

	return nil, fmt.Errorf("unknown telemetry transport %q", cfg.Transport)
}

// studyReady fails readiness until the study is set up, and after it ended.
func (a *App) studyReady(context.Context) error {
	switch s := a.Engine.State(); s {
	case study.StateRunning, study.StateEnding:
		return nil
	default:
		return fmt.Errorf("study is %s", s)
	}
}

// Setup runs the study setup. An ineligible or expired install ends here.
func (a *App) Setup(ctx context.Context) (study.Info, error) {
	return a.Engine.Setup(ctx, a.Study)
}

// Run serves the control API and the admin server and drives the aliveness
// runner until ctx is cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	// 1. Background workers
	bgCtx, cancel := context.WithCancel(ctx)
	a.background = cancel
	a.Aliveness.Start(bgCtx)

	// 2. Admin server and control API
	if a.cfg.Observability.Enabled {
		a.obs = observability.NewServer(a.log, &a.cfg.Observability, a.checkers...)
		a.obs.Start()
	}

	srv := a.cfg.Server
	a.httpServer = &http.Server{
		Addr:              srv.Address(),
		Handler:           a.API.Router,
		ReadTimeout:       srv.ReadTimeout,
		WriteTimeout:      srv.WriteTimeout,
		ReadHeaderTimeout: srv.ReadHeaderTimeout,
		IdleTimeout:       srv.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		a.log.Info("control api listening", slog.String("addr", srv.Address()))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("control api failed: %w", err)
		}
	}()

	// 3. Graceful shutdown
	var runErr error
	select {
	case runErr = <-errChan:
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	}

	shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.App.ShutdownTimeout)
	defer done()
	return errors.Join(runErr, a.Shutdown(shutdownCtx))
}

// Shutdown stops the servers and the aliveness runner. Close releases the
// connections afterwards.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("control api shutdown: %w", err))
		}
	}
	if a.obs != nil {
		if err := a.obs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
		}
	}
	if a.Aliveness != nil {
		a.Aliveness.Stop()
	}
	if a.background != nil {
		a.background()
	}

	return errors.Join(errs...)
}

// Close releases stores and connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}
