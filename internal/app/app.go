// Package app provides application-level wiring and dependency injection
// for the log-ingest server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"log-ingest/internal/api"
	"log-ingest/internal/cache"
	"log-ingest/internal/config"
	"log-ingest/internal/coord"
	internaldb "log-ingest/internal/db"
	"log-ingest/internal/db/repository"
	"log-ingest/internal/metrics"
	"log-ingest/internal/middleware"
	"log-ingest/internal/service/alerts"
	"log-ingest/internal/service/functions"
	"log-ingest/internal/service/ingestion"
	"log-ingest/internal/service/schema"
	"log-ingest/internal/service/transform"
	"log-ingest/internal/wal"
)

const bytesInMB = 1024 * 1024

// Deps holds the external dependencies that main() must provide.
type Deps struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

// Services groups the services the HTTP surface and background workers need.
type Services struct {
	Functions     *functions.Store
	FunctionsSync *functions.Synchronizer
	Alerts        *alerts.Store
	AlertsSync    *alerts.Synchronizer
	Schemas       *schema.Store
	Ingestion     *ingestion.IngestionService
}

// App holds the fully-wired application.
type App struct {
	Services  Services
	Metrics   *metrics.Metrics
	Scheduler *wal.Scheduler
	Router    http.Handler

	coord   *coord.BadgerStore
	writeDB *sql.DB
	readDB  *sql.DB
	wal     *wal.Manager
}

// New opens the coordination and metadata stores and wires all services.
// Resources opened before a failure are released.
func New(ctx context.Context, deps Deps) (_ *App, err error) {
	cfg := deps.Cfg
	logger := deps.Logger

	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	// === Coordination store ===
	a.coord, err = coord.Open(coord.Config{
		Path:     cfg.CoordDBPath,
		InMemory: cfg.CoordInMemory,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open coordination store: %w", err)
	}

	// === Metadata database ===
	a.writeDB, a.readDB, err = internaldb.OpenMetaDB(ctx, cfg.MetaDBPath, 4)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	dvRepo := repository.NewDistinctValueRepo(a.writeDB, a.readDB)
	usageRepo := repository.NewUsageRepo(a.writeDB, a.readDB)

	// === Write stage ===
	a.wal, err = wal.NewManager(wal.Config{
		Dir:     cfg.DataDir,
		MaxAge:  cfg.WALMaxAge,
		MaxSize: cfg.WALMaxSizeMB * bytesInMB,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open write stage: %w", err)
	}
	a.Scheduler = wal.NewScheduler(a.wal, cfg.WALRotateSchedule, logger)

	// === Caches + synchronizers ===
	fnCache := cache.NewFunctionCache()
	alertCache := cache.NewAlertCache()
	runtime := transform.NewRuntime(transform.Config{
		MaxSteps: cfg.TransformMaxSteps,
		Timeout:  cfg.TransformTimeout,
	}, logger)

	schemas := schema.NewStore(a.coord, logger)
	a.Metrics = metrics.New(nil)

	a.Services = Services{
		Functions:     functions.NewStore(a.coord, runtime, logger),
		FunctionsSync: functions.NewSynchronizer(a.coord, fnCache, logger),
		Alerts:        alerts.NewStore(a.coord, logger),
		AlertsSync:    alerts.NewSynchronizer(a.coord, alertCache, logger),
		Schemas:       schemas,
		Ingestion: ingestion.NewIngestionService(ingestion.IngestionServiceDeps{
			Config: ingestion.Config{
				TimestampColumn: cfg.TimestampColumn,
				AllowedUpto:     cfg.IngestAllowedUpto,
				AllowedInFuture: cfg.IngestAllowedInFuture,
				DistinctFields:  cfg.DistinctFields,
				BlockedStreams:  cfg.BlockedStreams,
				WriteWorkers:    cfg.WriteWorkers,
			},
			Functions:      fnCache,
			Alerts:         alertCache,
			Runtime:        runtime,
			Schemas:        schemas,
			Validator:      schema.NewValidator(schemas, cfg.TimestampColumn, logger),
			Evaluator:      alerts.NewEvaluator(a.coord),
			Writer:         a.wal,
			DistinctValues: dvRepo,
			Usage:          usageRepo,
			Metrics:        a.Metrics,
			Logger:         logger,
		}),
	}

	// === HTTP ===
	handler := api.NewHandler(a.Services.Ingestion, a.Services.Functions, cfg.IngestWorkers, logger)
	a.Router = api.NewRouter(handler, api.RouterConfig{
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
			KeyFunc:           middleware.OrgKey,
		},
		Metrics: a.Metrics.Handler(),
		Logger:  logger,
	})

	return a, nil
}

// Close releases the write stage, metadata database and coordination store.
func (a *App) Close() error {
	var errs []error
	if a.wal != nil {
		errs = append(errs, a.wal.Close())
	}
	if a.readDB != nil {
		errs = append(errs, a.readDB.Close())
	}
	if a.writeDB != nil {
		errs = append(errs, a.writeDB.Close())
	}
	if a.coord != nil {
		errs = append(errs, a.coord.Close())
	}
	return errors.Join(errs...)
}
