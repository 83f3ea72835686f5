package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"caff_back/api"
	"caff_back/audit"
	"caff_back/authorization"
	"caff_back/cache"
	"caff_back/caff"
	"caff_back/config"
	"caff_back/database"
	"caff_back/decoder"
	"caff_back/ingest"
	"caff_back/metrics"
	"caff_back/preview"
	"caff_back/staging"
	"caff_back/storage"
)

// allModels lists every table in migration order.
func allModels() []any {
	models := caff.Models()
	models = append(models, &audit.LogEntry{})
	return append(models, authorization.Models()...)
}

// openDatabase opens and migrates the configured database. SQLite files get
// their parent directory created first.
func openDatabase(settings config.Settings, logger logrus.FieldLogger) (*gorm.DB, error) {
	driver := settings.DatabaseDriver
	if driver == "" {
		driver = database.InferDriverFromDSN(settings.DatabaseDSN)
	}
	if strings.HasPrefix(strings.ToLower(driver), "sqlite") {
		file := strings.TrimPrefix(settings.DatabaseDSN, "sqlite://")
		if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := database.Open(driver, settings.DatabaseDSN, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db, allModels()...); err != nil {
		return nil, err
	}
	return db, nil
}

// application holds the wired pipeline shared by serve and ingest.
type application struct {
	settings     config.Settings
	logger       *logrus.Logger
	db           *gorm.DB
	redis        *redis.Client
	mirror       *storage.PreviewStorage
	registry     *prometheus.Registry
	auditService *audit.Service
	store        *caff.Store
	orchestrator *ingest.Orchestrator
}

// newApplication wires every component. Redis and MinIO are optional: a
// failure to reach them is logged and the service runs without them.
func newApplication(ctx context.Context, settings config.Settings, logger *logrus.Logger) (*application, error) {
	app := &application{settings: settings, logger: logger, registry: prometheus.NewRegistry()}

	db, err := openDatabase(settings, logger)
	if err != nil {
		return nil, err
	}
	app.db = db

	if settings.RedisEnabled() {
		client, err := cache.Open(ctx, cache.OptionsFromSettings(settings))
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, listing cache disabled")
		}
		app.redis = client
	}
	listCache := caff.NewListCache(app.redis, logger)

	if settings.MinioEnabled() {
		mirror, err := storage.NewPreviewStorage(ctx, storage.ConfigFromSettings(settings))
		if err != nil {
			logger.WithError(err).Warn("object storage unavailable, previews stay local")
		}
		app.mirror = mirror
	}

	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ingestMetrics, err := metrics.NewIngestMetrics(app.registry)
	if err != nil {
		return nil, err
	}

	manager, err := staging.NewManager(settings.StagingDir)
	if err != nil {
		return nil, err
	}
	dec, err := decoder.New(settings.ParserPath, settings.ParserTimeout, settings.ParserMaxConcurrency, decoder.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	var assemblerOpts []preview.AssemblerOption
	if app.mirror != nil {
		assemblerOpts = append(assemblerOpts, preview.WithMirror(app.mirror))
	}
	assembler, err := preview.NewAssembler(settings.PreviewDir, preview.Options{
		FrameDelay:   settings.PreviewFrameDelay,
		FramePrefix:  settings.PreviewFramePrefix,
		MaxDimension: settings.PreviewMaxDimension,
	}, logger, assemblerOpts...)
	if err != nil {
		return nil, err
	}

	remover := ingest.NewArtifactRemover(assembler, settings.SourcesDir, logger)
	app.store = caff.NewStore(db, listCache, logger, caff.WithDeleteHook(remover.Hook()))
	app.auditService = audit.NewService(logger)

	app.orchestrator, err = ingest.New(ingest.Deps{
		Staging:     manager,
		Decoder:     dec,
		Persister:   caff.NewPersister(db, listCache, logger),
		Assembler:   assembler,
		Collections: app.store,
		Audit:       authorization.NewOverlay(db, app.auditService, logger),
		Metrics:     ingestMetrics,
		Logger:      logger,
	}, ingest.Config{
		SourcesDir:           settings.SourcesDir,
		MaxUploadBytes:       settings.MaxUploadBytes,
		PreviewFailurePolicy: settings.PreviewFailurePolicy,
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// previewLinker is nil unless the mirror is configured.
func (a *application) previewLinker() api.PreviewLinker {
	if a.mirror == nil {
		return nil
	}
	return a.mirror
}

func (a *application) Close() error {
	var errs []error
	if err := cache.Close(a.redis); err != nil {
		errs = append(errs, fmt.Errorf("close redis: %w", err))
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}
