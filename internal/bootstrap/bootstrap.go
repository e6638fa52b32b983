package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/config"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/aggregation"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/ports"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/usecase"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/warnings"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/infrastructure/extraction"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/infrastructure/extractor/text"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/infrastructure/llm/ollama"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/infrastructure/queue/nats"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/infrastructure/render"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/infrastructure/repository/memory"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/infrastructure/repository/postgres"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/infrastructure/resilience"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/infrastructure/storage/localfs"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/infrastructure/storage/objectstore"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/observability/metrics"
)

const shutdownTimeout = 10 * time.Second

// Options carries process-specific wiring.
type Options struct {
	Service string
	Logger  *slog.Logger
	// Registerer receives the pipeline metrics; nil leaves them unregistered.
	Registerer prometheus.Registerer
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue       *nats.Queue
	Intake      *usecase.IntakeUseCase
	Status      *usecase.StatusUseCase
	Generator   *usecase.GenerateDocumentUseCase
	CaseStatus  *usecase.CaseStatusService
	Coordinator *usecase.Coordinator

	closeFn func()
}

type repositories struct {
	cases     ports.CaseRepository
	docs      ports.DocumentRepository
	generated ports.GeneratedDocumentRepository
	db        *sql.DB
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	service := opts.Service
	if service == "" {
		service = "pidl"
	}

	rules, err := loadRules(cfg)
	if err != nil {
		return nil, err
	}
	aggOpts, err := aggregationOptions(cfg)
	if err != nil {
		return nil, err
	}
	renderer, err := render.New()
	if err != nil {
		return nil, fmt.Errorf("init renderer: %w", err)
	}

	var (
		observer usecase.PipelineObserver
		retries  resilience.RetryObserver
	)
	if opts.Registerer != nil {
		pipeline := metrics.NewPipelineMetrics(service, opts.Registerer)
		observer = pipeline
		retries = pipeline
	}

	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		return nil, err
	}
	closeDB := func() {
		if repos.db != nil {
			_ = repos.db.Close()
		}
	}

	storage, err := openStorage(ctx, cfg)
	if err != nil {
		closeDB()
		return nil, err
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSProcessSubject, nats.Options{
		ResilienceExecutor: resilience.NewExecutor(publishResilience(), logger).WithRetryObserver(retries),
		ExportSubject:      cfg.NATSExportSubject,
		Concurrency:        cfg.WorkerConcurrency,
		Logger:             logger,
	})
	if err != nil {
		closeDB()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, 0)
	client := extraction.NewClient(
		text.NewExtractor(storage, cfg.MaxUploadBytes),
		ollama.NewClassifier(ollamaClient),
		ollama.NewDataExtractor(ollamaClient),
		extraction.Options{
			Resilience: extractionResilience(cfg),
			RateLimit:  cfg.ExtractionRateLimitRPS,
			Burst:      cfg.ExtractionRateLimitBurst,
			Retries:    retries,

			WindowRunes:   cfg.ExtractionWindowRunes,
			WindowOverlap: cfg.ExtractionWindowOverlap,
			MaxWindows:    cfg.ExtractionMaxWindows,
		},
		logger,
	)

	caseStatus := usecase.NewCaseStatusService(repos.cases, logger)
	coordinator := usecase.NewCoordinator(
		repos.cases,
		repos.docs,
		repos.generated,
		caseStatus,
		warnings.NewDefaultEngine(rules),
		usecase.CoordinatorOptions{
			Aggregation: aggOpts,
			Debounce:    time.Duration(cfg.AggregationDebounceMS) * time.Millisecond,
			Concurrency: cfg.WorkerConcurrency,
		},
		observer,
		logger,
	)
	coordinator.SetProcessor(usecase.NewStageMachine(repos.docs, repos.cases, client, coordinator, observer, logger))

	app := &App{
		Config:      cfg,
		Logger:      logger,
		Queue:       queue,
		Intake:      usecase.NewIntakeUseCase(repos.cases, repos.docs, storage, queue, caseStatus, logger),
		Status:      usecase.NewStatusUseCase(repos.cases, repos.docs, repos.generated),
		Generator:   usecase.NewGenerateDocumentUseCase(repos.cases, repos.generated, renderer, caseStatus, nats.NewExporter(queue), observer, logger),
		CaseStatus:  caseStatus,
		Coordinator: coordinator,
	}
	app.closeFn = func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := coordinator.Shutdown(shutdownCtx); err != nil {
			logger.Warn("coordinator_shutdown_timeout", "error", err)
		}
		queue.Close()
		closeDB()
	}
	return app, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func openRepositories(ctx context.Context, cfg config.Config) (repositories, error) {
	if cfg.StoreBackend == config.StoreMemory {
		store := memory.New()
		return repositories{cases: store.Cases(), docs: store.Documents(), generated: store.Generated()}, nil
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return repositories{}, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return repositories{}, fmt.Errorf("ensure schema: %w", err)
	}
	return repositories{
		cases:     postgres.NewCaseRepository(db),
		docs:      postgres.NewDocumentRepository(db),
		generated: postgres.NewGeneratedRepository(db),
		db:        db,
	}, nil
}

func openStorage(ctx context.Context, cfg config.Config) (ports.ObjectStorage, error) {
	if cfg.StorageBackend == config.StorageMinIO {
		store, err := objectstore.New(objectstore.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		return store, nil
	}

	store, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	return store, nil
}

func loadRules(cfg config.Config) (warnings.Config, error) {
	rules, err := warnings.LoadConfig(cfg.RulesConfigPath)
	if err != nil {
		return warnings.Config{}, fmt.Errorf("load warning rules: %w", err)
	}
	if cfg.SOLCriticalDays > 0 {
		rules.Statute.CriticalDays = cfg.SOLCriticalDays
	}
	if cfg.SOLWarningDays > 0 {
		rules.Statute.WarningDays = cfg.SOLWarningDays
	}
	if err := rules.Validate(); err != nil {
		return warnings.Config{}, fmt.Errorf("load warning rules: %w", err)
	}
	return rules, nil
}

func aggregationOptions(cfg config.Config) (aggregation.Options, error) {
	tieBreak, err := aggregation.ParseTieBreak(cfg.ConflictTieBreak)
	if err != nil {
		return aggregation.Options{}, fmt.Errorf("aggregation options: %w", err)
	}
	dedup, err := aggregation.ParseDedupFields(cfg.DamagesDedupFields)
	if err != nil {
		return aggregation.Options{}, fmt.Errorf("aggregation options: %w", err)
	}
	return aggregation.Options{
		GapThresholdDays: cfg.GapThresholdDays,
		TieBreak:         tieBreak,
		DedupFields:      dedup,
	}, nil
}

func extractionResilience(cfg config.Config) resilience.Config {
	rc := resilience.DefaultConfig()
	rc.AttemptTimeout = time.Duration(cfg.ExtractionTimeoutSeconds) * time.Second
	rc.RetryMaxAttempts = cfg.ExtractionRetryMaxAttempts
	rc.RetryInitialBackoff = time.Duration(cfg.ExtractionRetryInitialBackoffMS) * time.Millisecond
	rc.RetryMaxBackoff = time.Duration(cfg.ExtractionRetryMaxBackoffMS) * time.Millisecond
	rc.BreakerEnabled = cfg.ExtractionBreakerEnabled
	return rc
}

func publishResilience() resilience.Config {
	rc := resilience.DefaultConfig()
	rc.AttemptTimeout = 5 * time.Second
	return rc
}
