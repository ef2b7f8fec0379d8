// Package bootstrap assembles the scheduling engine from configuration. The
// API server and the Lambda entry point share it.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/careflow-scheduling/internal/actions"
	"github.com/wolfman30/careflow-scheduling/internal/api/router"
	"github.com/wolfman30/careflow-scheduling/internal/audit"
	"github.com/wolfman30/careflow-scheduling/internal/availability"
	"github.com/wolfman30/careflow-scheduling/internal/cache"
	appconfig "github.com/wolfman30/careflow-scheduling/internal/config"
	"github.com/wolfman30/careflow-scheduling/internal/events"
	"github.com/wolfman30/careflow-scheduling/internal/masterdata"
	"github.com/wolfman30/careflow-scheduling/internal/observability/metrics"
	"github.com/wolfman30/careflow-scheduling/internal/protocols"
	"github.com/wolfman30/careflow-scheduling/internal/reservations"
	"github.com/wolfman30/careflow-scheduling/internal/scheduling"
	"github.com/wolfman30/careflow-scheduling/pkg/logging"
)

const memoryEventCapacity = 1024

// App is a fully wired engine.
type App struct {
	Config     *appconfig.Config
	Logger     *logging.Logger
	Scheduler  *scheduling.Scheduler
	Dispatcher *actions.Dispatcher

	ProtocolsHandler    *protocols.Handler
	ReservationsHandler *scheduling.Handler
	MetricsHandler      http.Handler

	// Events is set when reservation events stay in process.
	Events *events.MemoryPublisher

	dbs   *Databases
	redis *redis.Client
}

// Build wires the engine. awsCfg may be nil, in which case events and
// auto-schedule runs stay in memory.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, awsCfg *aws.Config) (_ *App, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	app := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	calendar, err := BuildCalendar(cfg)
	if err != nil {
		return nil, err
	}

	var (
		dir         masterdata.Directory
		protoStore  protocols.Store
		resStore    reservations.Store
		auditRecord audit.Recorder
	)
	if cfg.MemoryMode() {
		memDir := masterdata.NewMemoryDirectory()
		memProtocols := protocols.NewMemoryStore()
		if cfg.SeedFile != "" {
			seed, err := loadSeed(ctx, cfg.SeedFile, awsCfg)
			if err != nil {
				return nil, err
			}
			if err := seed.Apply(ctx, memDir, memProtocols); err != nil {
				return nil, err
			}
			logger.Info("seed loaded", "file", cfg.SeedFile,
				"patients", len(seed.Patients), "medics", len(seed.Medics),
				"exams", len(seed.Exams), "protocols", len(seed.Protocols))
		}
		dir, protoStore = memDir, memProtocols
		resStore = reservations.NewMemoryStore()
		auditRecord = audit.NewMemoryRecorder()
		logger.Warn("using in-memory stores")
	} else {
		dbs, err := OpenDatabases(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		app.dbs = dbs
		dir = masterdata.NewPostgresDirectory(dbs.Primary)
		protoStore = protocols.NewPostgresStore(dbs.Primary)
		pgReservations := reservations.NewPostgresStore(dbs.Primary)
		if dbs.Replica != nil {
			pgReservations.WithReadReplica(dbs.Replica)
		}
		resStore = pgReservations
		auditRecord = audit.NewStore(dbs.SQL)

		if app.redis = BuildRedisClient(ctx, cfg, logger, true); app.redis != nil {
			dir = masterdata.NewCachedDirectory(dir, cache.NewJSONCache(app.redis, "careflow:exam", cfg.CacheTTL), logger)
			protoStore = protocols.NewCachedStore(protoStore, cache.NewJSONCache(app.redis, "careflow:protocol", cfg.CacheTTL), logger)
			logger.Info("redis cache enabled", "ttl", cfg.CacheTTL.String())
		}
	}

	var publisher events.Publisher
	var runs scheduling.RunStore
	if awsCfg != nil && cfg.ReservationEventsQueueURL != "" {
		publisher = events.NewSQSPublisher(sqs.NewFromConfig(*awsCfg), cfg.ReservationEventsQueueURL)
	} else {
		app.Events = events.NewMemoryPublisher(memoryEventCapacity)
		publisher = app.Events
	}
	if awsCfg != nil && cfg.AutoScheduleRunsTable != "" {
		runs = scheduling.NewDynamoRunStore(dynamodb.NewFromConfig(*awsCfg), cfg.AutoScheduleRunsTable)
	} else {
		runs = scheduling.NewMemoryRunStore()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	schedulingMetrics := metrics.NewSchedulingMetrics(registry)
	app.MetricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	slots := availability.NewSlotFinder(dir, resStore, calendar, availability.Options{
		GranularityMinutes: cfg.SlotGranularityMinutes,
		AlternativesDays:   cfg.AlternativesDays,
	})
	matcher := protocols.NewMatcher(protoStore)
	app.Scheduler = scheduling.New(scheduling.Config{
		Directory:              dir,
		Reservations:           resStore,
		Protocols:              protoStore,
		Matcher:                matcher,
		Slots:                  slots,
		Publisher:              publisher,
		Audit:                  auditRecord,
		Runs:                   runs,
		Metrics:                schedulingMetrics,
		Logger:                 logger,
		AutoScheduleWindowDays: cfg.AutoScheduleWindowDays,
	})

	protocolService := protocols.NewService(protoStore, dir, resStore, logger)
	recommender := protocols.NewRecommender(matcher, protoStore, dir, resStore, logger)
	app.ProtocolsHandler = protocols.NewHandler(protocolService, matcher, recommender, logger)
	app.ReservationsHandler = scheduling.NewHandler(app.Scheduler, resStore, slots, dir, logger)
	app.Dispatcher = actions.NewDispatcher(app.Scheduler, availability.NewChecker(dir, resStore), slots, protocolService, matcher, logger)
	return app, nil
}

func loadSeed(ctx context.Context, source string, awsCfg *aws.Config) (*Seed, error) {
	if !isS3URI(source) {
		return LoadSeed(source)
	}
	if awsCfg == nil {
		return nil, fmt.Errorf("bootstrap: seed %s needs AWS configuration", source)
	}
	return LoadSeedFromS3(ctx, s3.NewFromConfig(*awsCfg), source)
}

// Ready reports whether the backing database answers.
func (a *App) Ready(ctx context.Context) error {
	if a.dbs == nil {
		return nil
	}
	return a.dbs.Ping(ctx)
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return router.New(&router.Config{
		Logger:              a.Logger,
		ProtocolsHandler:    a.ProtocolsHandler,
		ReservationsHandler: a.ReservationsHandler,
		Actions:             a.Dispatcher,
		MetricsHandler:      a.MetricsHandler,
		Ready:               a.Ready,
		AuthSecret:          a.Config.AdminJWTSecret,
		CORSAllowedOrigins:  a.Config.CORSAllowedOrigins,
	})
}

// Close releases database and cache connections.
func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
		a.redis = nil
	}
	if a.dbs != nil {
		a.dbs.Close()
		a.dbs = nil
	}
}
