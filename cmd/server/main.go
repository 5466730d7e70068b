package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"conviction-engine/internal/cache"
	"conviction-engine/internal/config"
	"conviction-engine/internal/consensus"
	"conviction-engine/internal/db"
	"conviction-engine/internal/handler"
	"conviction-engine/internal/job"
	"conviction-engine/internal/learning"
	"conviction-engine/internal/provider"
	"conviction-engine/internal/queue"
	"conviction-engine/internal/recalibration"
	"conviction-engine/internal/repository"
	"conviction-engine/internal/service"
	"conviction-engine/internal/tradeplan"
	"conviction-engine/pkg/logging"
	"conviction-engine/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	_ "conviction-engine/docs"
)

// learningBackend is everything the process needs from the learning-state store.
type learningBackend interface {
	learning.Store
	learning.CalibrationStore
	service.StateStore
}

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	initLoggingFunc  = logging.Init
	initPostgresFunc = db.InitPostgres
	initRedisFunc    = cache.InitRedis
	initTracerFunc   = tracing.InitTracer
	newQueueFunc     = func(cfg *config.Config) queue.Queue {
		if len(cfg.KafkaBrokers) == 0 {
			return queue.NewMemoryQueue(0)
		}
		q, err := queue.NewKafkaQueue(queue.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaOutcomeTopic,
			GroupID: cfg.KafkaGroupID,
		})
		if err != nil {
			log.Error().Err(err).Msg("kafka queue unavailable, using in-process outcome queue")
			return queue.NewMemoryQueue(0)
		}
		return q
	}
	newProvidersFunc = func(cfg *config.Config, tracer trace.Tracer) []provider.Provider {
		providers := []provider.Provider{provider.NewTechnicalProvider(tracer)}
		if cfg.FearGreedEnabled {
			providers = append(providers, provider.NewFearGreedProvider(tracer))
		}
		return providers
	}
	startJobsFunc = func(ctx context.Context, consumer *job.OutcomeConsumerJob, drift *job.DriftScheduler, refresher *job.StateRefresher) {
		go consumer.Start(ctx)
		go func() {
			if err := drift.Start(ctx); err != nil {
				log.Error().Err(err).Msg("drift scheduler failed to start")
			}
		}()
		go refresher.Start(ctx)
	}
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// newLearningBackend picks where learning state lives. Process memory is only used when
// no database is configured. With a DATABASE_URL the Postgres repository is always used,
// even over a missing pool: it then reports ErrStoreUnavailable, so outcomes stay
// unacked and retried and evaluations fall back to the cached state.
func newLearningBackend(cfg *config.Config, tracer trace.Tracer) (learningBackend, *repository.DecisionRepository) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Warn().Msg("no database configured, learning state is kept in process memory")
		return learning.NewMemoryStore(), nil
	}

	var pool repository.PgxPool
	if db.Pool != nil {
		pool = db.Pool
	} else {
		log.Error().Msg("DATABASE_URL is set but no postgres pool is available, learning updates will be retried and not applied")
	}
	return repository.NewLearningRepository(pool, tracer), repository.NewDecisionRepository(pool, tracer)
}

// @title           Conviction Engine API
// @version         1.0
// @description     Turns analytical signals into a calibrated confidence score and a risk-bounded trade plan, and learns from closed trades.

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey  ApiKeyAuth
// @in                          header
// @name                        X-API-Key
func main() {
	_ = loadEnvFunc()

	// Configure logging from the environment first so config warnings use the chosen format.
	initLoggingFunc(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg := loadConfigFunc()
	initLoggingFunc(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	initRedisFunc(ctx)
	defer db.Close()

	tp, tracer, err := initTracerFunc(ctx, tracing.Settings{
		ServiceName: tracing.DefaultServiceName,
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer")
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	backend, decisionRepo := newLearningBackend(cfg, tracer)
	var decisions service.DecisionStore
	if decisionRepo != nil {
		decisions = decisionRepo
	}

	var stateCache service.StateCache
	if cache.Client != nil {
		stateCache = cache.NewStateCache(cache.Client, tracer)
	}
	stateLoader := service.NewStateLoader(tracer, backend, stateCache)

	engineCfg := cfg.Tunables.Consensus
	if err := engineCfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid consensus tunables, using defaults")
		engineCfg = consensus.DefaultConfig()
	}
	collector := provider.NewCollector(tracer, cfg.ProviderTimeout, newProvidersFunc(cfg, tracer)...)
	evaluation := service.NewEvaluationService(
		tracer,
		collector,
		stateLoader,
		consensus.NewEngine(engineCfg),
		recalibration.NewPipeline(recalibration.DefaultStages(cfg.Tunables.Recalibration)),
		tradeplan.NewConstructor(tradeplan.DefaultConfig()),
		decisions,
	)

	outcomeQueue := newQueueFunc(cfg)
	defer func() {
		if err := outcomeQueue.Close(); err != nil {
			log.Error().Err(err).Msg("error closing outcome queue")
		}
	}()
	outcomes := service.NewOutcomeService(tracer, outcomeQueue)
	diagnostics := service.NewDiagnosticsService(tracer, stateLoader)

	loop := learning.NewLoop(backend, learning.DefaultRules(), tracer)
	startJobsFunc(ctx,
		job.NewOutcomeConsumerJob(tracer, outcomeQueue, loop, cfg.OutcomeRetryMax),
		job.NewDriftScheduler(tracer, learning.NewCalibrator(backend, tracer, cfg.DriftWindow), cfg.DriftCron),
		job.NewStateRefresher(tracer, stateLoader, cfg.StateRefresh),
	)

	h := handler.New(tracer, evaluation, outcomes, diagnostics)
	if decisionRepo != nil {
		h.SetDecisionReader(decisionRepo)
	}
	if cfg.DatabaseURL != "" {
		h.AddHealthCheck("postgres", func(ctx context.Context) error {
			if db.Pool == nil {
				return repository.ErrStoreUnavailable
			}
			return db.Pool.Ping(ctx)
		})
	}
	if cache.Client != nil {
		h.AddHealthCheck("redis", func(ctx context.Context) error { return cache.Client.Ping(ctx).Err() })
	}

	r := newRouterFunc()
	r.Use(otelgin.Middleware(tracing.DefaultServiceName))

	h.RegisterRoutes(r, cfg.APIKey)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()
	log.Info().Str("addr", cfg.HTTPAddr).Msg("conviction engine listening")

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Info().Msg("shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exiting")
}
