package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"conviction-engine/internal/config"
	"conviction-engine/internal/job"
	"conviction-engine/internal/learning"
	"conviction-engine/internal/provider"
	"conviction-engine/internal/queue"
	"conviction-engine/internal/repository"
	"conviction-engine/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestMainBootstrap(t *testing.T) {
	gin.SetMode(gin.TestMode)
	restore := stubServerDeps()
	defer restore()

	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("main did not exit")
	}
}

func TestMainRegistersRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	restore := stubServerDeps()
	defer restore()

	var engine *gin.Engine
	newRouterFunc = func(...gin.OptionFunc) *gin.Engine {
		engine = gin.New()
		return engine
	}

	main()

	want := map[string]bool{
		"GET /health":            false,
		"POST /api/evaluate":     false,
		"POST /api/outcomes":     false,
		"GET /api/weights":       false,
		"GET /api/adaptations":   false,
		"GET /api/decisions/:id": false,
		"GET /swagger/*any":      false,
	}
	for _, ri := range engine.Routes() {
		key := ri.Method + " " + ri.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Fatalf("route %s not registered", route)
		}
	}
}

func TestMainUnreachableDatabaseDoesNotLearnInMemory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	restore := stubServerDeps()
	defer restore()

	loadConfigFunc = func() *config.Config {
		cfg := &config.Config{
			HTTPAddr:        ":0",
			DatabaseURL:     "postgres://unreachable:5432/engine",
			OutcomeRetryMax: 1,
			DriftCron:       "@every 1h",
			StateRefresh:    time.Hour,
		}
		cfg.Tunables = config.DefaultTunables()
		return cfg
	}
	var engine *gin.Engine
	newRouterFunc = func(...gin.OptionFunc) *gin.Engine {
		engine = gin.New()
		return engine
	}
	startJobsFunc = func(ctx context.Context, consumer *job.OutcomeConsumerJob, _ *job.DriftScheduler, _ *job.StateRefresher) {
		go consumer.Start(ctx)
	}

	type weightsBody struct {
		Weights     []json.RawMessage `json:"weights"`
		StateSource string            `json:"state_source"`
	}
	var weights weightsBody
	var health map[string]any
	var outcomeStatus int
	waitForSignalFunc = func(<-chan os.Signal) {
		body := `{"outcome_id":"o-1","ticker":"AAPL","pnl_percent":3,"contributing_source_ids":["insider_intent"],"closed_at":"2026-01-02T15:04:05Z"}`
		req := httptest.NewRequest(http.MethodPost, "/api/outcomes", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		outcomeStatus = w.Code

		// Give the consumer time to attempt the update.
		time.Sleep(300 * time.Millisecond)

		w = httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/weights", nil))
		_ = json.Unmarshal(w.Body.Bytes(), &weights)

		w = httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		_ = json.Unmarshal(w.Body.Bytes(), &health)
	}

	main()

	if outcomeStatus != http.StatusAccepted {
		t.Fatalf("expected outcome to be queued, got %d", outcomeStatus)
	}
	if weights.StateSource == "store" {
		t.Fatal("state reported as coming from the store while postgres is unreachable")
	}
	if weights.StateSource != "defaults" {
		t.Fatalf("expected default state, got %q", weights.StateSource)
	}
	if len(weights.Weights) != 0 {
		t.Fatalf("expected no learned weights, got %d", len(weights.Weights))
	}
	if health["status"] != "degraded" {
		t.Fatalf("expected degraded health, got %v", health["status"])
	}
}

func TestMainInitializesLoggingBeforeConfig(t *testing.T) {
	restore := stubServerDeps()
	defer restore()

	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "console")

	var calls []string
	initLoggingFunc = func(level, format string) zerolog.Logger {
		calls = append(calls, "logging:"+level+"/"+format)
		return zerolog.Nop()
	}
	loadConfigFunc = func() *config.Config {
		calls = append(calls, "config")
		cfg := &config.Config{HTTPAddr: ":0", LogLevel: "debug", LogFormat: "json", OutcomeRetryMax: 1, DriftCron: "@every 1h", StateRefresh: time.Hour}
		cfg.Tunables = config.DefaultTunables()
		return cfg
	}

	main()

	want := []string{"logging:warn/console", "config", "logging:debug/json"}
	if len(calls) != len(want) {
		t.Fatalf("unexpected call order %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("unexpected call order %v, want %v", calls, want)
		}
	}
}

func TestNewLearningBackendMemoryOnlyWithoutDatabase(t *testing.T) {
	tracer := trace.NewNoopTracerProvider().Tracer("test")

	backend, decisions := newLearningBackend(&config.Config{}, tracer)
	if _, ok := backend.(*learning.MemoryStore); !ok {
		t.Fatalf("expected memory store without DATABASE_URL, got %T", backend)
	}
	if decisions != nil {
		t.Fatal("expected no decision log without DATABASE_URL")
	}

	backend, decisions = newLearningBackend(&config.Config{DatabaseURL: "postgres://unreachable:5432/engine"}, tracer)
	if _, ok := backend.(*repository.LearningRepository); !ok {
		t.Fatalf("expected postgres repository when DATABASE_URL is set, got %T", backend)
	}
	if decisions == nil {
		t.Fatal("expected decision log when DATABASE_URL is set")
	}
	if _, err := backend.LoadState(context.Background()); !errors.Is(err, repository.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable without a pool, got %v", err)
	}
}

func TestNewQueueFallsBackToMemory(t *testing.T) {
	q := newQueueFunc(&config.Config{})
	if _, ok := q.(*queue.MemoryQueue); !ok {
		t.Fatalf("expected memory queue without brokers, got %T", q)
	}
	q = newQueueFunc(&config.Config{KafkaBrokers: []string{"localhost:9092"}})
	if _, ok := q.(*queue.MemoryQueue); !ok {
		t.Fatalf("expected memory queue when kafka config is incomplete, got %T", q)
	}
}

func TestNewProvidersHonorsFlag(t *testing.T) {
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	got := newProvidersFunc(&config.Config{FearGreedEnabled: false}, tracer)
	if len(got) != 1 {
		t.Fatalf("expected only the technical provider, got %d", len(got))
	}
	if _, ok := got[0].(*provider.TechnicalProvider); !ok {
		t.Fatalf("unexpected provider %T", got[0])
	}
	got = newProvidersFunc(&config.Config{FearGreedEnabled: true}, tracer)
	if len(got) != 2 {
		t.Fatalf("expected technical and fear & greed providers, got %d", len(got))
	}
	if _, ok := got[1].(*provider.FearGreedProvider); !ok {
		t.Fatalf("unexpected provider %T", got[1])
	}
}

func stubServerDeps() func() {
	origLoadEnv := loadEnvFunc
	origLoadConfig := loadConfigFunc
	origInitLogging := initLoggingFunc
	origInitPostgres := initPostgresFunc
	origInitRedis := initRedisFunc
	origInitTracer := initTracerFunc
	origNewProviders := newProvidersFunc
	origStartJobs := startJobsFunc
	origNewRouter := newRouterFunc
	origSetupSignal := setupSignalNotify
	origWait := waitForSignalFunc
	origStartHTTP := startHTTPServerFunc
	origShutdownHTTP := shutdownHTTPServerFunc
	origDatabaseURL, hadDatabaseURL := os.LookupEnv("DATABASE_URL")
	origRedisURL, hadRedisURL := os.LookupEnv("REDIS_URL")

	loadEnvFunc = func(...string) error { return nil }
	loadConfigFunc = func() *config.Config {
		cfg := &config.Config{HTTPAddr: ":0", OutcomeRetryMax: 1, DriftCron: "@every 1h", StateRefresh: time.Hour}
		cfg.Tunables = config.DefaultTunables()
		return cfg
	}
	initLoggingFunc = func(string, string) zerolog.Logger { return zerolog.Nop() }
	initPostgresFunc = func(context.Context) {}
	initRedisFunc = func(context.Context) {}
	initTracerFunc = func(ctx context.Context, s tracing.Settings) (*sdktrace.TracerProvider, trace.Tracer, error) {
		tp := sdktrace.NewTracerProvider()
		return tp, tp.Tracer("test"), nil
	}
	newProvidersFunc = func(*config.Config, trace.Tracer) []provider.Provider { return nil }
	startJobsFunc = func(context.Context, *job.OutcomeConsumerJob, *job.DriftScheduler, *job.StateRefresher) {}
	newRouterFunc = func(...gin.OptionFunc) *gin.Engine { return gin.New() }
	setupSignalNotify = func(c chan<- os.Signal, sig ...os.Signal) {}
	waitForSignalFunc = func(<-chan os.Signal) {}
	startHTTPServerFunc = func(*http.Server) error { return http.ErrServerClosed }
	shutdownHTTPServerFunc = func(*http.Server, context.Context) error { return nil }

	return func() {
		loadEnvFunc = origLoadEnv
		loadConfigFunc = origLoadConfig
		initLoggingFunc = origInitLogging
		initPostgresFunc = origInitPostgres
		initRedisFunc = origInitRedis
		initTracerFunc = origInitTracer
		newProvidersFunc = origNewProviders
		startJobsFunc = origStartJobs
		newRouterFunc = origNewRouter
		setupSignalNotify = origSetupSignal
		waitForSignalFunc = origWait
		startHTTPServerFunc = origStartHTTP
		shutdownHTTPServerFunc = origShutdownHTTP
		restoreEnv("DATABASE_URL", origDatabaseURL, hadDatabaseURL)
		restoreEnv("REDIS_URL", origRedisURL, hadRedisURL)
	}
}

func restoreEnv(key, value string, ok bool) {
	if ok {
		os.Setenv(key, value)
		return
	}
	os.Unsetenv(key)
}
