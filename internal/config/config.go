package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"conviction-engine/internal/consensus"
	"conviction-engine/internal/queue"
	"conviction-engine/internal/recalibration"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	HTTPAddr    string
	APIKey      string

	KafkaBrokers      []string
	KafkaOutcomeTopic string
	KafkaGroupID      string

	ProviderTimeout  time.Duration
	FearGreedEnabled bool

	DriftCron       string
	DriftWindow     int
	OutcomeRetryMax int
	StateRefresh    time.Duration

	LogLevel       string
	LogFormat      string
	TracingEnabled bool
	OTLPEndpoint   string

	ConfigFile string
	Tunables   Tunables
}

// Tunables are the scoring tables that may be overridden from a YAML file. Keys absent
// from the file keep their defaults; a regime vector given in the file replaces the
// default vector for that regime.
type Tunables struct {
	Consensus     consensus.Config     `yaml:"consensus"`
	Recalibration recalibration.Tables `yaml:"recalibration"`
}

func DefaultTunables() Tunables {
	return Tunables{
		Consensus:     consensus.DefaultConfig(),
		Recalibration: recalibration.DefaultTables(),
	}
}

func Load() *Config {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		APIKey:      os.Getenv("API_KEY"),
	}

	if cfg.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}
	cfg.HTTPAddr = strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.KafkaBrokers = queue.ParseBrokers(os.Getenv("KAFKA_BROKERS"))
	cfg.KafkaOutcomeTopic = envString("KAFKA_OUTCOME_TOPIC", "trade-outcomes")
	cfg.KafkaGroupID = envString("KAFKA_GROUP_ID", "conviction-engine-learning")
	if len(cfg.KafkaBrokers) == 0 {
		log.Warn().Msg("KAFKA_BROKERS not set, using in-process outcome queue")
	}

	cfg.ProviderTimeout = time.Duration(envInt("PROVIDER_TIMEOUT_MS", 2000)) * time.Millisecond
	cfg.FearGreedEnabled = envBool("FEAR_GREED_ENABLED", true)

	cfg.DriftCron = envString("DRIFT_CRON", "0 3 * * *")
	cfg.DriftWindow = envInt("DRIFT_WINDOW", 200)
	cfg.OutcomeRetryMax = envInt("OUTCOME_RETRY_MAX", 5)
	cfg.StateRefresh = time.Duration(envInt("STATE_REFRESH_SECS", 60)) * time.Second

	cfg.LogLevel = strings.ToLower(envString("LOG_LEVEL", "info"))
	cfg.LogFormat = strings.ToLower(envString("LOG_FORMAT", "json"))
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		log.Warn().Str("log_format", cfg.LogFormat).Msg("unsupported LOG_FORMAT, defaulting to json")
		cfg.LogFormat = "json"
	}
	cfg.TracingEnabled = envBool("TRACING_ENABLED", true)
	cfg.OTLPEndpoint = envString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")

	cfg.Tunables = DefaultTunables()
	cfg.ConfigFile = strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if cfg.ConfigFile != "" {
		t, err := LoadTunables(cfg.ConfigFile)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.ConfigFile).Msg("ignoring config file, using default tunables")
		} else {
			cfg.Tunables = t
		}
	}

	return cfg
}

// LoadTunables overlays the YAML file at path onto the defaults and validates the result.
func LoadTunables(path string) (Tunables, error) {
	t := DefaultTunables()

	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return DefaultTunables(), fmt.Errorf("parse config: %w", err)
	}
	if err := t.Consensus.Validate(); err != nil {
		return DefaultTunables(), fmt.Errorf("consensus config: %w", err)
	}
	if t.Recalibration.ReliabilityMin > t.Recalibration.ReliabilityMax ||
		t.Recalibration.SectorBiasMin > t.Recalibration.SectorBiasMax ||
		t.Recalibration.DriftMin > t.Recalibration.DriftMax {
		return DefaultTunables(), fmt.Errorf("recalibration config: min bound above max bound")
	}
	return t, nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warn().Str("key", key).Str("value", v).Int("default", fallback).Msg("invalid integer, using default")
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Bool("default", fallback).Msg("invalid boolean, using default")
		return fallback
	}
	return b
}
