package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Profile string

	HTTPAddr string

	DatabaseDriver string
	DatabaseDSN    string

	RedisAddr      string
	StatusCacheTTL time.Duration

	SignalingHost string
	SignalingPort int
	RelayServers  []string
	ReflexServers []string

	AuthTokenSecret string
	AuthTokenIssuer string
	AuthTokenTTL    time.Duration

	DeviceIDPoolFirst int64
	DeviceIDPoolLast  int64

	HistoryMaxLimit       int
	OnlineHistoryMaxLimit int

	LogLevelName string

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracesEnabled         bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
	OTELHTTPEnabled           bool
}

func Load() (*Config, error) {
	cfg, err := load()
	profile := ""
	if cfg != nil {
		profile = cfg.Profile
	} else {
		profile = os.Getenv("BROKER_PROFILE")
	}
	recordConfigValidationEvent(context.Background(), profile, outcomeOf(err), classifyConfigLoadError(err))
	return cfg, err
}

func load() (*Config, error) {
	cfg := &Config{
		Profile:                  getEnv("BROKER_PROFILE", "dev"),
		HTTPAddr:                 getEnv("HTTP_ADDR", ":8080"),
		DatabaseDriver:           getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:              getEnv("DATABASE_DSN", "file:broker.db?_busy_timeout=5000"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		SignalingHost:            getEnv("SIGNALING_HOST", "127.0.0.1"),
		RelayServers:             splitList(os.Getenv("RELAY_SERVERS")),
		ReflexServers:            splitList(os.Getenv("REFLEX_SERVERS")),
		AuthTokenSecret:          os.Getenv("AUTH_TOKEN_SECRET"),
		AuthTokenIssuer:          getEnv("AUTH_TOKEN_ISSUER", "screenbridge-broker"),
		LogLevelName:             getEnv("LOG_LEVEL", "info"),
		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "screenbridge-broker"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", "dev"),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		HistoryMaxLimit:          50,
		OnlineHistoryMaxLimit:    144,
	}

	var err error
	if cfg.SignalingPort, err = parseInt("SIGNALING_PORT", "19988"); err != nil {
		return nil, err
	}
	if cfg.StatusCacheTTL, err = parseDuration("STATUS_CACHE_TTL", "30s"); err != nil {
		return nil, err
	}
	if cfg.AuthTokenTTL, err = parseDuration("AUTH_TOKEN_TTL", "24h"); err != nil {
		return nil, err
	}
	if cfg.DeviceIDPoolFirst, err = parseInt64("DEVICE_ID_POOL_FIRST", "100000"); err != nil {
		return nil, err
	}
	if cfg.DeviceIDPoolLast, err = parseInt64("DEVICE_ID_POOL_LAST", "999999"); err != nil {
		return nil, err
	}
	if cfg.OTELMetricsEnabled, err = parseBool("OTEL_METRICS_ENABLED", "false"); err != nil {
		return nil, err
	}
	if cfg.OTELTracesEnabled, err = parseBool("OTEL_TRACES_ENABLED", "false"); err != nil {
		return nil, err
	}
	if cfg.OTELLogsEnabled, err = parseBool("OTEL_LOGS_ENABLED", "false"); err != nil {
		return nil, err
	}
	if cfg.OTELExporterOTLPInsecure, err = parseBool("OTEL_EXPORTER_OTLP_INSECURE", "true"); err != nil {
		return nil, err
	}
	if cfg.OTELMetricsExportInterval, err = parseDuration("OTEL_METRICS_EXPORT_INTERVAL", "15s"); err != nil {
		return nil, err
	}
	if cfg.OTELHTTPEnabled, err = parseBool("OTEL_HTTP_ENABLED", "false"); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("validate config: DATABASE_DRIVER must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("validate config: DATABASE_DSN is required")
	}
	if c.AuthTokenSecret == "" {
		return fmt.Errorf("validate config: AUTH_TOKEN_SECRET is required")
	}
	if c.SignalingHost == "" {
		return fmt.Errorf("validate config: SIGNALING_HOST is required")
	}
	if c.SignalingPort <= 0 || c.SignalingPort > 65535 {
		return fmt.Errorf("validate config: SIGNALING_PORT must be a valid port, got %d", c.SignalingPort)
	}
	if c.DeviceIDPoolLast < c.DeviceIDPoolFirst {
		return fmt.Errorf("validate config: DEVICE_ID_POOL_LAST must not be below DEVICE_ID_POOL_FIRST")
	}
	return nil
}

func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.LogLevelName) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt(key, fallback string) (int, error) {
	v, err := strconv.Atoi(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func parseInt64(key, fallback string) (int64, error) {
	v, err := strconv.ParseInt(getEnv(key, fallback), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func parseBool(key, fallback string) (bool, error) {
	v, err := strconv.ParseBool(getEnv(key, fallback))
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func parseDuration(key, fallback string) (time.Duration, error) {
	v, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	return "failure"
}
