package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Pipeline  PipelineConfig
	Realtime  RealtimeConfig
	Subscribe TierTokenConfig
}

type AppConfig struct {
	AppName     string
	Environment string
	HTTPPort    string
}

type DatabaseConfig struct {
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	ConnectTimeout        time.Duration
	PoolMaxConns          int32
	PoolMinConns          int32
	PoolMaxConnLifetime   time.Duration
	PoolMaxConnIdleTime   time.Duration
	PoolHealthCheckPeriod time.Duration
}

type PipelineConfig struct {
	SourcesPath string
	// Consecutive failures before a source is marked unhealthy and pulled
	// from the schedule.
	UnhealthyThreshold int
	RestartCooldown    time.Duration

	GeocoderURL     string
	GeocoderTimeout time.Duration
}

type RealtimeConfig struct {
	HistoryWindow  time.Duration
	ReplayWindow   time.Duration
	ReplayLimit    int
	IdleTimeout    time.Duration
	SubscribeLimit int
}

type TierTokenConfig struct {
	Secret string
}

var errMissingRequiredEnv = errors.New("missing required environment variables")

func Load() (Config, error) {
	cfg := Config{}

	var missing []string
	req := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}
	opt := func(key string) string {
		return strings.TrimSpace(os.Getenv(key))
	}

	cfg.App = AppConfig{
		AppName:     req("APP_NAME"),
		Environment: req("APP_ENV"),
		HTTPPort:    req("HTTP_PORT"),
	}

	cfg.Database = DatabaseConfig{
		DBHost:     opt("DB_HOST"),
		DBPort:     opt("DB_PORT"),
		DBName:     opt("DB_NAME"),
		DBUser:     opt("DB_USER"),
		DBPassword: opt("DB_PASSWORD"),
		DBSSLMode:  opt("DB_SSL_MODE"),

		ConnectTimeout:        durationEnv("DB_CONNECT_TIMEOUT", 5*time.Second),
		PoolMaxConns:          int32Env("DB_POOL_MAX_CONNS", 0),
		PoolMinConns:          int32Env("DB_POOL_MIN_CONNS", 0),
		PoolMaxConnLifetime:   durationEnv("DB_POOL_MAX_CONN_LIFETIME", 0),
		PoolMaxConnIdleTime:   durationEnv("DB_POOL_MAX_CONN_IDLE_TIME", 0),
		PoolHealthCheckPeriod: durationEnv("DB_POOL_HEALTH_CHECK_PERIOD", 0),
	}

	cfg.Pipeline = PipelineConfig{
		SourcesPath:        pickNonEmpty(opt("SOURCES_CONFIG_PATH"), "sources.yaml"),
		UnhealthyThreshold: intEnv("SOURCE_UNHEALTHY_THRESHOLD", 5),
		RestartCooldown:    durationEnv("SOURCE_RESTART_COOLDOWN", 15*time.Minute),
		GeocoderURL:        pickNonEmpty(opt("GEOCODER_URL"), "https://nominatim.openstreetmap.org"),
		GeocoderTimeout:    durationEnv("GEOCODER_TIMEOUT", 10*time.Second),
	}

	cfg.Realtime = RealtimeConfig{
		HistoryWindow:  durationEnv("REALTIME_HISTORY_WINDOW", 24*time.Hour),
		ReplayWindow:   durationEnv("REALTIME_REPLAY_WINDOW", time.Hour),
		ReplayLimit:    intEnv("REALTIME_REPLAY_LIMIT", 10),
		IdleTimeout:    durationEnv("REALTIME_IDLE_TIMEOUT", 30*time.Minute),
		SubscribeLimit: intEnv("REALTIME_SUBSCRIBE_LIMIT", 10),
	}

	cfg.Subscribe = TierTokenConfig{
		Secret: opt("TIER_TOKEN_SECRET"),
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("%w: %s", errMissingRequiredEnv, strings.Join(missing, ", "))
	}

	return cfg, nil
}

func pickNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func intEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func int32Env(key string, def int32) int32 {
	return int32(intEnv(key, int(def)))
}

func durationEnv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return def
	}
	return d
}
