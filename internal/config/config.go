package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel        slog.Level
	RawLogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	// Metrics listen address (e.g. ":9102"). Empty disables the metrics server.
	MetricsAddr string `env:"METRICS_ADDR"`

	// StoreDriver is postgres, sqlite or memory.
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"walkingbus.db"`

	// GTFSDatabaseURL points at a GTFS import cluster; CITY selects the
	// latest import database on it.
	GTFSDatabaseURL string `env:"GTFS_DATABASE_URL"`
	City            string `env:"CITY"`

	NATSURL         string `env:"NATS_URL"`
	NATSPrefix      string `env:"NATS_SUBJECT_PREFIX" envDefault:"walkingbus.sessions"`
	LogNATSSubjects bool   `env:"LOG_NATS_SUBJECTS"`
	AMQPURL         string `env:"AMQP_URL"`
	AMQPExchange    string `env:"AMQP_EXCHANGE" envDefault:"walkingbus"`
	LogEvents       bool   `env:"LOG_EVENTS"`
	EventBuffer     int    `env:"EVENT_BUFFER" envDefault:"256"`

	WeatherURL      string        `env:"WEATHER_API_URL"`
	WeatherAPIKey   string        `env:"WEATHER_API_KEY"`
	RedisURL        string        `env:"REDIS_URL"`
	WeatherCacheTTL time.Duration `env:"WEATHER_CACHE_TTL" envDefault:"15m"`

	StartWindow time.Duration `env:"START_WINDOW" envDefault:"30m"`
	HookTimeout time.Duration `env:"HOOK_TIMEOUT" envDefault:"30s"`
	WalkingMPS  float64       `env:"WALKING_SPEED_MPS" envDefault:"0.8"`
	BikingMPS   float64       `env:"BIKING_SPEED_MPS" envDefault:"2.2"`
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.RawLogLevel)
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if cfg.StoreDriver == "postgres" && cfg.DatabaseURL == "" {
		dsn, err := dsnFromPGEnv()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("invalid STORE_DRIVER: %q", c.StoreDriver)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("invalid EVENT_BUFFER: %d", c.EventBuffer)
	}
	if c.StartWindow < 0 {
		return fmt.Errorf("invalid START_WINDOW: %s", c.StartWindow)
	}
	if c.HookTimeout <= 0 {
		return fmt.Errorf("invalid HOOK_TIMEOUT: %s", c.HookTimeout)
	}
	if c.WalkingMPS <= 0 || c.BikingMPS <= 0 {
		return fmt.Errorf("travel speeds must be positive (walking %v, biking %v)", c.WalkingMPS, c.BikingMPS)
	}
	return nil
}

// dsnFromPGEnv composes a Postgres URL from the libpq variables.
func dsnFromPGEnv() (string, error) {
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	if db == "" {
		return "", errors.New("PGDATABASE or DATABASE_URL must be set")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func parseLogLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
