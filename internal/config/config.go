package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite3"
)

type Config struct {
	Server   Server
	Database Database
	Redis    Redis
	HTTP     HTTP
	Log      Log
}

type Log struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

type Server struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

type Database struct {
	Driver          string        `envconfig:"DATABASE_DRIVER" default:"postgres"`
	URL             string        `envconfig:"DATABASE_URL" required:"true"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	PingTimeout     time.Duration `envconfig:"DB_PING_TIMEOUT" default:"5s"`

	// BreakerMaxFailures is the number of consecutive gateway failures that
	// opens the circuit. Zero disables the breaker.
	BreakerMaxFailures uint32        `envconfig:"DB_BREAKER_MAX_FAILURES" default:"0"`
	BreakerTimeout     time.Duration `envconfig:"DB_BREAKER_TIMEOUT" default:"30s"`
}

type Redis struct {
	// URL is optional; without it change events stay in-process.
	URL     string `envconfig:"REDIS_URL"`
	Channel string `envconfig:"EVENTS_CHANNEL" default:"users:events"`
}

type HTTP struct {
	CORSOrigin     string  `envconfig:"CORS_ORIGIN" default:"*"`
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"0"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"20"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	// Sections are processed one by one so keys stay flat (PORT, not SERVER_PORT).
	for _, section := range []any{&cfg.Server, &cfg.Database, &cfg.Redis, &cfg.HTTP, &cfg.Log} {
		if err := envconfig.Process("", section); err != nil {
			return Config{}, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverPgx, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative")
	}
	return nil
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
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
