/*
Package config loads server configuration.

SOURCES (later wins):
  1. Defaults in the struct tags
  2. .env file in the working directory, if present
  3. BOOKIT_* environment variables
  4. Command-line flags (-port, -db, -driver, -database-url, -seed)

EXAMPLES:
  BOOKIT_DRIVER=postgres BOOKIT_DATABASE_URL=postgres://... ./server
  ./server -driver=memory -seed=demo
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	Driver      string `envconfig:"DRIVER" default:"sqlite"`
	DBPath      string `envconfig:"DB" default:"bookit.db"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// Events are logged when AMQPURL is empty.
	AMQPURL      string `envconfig:"AMQP_URL"`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"bookit.events"`

	// Seed names a scenario loaded at startup; empty loads nothing.
	Seed string `envconfig:"SEED"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Load reads .env, the environment and then args. Commands register their
// own flags on the same flag set through extra.
func Load(args []string, extra ...func(*flag.FlagSet)) (Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("BOOKIT", &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	fs := flag.NewFlagSet("bookit", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.Driver, "driver", cfg.Driver, "storage driver: sqlite, postgres or memory")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, `SQLite database path (":memory:" for in-memory)`)
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL connection string")
	fs.StringVar(&cfg.Seed, "seed", cfg.Seed, "scenario to load at startup")
	for _, register := range extra {
		register(fs)
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Driver {
	case DriverSQLite:
		if c.DBPath == "" {
			return errors.New("sqlite driver requires a database path")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("postgres driver requires BOOKIT_DATABASE_URL or -database-url")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
