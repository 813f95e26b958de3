package core

import (
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// ArgList is a whitespace-separated argument list read from a single
// variable, e.g. "--threads 8 --vae-tiling".
type ArgList []string

// UnmarshalText splits on runs of whitespace and drops empty tokens.
func (a *ArgList) UnmarshalText(text []byte) error {
	*a = strings.Fields(string(text))
	return nil
}

// Config is the process-wide configuration. It is loaded once at startup
// and shared read-only by every request.
type Config struct {
	// Core settings
	Port       int     `env:"SD_CPP_SERVER_PORT,required,notEmpty"`
	Token      string  `env:"SD_CPP_SERVER_TOKEN,required,notEmpty"`
	BinaryPath string  `env:"SD_CPP_SERVER_BINARY,required,notEmpty"`
	FixedArgs  ArgList `env:"SD_CPP_SERVER_ARGS"`
	ModelsDir  string  `env:"SD_CPP_SERVER_MODELS,required,notEmpty"`
	CacheDir   string  `env:"SD_CPP_SERVER_CACHE"` // defaults to os.TempDir()

	// Listener
	Host         string   `env:"SD_CPP_SERVER_HOST" envDefault:"0.0.0.0"`
	MaxBodyBytes ByteSize `env:"SD_CPP_SERVER_MAX_BODY_BYTES" envDefault:"1MB"`

	// Logging
	DevMode  bool   `env:"DEV_MODE" envDefault:"false"`
	LogLevel string `env:"SD_CPP_SERVER_LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"SD_CPP_SERVER_LOG_FILE" envDefault:"sd-cpp-server.log"`

	// Generation control
	MaxConcurrent      int           `env:"SD_CPP_SERVER_MAX_CONCURRENT" envDefault:"0"`
	QueueTimeout       time.Duration `env:"SD_CPP_SERVER_QUEUE_TIMEOUT" envDefault:"0s"`
	GenerationTimeout  time.Duration `env:"SD_CPP_SERVER_TIMEOUT" envDefault:"0s"`
	CancelOnDisconnect bool          `env:"SD_CPP_SERVER_CANCEL_ON_DISCONNECT" envDefault:"false"`

	// History
	HistoryDB            string `env:"SD_CPP_SERVER_HISTORY_DB"`
	HistoryRetentionDays int    `env:"SD_CPP_SERVER_HISTORY_RETENTION_DAYS" envDefault:"30"`

	// Operations
	MetricsAddr     string        `env:"SD_CPP_SERVER_METRICS_ADDR"`
	ShutdownTimeout time.Duration `env:"SD_CPP_SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	SkipValidation  bool          `env:"SD_CPP_SERVER_SKIP_VALIDATION" envDefault:"false"`
}

// LoadConfig reads the configuration from the process environment.
func LoadConfig() (*Config, error) {
	return loadConfig(env.Options{}, os.Getenv)
}

// LoadConfigFromMap reads the configuration from environment, ignoring the
// process environment. Used by tests and the validation suite.
func LoadConfigFromMap(environment map[string]string) (*Config, error) {
	if environment == nil {
		environment = map[string]string{}
	}
	lookup := func(key string) string { return environment[key] }
	return loadConfig(env.Options{Environment: environment}, lookup)
}

func loadConfig(opts env.Options, lookup func(string) string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, translateEnvError(err, lookup)
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, ErrInvalidConfig("SD_CPP_SERVER_PORT", strconv.Itoa(cfg.Port), "port must be between 1 and 65535")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = os.TempDir()
	}
	if cfg.MaxConcurrent < 0 {
		return nil, ErrInvalidConfig("SD_CPP_SERVER_MAX_CONCURRENT", strconv.Itoa(cfg.MaxConcurrent), "must be 0 (unbounded) or positive")
	}
	if cfg.QueueTimeout < 0 {
		return nil, ErrInvalidConfig("SD_CPP_SERVER_QUEUE_TIMEOUT", cfg.QueueTimeout.String(), "must not be negative")
	}
	if cfg.GenerationTimeout < 0 {
		return nil, ErrInvalidConfig("SD_CPP_SERVER_TIMEOUT", cfg.GenerationTimeout.String(), "must not be negative")
	}
	if cfg.MaxBodyBytes <= 0 {
		return nil, ErrInvalidConfig("SD_CPP_SERVER_MAX_BODY_BYTES", strconv.FormatInt(int64(cfg.MaxBodyBytes), 10), "must be positive")
	}
	if cfg.HistoryRetentionDays < 0 {
		return nil, ErrInvalidConfig("SD_CPP_SERVER_HISTORY_RETENTION_DAYS", strconv.Itoa(cfg.HistoryRetentionDays), "must not be negative")
	}
	if cfg.ShutdownTimeout <= 0 {
		return nil, ErrInvalidConfig("SD_CPP_SERVER_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout.String(), "must be positive")
	}

	return cfg, nil
}

// ListenAddr returns host:port for the API listener.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Bounded reports whether the admission limiter is enabled.
func (c *Config) Bounded() bool {
	return c.MaxConcurrent > 0
}

// HistoryEnabled reports whether generation history is recorded.
func (c *Config) HistoryEnabled() bool {
	return c.HistoryDB != ""
}

// MetricsEnabled reports whether the Prometheus listener is started.
func (c *Config) MetricsEnabled() bool {
	return c.MetricsAddr != ""
}

// translateEnvError maps the first env failure onto a ConfigError that
// names the offending variable.
func translateEnvError(err error, lookup func(string) string) error {
	var agg env.AggregateError
	if !errors.As(err, &agg) || len(agg.Errors) == 0 {
		return fmt.Errorf("parse env config: %w", err)
	}

	switch e := agg.Errors[0].(type) {
	case env.EnvVarIsNotSetError:
		return ErrMissingConfig(e.Key)
	case env.EmptyEnvVarError:
		return ErrMissingConfig(e.Key)
	case env.ParseError:
		key := envKeyForField(e.Name)
		return ErrInvalidConfig(key, lookup(key), e.Err.Error())
	default:
		return fmt.Errorf("parse env config: %w", err)
	}
}

// envKeyForField returns the variable name bound to a Config field.
func envKeyForField(fieldName string) string {
	field, ok := reflect.TypeOf(Config{}).FieldByName(fieldName)
	if !ok {
		return fieldName
	}
	key, _, _ := strings.Cut(field.Tag.Get("env"), ",")
	return key
}
