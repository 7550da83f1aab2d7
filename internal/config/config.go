// Package config loads the pararun CLI configuration: a YAML file, overridden by
// PARARUN_* environment variables (optionally read from a .env file), overridden
// by command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/utkarsh5026/pararun/pararun"
)

// Execution modes.
const (
	ModeParallel   = "parallel"
	ModeConcurrent = "concurrent"
)

// Cache backends.
const (
	CacheJSONL  = "jsonl"
	CachePebble = "pebble"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the effective CLI configuration.
type Config struct {
	Run       RunConfig       `yaml:"run"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RunConfig selects the execution model and worker pool.
type RunConfig struct {
	Mode     string `yaml:"mode"`
	Backend  string `yaml:"backend"`
	Workers  int    `yaml:"workers"` // 0 means the entry point's default
	FuncKind string `yaml:"func_kind"`
	Progress bool   `yaml:"progress"`
}

// CacheConfig selects the result store.
type CacheConfig struct {
	Path       string `yaml:"path"`
	Backend    string `yaml:"backend"`
	KeyField   string `yaml:"key_field"`
	FlushEvery int    `yaml:"flush_every"`
}

// RateLimitConfig throttles invocations. A zero RPS disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// MetricsConfig exposes Prometheus metrics. An empty address disables the endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Run: RunConfig{
			Mode:     ModeParallel,
			Backend:  pararun.BackendProcess.String(),
			FuncKind: pararun.KindCooperative.String(),
			Progress: true,
		},
		Cache: CacheConfig{
			Backend:    CacheJSONL,
			KeyField:   "id",
			FlushEvery: 1000,
		},
		RateLimit: RateLimitConfig{Burst: 1},
		Logging:   LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads the YAML file at path on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}
	return cfg, nil
}

// LoadEffective loads the file at path (the defaults when path is empty) and
// applies environment overrides. It returns the names of the variables used.
func LoadEffective(path string) (*Config, []string, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, nil, err
		}
	}
	used := ApplyEnv(cfg, os.Getenv)
	return cfg, used, nil
}

// LoadDotenv loads environment variables from a .env file. A missing file is not an error.
func LoadDotenv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ResolveConfigPath decides the config file path using the flag-provided value
// and the environment variable PARARUN_CONFIG when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("PARARUN_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// ApplyEnv applies PARARUN_* overrides read through getenv onto cfg and returns
// the names of the variables that were applied. Unparsable numbers are ignored.
func ApplyEnv(cfg *Config, getenv func(string) string) []string {
	var used []string
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
			used = append(used, name)
		}
	}
	num := func(name string, dst *int) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
				used = append(used, name)
			}
		}
	}

	str("PARARUN_MODE", &cfg.Run.Mode)
	str("PARARUN_BACKEND", &cfg.Run.Backend)
	num("PARARUN_WORKERS", &cfg.Run.Workers)
	str("PARARUN_FUNC_KIND", &cfg.Run.FuncKind)
	if v := strings.TrimSpace(getenv("PARARUN_PROGRESS")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Run.Progress = b
			used = append(used, "PARARUN_PROGRESS")
		}
	}

	str("PARARUN_CACHE", &cfg.Cache.Path)
	str("PARARUN_CACHE_BACKEND", &cfg.Cache.Backend)
	str("PARARUN_KEY_FIELD", &cfg.Cache.KeyField)
	num("PARARUN_FLUSH_EVERY", &cfg.Cache.FlushEvery)

	if v := strings.TrimSpace(getenv("PARARUN_RATE")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.RPS = f
			used = append(used, "PARARUN_RATE")
		}
	}
	num("PARARUN_BURST", &cfg.RateLimit.Burst)

	str("PARARUN_METRICS_ADDR", &cfg.Metrics.Addr)
	str("PARARUN_LOG_LEVEL", &cfg.Logging.Level)
	str("PARARUN_LOG_FORMAT", &cfg.Logging.Format)

	return used
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch c.Run.Mode {
	case ModeParallel, ModeConcurrent:
	default:
		bad("mode %q (want %s or %s)", c.Run.Mode, ModeParallel, ModeConcurrent)
	}
	if _, err := pararun.ParseBackend(c.Run.Backend); err != nil {
		bad("backend: %v", err)
	}
	if _, err := pararun.ParseFuncKind(c.Run.FuncKind); err != nil {
		bad("func_kind: %v", err)
	}
	if c.Run.Workers < 0 {
		bad("workers must not be negative, got %d", c.Run.Workers)
	}

	switch c.Cache.Backend {
	case CacheJSONL, CachePebble:
	default:
		bad("cache backend %q (want %s or %s)", c.Cache.Backend, CacheJSONL, CachePebble)
	}
	if c.Cache.KeyField == "" {
		bad("key_field must not be empty")
	}
	if c.Cache.FlushEvery <= 0 {
		bad("flush_every must be positive, got %d", c.Cache.FlushEvery)
	}

	if c.RateLimit.RPS < 0 {
		bad("rate_limit.rps must not be negative")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		bad("rate_limit.burst must be positive when rps is set")
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		bad("logging.level: %v", err)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		bad("logging.format %q (want json or console)", c.Logging.Format)
	}

	return errors.Join(errs...)
}

// Options converts the configuration into run options for the pararun package.
func (c *Config) Options() ([]pararun.Option, error) {
	backend, err := pararun.ParseBackend(c.Run.Backend)
	if err != nil {
		return nil, err
	}
	kind, err := pararun.ParseFuncKind(c.Run.FuncKind)
	if err != nil {
		return nil, err
	}

	opts := []pararun.Option{
		pararun.WithBackend(backend),
		pararun.WithFuncKind(kind),
		pararun.WithWorkerCount(c.Run.Workers),
		pararun.WithKeyField(c.Cache.KeyField),
		pararun.WithFlushThreshold(c.Cache.FlushEvery),
		pararun.WithRateLimit(c.RateLimit.RPS, c.RateLimit.Burst),
	}
	if c.Cache.Path != "" {
		if c.Cache.Backend == CachePebble {
			opts = append(opts, pararun.WithPebbleCache(c.Cache.Path))
		} else {
			opts = append(opts, pararun.WithCachePath(c.Cache.Path))
		}
	}
	return opts, nil
}

// NewLogger builds the zap logger described by the logging section. Logs go to stderr.
func (l LoggingConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if l.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
