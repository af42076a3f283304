// Package config loads isstrack settings from an optional YAML file and
// ISSTRACK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"github.com/star/isstrack/internal/refresh"
	"github.com/star/isstrack/internal/transform"
)

var (
	// ErrAuthTokenRequired is returned when auth is enabled without a token.
	ErrAuthTokenRequired = errors.New("auth token is required when auth is enabled")
	// ErrUnknownSnapshotBackend is returned for a backend other than file, redis or none.
	ErrUnknownSnapshotBackend = errors.New("snapshot backend must be one of file, redis, none")
	// ErrRedisURLRequired is returned when the redis backend has no URL.
	ErrRedisURLRequired = errors.New("redis URL is required for the redis snapshot backend")
	// ErrInvalidSchedule is returned when the refresh schedule does not parse.
	ErrInvalidSchedule = errors.New("invalid refresh schedule")
	// ErrInvalidModel is returned for an unknown frame model.
	ErrInvalidModel = errors.New("invalid frame model")
	// ErrInvalidLogLevel is returned for an unknown log level.
	ErrInvalidLogLevel = errors.New("log level must be one of debug, info, warn, error")
)

// Config is the full service configuration.
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	HTTP struct {
		Addr       string `yaml:"addr" default:":8080"`
		TrustProxy bool   `yaml:"trust_proxy"`
	} `yaml:"http"`

	Auth struct {
		Enabled bool   `yaml:"enabled"`
		Token   string `yaml:"token"`
	} `yaml:"auth"`

	Source struct {
		URL          string        `yaml:"url" default:"https://nasa-public-data.s3.amazonaws.com/iss-coords/current/ISS_OEM/ISS.OEM_J2K_EPH.xml"`
		Timeout      time.Duration `yaml:"timeout" default:"60s"`
		MaxBodyBytes int64         `yaml:"max_body_bytes" default:"52428800"`
	} `yaml:"source"`

	Refresh struct {
		Enabled      bool          `yaml:"enabled" default:"true"`
		Schedule     string        `yaml:"schedule" default:"@every 10m"`
		FetchTimeout time.Duration `yaml:"fetch_timeout" default:"2m"`
		HookTimeout  time.Duration `yaml:"hook_timeout" default:"30s"`
		RetryInitial time.Duration `yaml:"retry_initial" default:"15s"`
		RetryMax     time.Duration `yaml:"retry_max" default:"5m"`
	} `yaml:"refresh"`

	Snapshot struct {
		Backend  string        `yaml:"backend" default:"file"`
		Dir      string        `yaml:"dir" default:"/tmp/isstrack/snapshots"`
		MaxFiles int           `yaml:"max_files" default:"5"`
		RedisURL string        `yaml:"redis_url"`
		RedisKey string        `yaml:"redis_key" default:"isstrack:snapshot"`
		RedisTTL time.Duration `yaml:"redis_ttl"`
	} `yaml:"snapshot"`

	Notify struct {
		NATSURL string `yaml:"nats_url"`
		Subject string `yaml:"subject" default:"isstrack.table.generation"`
	} `yaml:"notify"`

	Geocode struct {
		Enabled   bool          `yaml:"enabled" default:"true"`
		BaseURL   string        `yaml:"base_url" default:"https://nominatim.openstreetmap.org"`
		UserAgent string        `yaml:"user_agent" default:"isstrack/1.0"`
		Timeout   time.Duration `yaml:"timeout" default:"10s"`
	} `yaml:"geocode"`

	Transform struct {
		Model              string `yaml:"model" default:"iau76"`
		GroundtrackWorkers int    `yaml:"groundtrack_workers"`
	} `yaml:"transform"`

	Stream struct {
		MaxConcurrentPerIP int           `yaml:"max_concurrent_per_ip" default:"10"`
		MaxTotal           int           `yaml:"max_total" default:"1000"`
		Interval           time.Duration `yaml:"interval" default:"5s"`
		KeepaliveInterval  time.Duration `yaml:"keepalive_interval" default:"30s"`
	} `yaml:"stream"`
}

// Load builds a Config from defaults, then the YAML file at path (a missing
// file is not an error), then ISSTRACK_* environment overrides. Malformed
// environment values are logged and ignored.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Info("config file not found, using defaults and environment", "component", "config", "path", path)
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg, os.LookupEnv, logger)
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Auth.Enabled && c.Auth.Token == "" {
		return ErrAuthTokenRequired
	}
	switch c.Snapshot.Backend {
	case "file", "none":
	case "redis":
		if c.Snapshot.RedisURL == "" {
			return ErrRedisURLRequired
		}
	default:
		return fmt.Errorf("%w: got %q", ErrUnknownSnapshotBackend, c.Snapshot.Backend)
	}
	if _, err := refresh.ParseSchedule(c.Refresh.Schedule); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	if _, err := transform.ParseModel(c.Transform.Model); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
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

type lookupFunc func(string) (string, bool)

// envReader applies one kind of override, warning and keeping the current
// value when the variable does not parse.
type envReader struct {
	lookup lookupFunc
	logger *slog.Logger
}

func (e envReader) str(name string, dst *string) {
	if v, ok := e.lookup(name); ok && v != "" {
		*dst = v
	}
}

func (e envReader) boolean(name string, dst *bool) {
	v, ok := e.lookup(name)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.logger.Warn("invalid "+name+" value, using default", "component", "config", "value", v, "default", *dst)
		return
	}
	*dst = b
}

func (e envReader) positiveInt(name string, dst *int) {
	v, ok := e.lookup(name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		e.logger.Warn("invalid "+name+" value, using default", "component", "config", "value", v, "default", *dst)
		return
	}
	*dst = n
}

// duration accepts a Go duration ("90s") or a bare number of seconds.
func (e envReader) duration(name string, dst *time.Duration) {
	v, ok := e.lookup(name)
	if !ok || v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		*dst = time.Duration(n) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		e.logger.Warn("invalid "+name+" value, using default", "component", "config", "value", v, "default", dst.String())
		return
	}
	*dst = d
}

func applyEnv(c *Config, lookup lookupFunc, logger *slog.Logger) {
	e := envReader{lookup: lookup, logger: logger}

	e.str("ISSTRACK_LOG_LEVEL", &c.LogLevel)

	e.str("ISSTRACK_HTTP_ADDR", &c.HTTP.Addr)
	e.boolean("ISSTRACK_TRUST_PROXY", &c.HTTP.TrustProxy)

	e.boolean("ISSTRACK_AUTH_ENABLED", &c.Auth.Enabled)
	e.str("ISSTRACK_AUTH_TOKEN", &c.Auth.Token)

	e.str("ISSTRACK_SOURCE_URL", &c.Source.URL)
	e.duration("ISSTRACK_SOURCE_TIMEOUT", &c.Source.Timeout)

	e.boolean("ISSTRACK_REFRESH_ENABLED", &c.Refresh.Enabled)
	e.str("ISSTRACK_REFRESH_SCHEDULE", &c.Refresh.Schedule)
	e.duration("ISSTRACK_REFRESH_FETCH_TIMEOUT", &c.Refresh.FetchTimeout)
	e.duration("ISSTRACK_REFRESH_RETRY_MAX", &c.Refresh.RetryMax)

	e.str("ISSTRACK_SNAPSHOT_BACKEND", &c.Snapshot.Backend)
	e.str("ISSTRACK_SNAPSHOT_DIR", &c.Snapshot.Dir)
	e.positiveInt("ISSTRACK_SNAPSHOT_MAX_FILES", &c.Snapshot.MaxFiles)
	e.str("ISSTRACK_REDIS_URL", &c.Snapshot.RedisURL)
	e.str("ISSTRACK_REDIS_KEY", &c.Snapshot.RedisKey)
	e.duration("ISSTRACK_REDIS_TTL", &c.Snapshot.RedisTTL)

	e.str("ISSTRACK_NATS_URL", &c.Notify.NATSURL)
	e.str("ISSTRACK_NATS_SUBJECT", &c.Notify.Subject)

	e.boolean("ISSTRACK_GEOCODE_ENABLED", &c.Geocode.Enabled)
	e.str("ISSTRACK_GEOCODE_URL", &c.Geocode.BaseURL)
	e.str("ISSTRACK_GEOCODE_USER_AGENT", &c.Geocode.UserAgent)
	e.duration("ISSTRACK_GEOCODE_TIMEOUT", &c.Geocode.Timeout)

	e.str("ISSTRACK_FRAME_MODEL", &c.Transform.Model)
	e.positiveInt("ISSTRACK_GROUNDTRACK_WORKERS", &c.Transform.GroundtrackWorkers)

	e.positiveInt("ISSTRACK_STREAM_MAX_CONCURRENT", &c.Stream.MaxConcurrentPerIP)
	e.positiveInt("ISSTRACK_STREAM_MAX_TOTAL", &c.Stream.MaxTotal)
	e.duration("ISSTRACK_STREAM_INTERVAL", &c.Stream.Interval)
	e.duration("ISSTRACK_STREAM_KEEPALIVE_INTERVAL", &c.Stream.KeepaliveInterval)
}
