// Package config loads apikit settings from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/jonwraymond/apikit/cache"
	"github.com/jonwraymond/apikit/credential"
	"github.com/jonwraymond/apikit/observe"
	"github.com/jonwraymond/apikit/secret"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"
)

// ValidStorageBackends lists valid APIKIT_STORAGE values.
var ValidStorageBackends = []string{StorageMemory, StorageFile, StorageRedis, StorageSQLite}

// Configuration errors.
var (
	ErrMissingBaseURL     = errors.New("config: base URL is required")
	ErrInvalidBaseURL     = errors.New("config: base URL is invalid")
	ErrInvalidStorage     = errors.New("config: invalid storage backend")
	ErrMissingStoragePath = errors.New("config: storage path is required")
	ErrMissingRedisAddr   = errors.New("config: redis address is required")
	ErrInvalidClientAuth  = errors.New("config: invalid client auth method")
	ErrMissingClientID    = errors.New("config: client id is required with a token URL")
	ErrNegativeDuration   = errors.New("config: duration must not be negative")
	ErrInvalidTTL         = errors.New("config: default TTL exceeds max TTL")
)

// Config is the environment-driven configuration of a session.
type Config struct {
	// Pipeline.
	BaseURL        string            `env:"APIKIT_BASE_URL"`
	Timeout        time.Duration     `env:"APIKIT_TIMEOUT"          envDefault:"30s"`
	DefaultHeaders map[string]string `env:"APIKIT_DEFAULT_HEADERS"  envSeparator:"," envKeyValSeparator:"="`
	Dedupe         bool              `env:"APIKIT_DEDUPE"           envDefault:"true"`
	AutoRefresh    bool              `env:"APIKIT_AUTO_REFRESH"     envDefault:"true"`
	RequestIDs     bool              `env:"APIKIT_REQUEST_IDS"`

	// Cache.
	DefaultTTL time.Duration `env:"APIKIT_DEFAULT_TTL"  envDefault:"5m"`
	MaxTTL     time.Duration `env:"APIKIT_MAX_TTL"      envDefault:"1h"`
	Debounce   time.Duration `env:"APIKIT_DEBOUNCE"     envDefault:"500ms"`
	MaxEntries int           `env:"APIKIT_MAX_ENTRIES"`

	// Credential.
	TokenURL     string        `env:"APIKIT_TOKEN_URL"`
	ClientID     string        `env:"APIKIT_CLIENT_ID"`
	ClientSecret string        `env:"APIKIT_CLIENT_SECRET"`
	ClientAuth   string        `env:"APIKIT_CLIENT_AUTH"    envDefault:"client_secret_basic"`
	Scopes       []string      `env:"APIKIT_SCOPES"         envSeparator:" "`
	ExpiryLeeway time.Duration `env:"APIKIT_EXPIRY_LEEWAY"`
	RefreshWait  time.Duration `env:"APIKIT_REFRESH_WAIT"`

	// Storage.
	Storage       string        `env:"APIKIT_STORAGE"         envDefault:"memory"`
	StoragePath   string        `env:"APIKIT_STORAGE_PATH"`
	RedisAddr     string        `env:"APIKIT_REDIS_ADDR"`
	RedisPassword string        `env:"APIKIT_REDIS_PASSWORD"`
	RedisDB       int           `env:"APIKIT_REDIS_DB"`
	RedisPrefix   string        `env:"APIKIT_REDIS_PREFIX"    envDefault:"apikit:"`
	RedisTTL      time.Duration `env:"APIKIT_REDIS_TTL"`

	// Observability.
	ServiceName     string  `env:"APIKIT_SERVICE_NAME"      envDefault:"apikit"`
	LogLevel        string  `env:"APIKIT_LOG_LEVEL"         envDefault:"info"`
	MetricsExporter string  `env:"APIKIT_METRICS_EXPORTER"  envDefault:"none"`
	TracingExporter string  `env:"APIKIT_TRACING_EXPORTER"  envDefault:"none"`
	TraceSamplePct  float64 `env:"APIKIT_TRACE_SAMPLE_PCT"  envDefault:"1"`
}

// Load parses the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadFrom parses the given environment instead of the process one.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks required fields and enumerations.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.BaseURL)
	}

	for name, d := range map[string]time.Duration{
		"timeout":       c.Timeout,
		"default TTL":   c.DefaultTTL,
		"max TTL":       c.MaxTTL,
		"debounce":      c.Debounce,
		"expiry leeway": c.ExpiryLeeway,
		"refresh wait":  c.RefreshWait,
		"redis TTL":     c.RedisTTL,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s", ErrNegativeDuration, name)
		}
	}
	if c.MaxTTL > 0 && c.DefaultTTL > c.MaxTTL {
		return fmt.Errorf("%w: %s > %s", ErrInvalidTTL, c.DefaultTTL, c.MaxTTL)
	}

	if !slices.Contains(ValidStorageBackends, c.Storage) {
		return fmt.Errorf("%w: %q", ErrInvalidStorage, c.Storage)
	}
	switch c.Storage {
	case StorageFile, StorageSQLite:
		if c.StoragePath == "" {
			return fmt.Errorf("%w: backend %s", ErrMissingStoragePath, c.Storage)
		}
	case StorageRedis:
		if c.RedisAddr == "" {
			return ErrMissingRedisAddr
		}
	}

	if c.ClientAuth != credential.ClientSecretBasic && c.ClientAuth != credential.ClientSecretPost {
		return fmt.Errorf("%w: %q", ErrInvalidClientAuth, c.ClientAuth)
	}
	if c.TokenURL != "" && c.ClientID == "" {
		return ErrMissingClientID
	}

	obs := c.Observe()
	return obs.Validate()
}

// ResolveSecrets expands ${VAR} and secretref: references in the secret
// bearing fields and default headers.
func (c *Config) ResolveSecrets(ctx context.Context, r *secret.Resolver) error {
	var err error
	if c.ClientSecret, err = r.ResolveValue(ctx, c.ClientSecret); err != nil {
		return fmt.Errorf("client secret: %w", err)
	}
	if c.RedisPassword, err = r.ResolveValue(ctx, c.RedisPassword); err != nil {
		return fmt.Errorf("redis password: %w", err)
	}
	if c.DefaultHeaders, err = r.ResolveMap(ctx, c.DefaultHeaders); err != nil {
		return fmt.Errorf("default headers: %w", err)
	}
	return nil
}

// CachePolicy returns the cache policy described by c.
func (c *Config) CachePolicy() cache.Policy {
	return cache.Policy{
		DefaultTTL:     c.DefaultTTL,
		MaxTTL:         c.MaxTTL,
		DebounceWindow: c.Debounce,
		MaxEntries:     c.MaxEntries,
	}
}

// OAuth2 returns the token endpoint settings described by c.
func (c *Config) OAuth2() credential.OAuth2Config {
	return credential.OAuth2Config{
		TokenURL:         c.TokenURL,
		ClientID:         c.ClientID,
		ClientSecret:     c.ClientSecret,
		ClientAuthMethod: c.ClientAuth,
		Scopes:           c.Scopes,
	}
}

// Observe returns the observer configuration described by c.
func (c *Config) Observe() observe.Config {
	return observe.Config{
		ServiceName: c.ServiceName,
		Tracing: observe.TracingConfig{
			Enabled:   c.TracingExporter != "none" && c.TracingExporter != "",
			Exporter:  c.TracingExporter,
			SamplePct: c.TraceSamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.MetricsExporter != "none" && c.MetricsExporter != "",
			Exporter: c.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   c.LogLevel,
		},
	}
}
