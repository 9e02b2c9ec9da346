package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonwraymond/apikit/observe"
	"github.com/jonwraymond/apikit/secret"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"APIKIT_BASE_URL": "https://api.example.com"})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Timeout != 30*time.Second || cfg.DefaultTTL != 5*time.Minute || cfg.MaxTTL != time.Hour {
		t.Errorf("durations = %v %v %v", cfg.Timeout, cfg.DefaultTTL, cfg.MaxTTL)
	}
	if cfg.Debounce != 500*time.Millisecond {
		t.Errorf("Debounce = %v, want 500ms", cfg.Debounce)
	}
	if !cfg.Dedupe || !cfg.AutoRefresh {
		t.Errorf("Dedupe = %v AutoRefresh = %v, want true/true", cfg.Dedupe, cfg.AutoRefresh)
	}
	if cfg.Storage != StorageMemory || cfg.ClientAuth != "client_secret_basic" {
		t.Errorf("Storage = %q ClientAuth = %q", cfg.Storage, cfg.ClientAuth)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadFrom_Values(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"APIKIT_BASE_URL":        "https://api.example.com",
		"APIKIT_DEFAULT_HEADERS": "X-Tenant=acme,X-App=web",
		"APIKIT_SCOPES":          "read write",
		"APIKIT_DEDUPE":          "false",
		"APIKIT_MAX_ENTRIES":     "100",
		"APIKIT_STORAGE":         "redis",
		"APIKIT_REDIS_ADDR":      "localhost:6379",
	})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.DefaultHeaders["X-Tenant"] != "acme" || cfg.DefaultHeaders["X-App"] != "web" {
		t.Errorf("DefaultHeaders = %v", cfg.DefaultHeaders)
	}
	if len(cfg.Scopes) != 2 || cfg.Scopes[1] != "write" {
		t.Errorf("Scopes = %v", cfg.Scopes)
	}
	if cfg.Dedupe {
		t.Error("Dedupe = true, want false")
	}
	if p := cfg.CachePolicy(); p.MaxEntries != 100 || p.DebounceWindow != 500*time.Millisecond {
		t.Errorf("CachePolicy() = %+v", p)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, _ := LoadFrom(map[string]string{"APIKIT_BASE_URL": "https://api.example.com"})
		return cfg
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"missing base url", func(c *Config) { c.BaseURL = "" }, ErrMissingBaseURL},
		{"relative base url", func(c *Config) { c.BaseURL = "/api" }, ErrInvalidBaseURL},
		{"unknown storage", func(c *Config) { c.Storage = "s3" }, ErrInvalidStorage},
		{"file without path", func(c *Config) { c.Storage = StorageFile }, ErrMissingStoragePath},
		{"sqlite without path", func(c *Config) { c.Storage = StorageSQLite }, ErrMissingStoragePath},
		{"redis without addr", func(c *Config) { c.Storage = StorageRedis }, ErrMissingRedisAddr},
		{"bad client auth", func(c *Config) { c.ClientAuth = "private_key_jwt" }, ErrInvalidClientAuth},
		{"token url without client", func(c *Config) { c.TokenURL = "https://id.example.com/token" }, ErrMissingClientID},
		{"negative leeway", func(c *Config) { c.ExpiryLeeway = -time.Second }, ErrNegativeDuration},
		{"default above max", func(c *Config) { c.DefaultTTL = 2 * time.Hour }, ErrInvalidTTL},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, observe.ErrInvalidLogLevel},
		{"bad exporter", func(c *Config) { c.MetricsExporter = "statsd" }, observe.ErrInvalidMetricsExporter},
		{"valid sqlite", func(c *Config) { c.Storage = StorageSQLite; c.StoragePath = "/tmp/a.db" }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveSecrets(t *testing.T) {
	t.Setenv("APIKIT_TEST_CLIENT_SECRET", "shh")
	t.Setenv("APIKIT_TEST_API_KEY", "k-123")

	cfg := Config{
		ClientSecret:   "secretref:env:APIKIT_TEST_CLIENT_SECRET",
		RedisPassword:  "plain",
		DefaultHeaders: map[string]string{"X-Api-Key": "${APIKIT_TEST_API_KEY}"},
	}
	if err := cfg.ResolveSecrets(context.Background(), secret.NewDefaultResolver()); err != nil {
		t.Fatalf("ResolveSecrets() error = %v", err)
	}
	if cfg.ClientSecret != "shh" || cfg.RedisPassword != "plain" || cfg.DefaultHeaders["X-Api-Key"] != "k-123" {
		t.Errorf("resolved = %q %q %v", cfg.ClientSecret, cfg.RedisPassword, cfg.DefaultHeaders)
	}

	bad := Config{ClientSecret: "secretref:env:APIKIT_TEST_NOT_SET"}
	if err := bad.ResolveSecrets(context.Background(), secret.NewDefaultResolver()); !errors.Is(err, secret.ErrMissingEnv) {
		t.Fatalf("ResolveSecrets() error = %v, want ErrMissingEnv", err)
	}
}

func TestObserve(t *testing.T) {
	cfg := Config{ServiceName: "svc", LogLevel: "debug", MetricsExporter: "prometheus", TracingExporter: "none"}
	obs := cfg.Observe()
	if !obs.Metrics.Enabled || obs.Tracing.Enabled || obs.Logging.Level != "debug" {
		t.Errorf("Observe() = %+v", obs)
	}
}
