// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultAttemptTimeout bounds a single upstream attempt.
const DefaultAttemptTimeout = 15 * time.Second

// Config holds the application configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	Failover  FailoverConfig   `yaml:"failover"`
	Images    ImagesConfig     `yaml:"images"`
	Cache     CacheConfig      `yaml:"cache"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Tracing   TracingConfig    `yaml:"tracing"`
	Models    []ModelConfig    `yaml:"models"`
	Providers []ProviderConfig `yaml:"providers"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port      string         `yaml:"port"`
	BodyLimit string         `yaml:"body_limit"`
	APIKeys   []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig is one caller credential. An empty list disables auth.
type APIKeyConfig struct {
	Key        string     `yaml:"key"`
	ID         string     `yaml:"id"`
	Premium    bool       `yaml:"premium"`
	ExpiresAt  *time.Time `yaml:"expires_at"`
	UsageLimit *int64     `yaml:"usage_limit"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is pretty, json or auto (pretty on a terminal).
	Format string `yaml:"format"`
}

// FailoverConfig tunes the provider failover loop.
type FailoverConfig struct {
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// ImagesConfig controls the image capability policy.
type ImagesConfig struct {
	AssumeAllSupported bool `yaml:"assume_all_supported"`
	// Models extends the built-in list of provider model ids with vision support.
	Models []string `yaml:"models"`
}

// CacheConfig selects where the catalog snapshot is cached.
type CacheConfig struct {
	Type            string        `yaml:"type"` // "local" or "redis"
	Local           LocalCache    `yaml:"local"`
	Redis           RedisCache    `yaml:"redis"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// LocalCache stores the snapshot in a JSON file.
type LocalCache struct {
	Path string `yaml:"path"`
}

// RedisCache stores the snapshot under a single key.
type RedisCache struct {
	URL string        `yaml:"url"`
	Key string        `yaml:"key"`
	TTL time.Duration `yaml:"ttl"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// ModelConfig is one row of the model table.
type ModelConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	OwnedBy string `yaml:"owned_by"`
	Premium bool   `yaml:"premium"`
}

// ProviderConfig is one row of the provider table.
type ProviderConfig struct {
	Name     string            `yaml:"name"`
	Endpoint string            `yaml:"endpoint"`
	APIKey   string            `yaml:"api_key"`
	Models   map[string]string `yaml:"models"`
}

// Load reads .env (if present), the YAML file at path (if non-empty), expands
// environment placeholders, applies env overrides and defaults, and validates.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(expandString(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. A variable that is unset
// or empty falls back to its default; without a default the placeholder is
// left as written.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		groups := placeholder.FindStringSubmatch(match)
		name, hasDefault, def := groups[1], groups[2] != "", groups[3]
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasDefault {
			return def
		}
		return match
	})
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.Redis.URL = v
	}
	if v := os.Getenv("RELAYGATE_ASSUME_IMAGES"); v != "" {
		cfg.Images.AssumeAllSupported = v == "1" || strings.EqualFold(v, "true")
	}
	for i := range cfg.Providers {
		if v := os.Getenv(ProviderKeyEnv(cfg.Providers[i].Name)); v != "" {
			cfg.Providers[i].APIKey = v
		}
	}
}

// ProviderKeyEnv maps a provider name to its API key variable,
// e.g. "open-router" -> OPEN_ROUTER_API_KEY.
func ProviderKeyEnv(name string) string {
	upper := strings.ToUpper(name)
	upper = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, upper)
	return upper + "_API_KEY"
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.BodyLimit == "" {
		cfg.Server.BodyLimit = "10M"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "auto"
	}
	if cfg.Failover.AttemptTimeout == 0 {
		cfg.Failover.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Cache.Type == "" {
		cfg.Cache.Type = "local"
	}
	if cfg.Cache.Local.Path == "" {
		cfg.Cache.Local.Path = ".cache/catalog.json"
	}
	if cfg.Cache.Redis.Key == "" {
		cfg.Cache.Redis.Key = "relaygate:catalog"
	}
	if cfg.Cache.Redis.TTL == 0 {
		cfg.Cache.Redis.TTL = 24 * time.Hour
	}
	if cfg.Metrics.Endpoint == "" {
		cfg.Metrics.Endpoint = "/metrics"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "relaygate"
	}
	for i := range cfg.Models {
		if cfg.Models[i].Name == "" {
			cfg.Models[i].Name = cfg.Models[i].ID
		}
	}
}

// Validate checks the tables for inconsistencies a request could not recover from.
func (c *Config) Validate() error {
	var errs []error

	if c.Failover.AttemptTimeout < 0 {
		errs = append(errs, fmt.Errorf("failover.attempt_timeout must be positive"))
	}
	switch c.Cache.Type {
	case "local", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.type must be local or redis, got %q", c.Cache.Type))
	}
	if c.Cache.Type == "redis" && c.Cache.Redis.URL == "" {
		errs = append(errs, fmt.Errorf("cache.redis.url is required when cache.type is redis"))
	}

	seenModels := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("models[%d].id is required", i))
			continue
		}
		if seenModels[m.ID] {
			errs = append(errs, fmt.Errorf("models[%d].id %q is duplicated", i, m.ID))
		}
		seenModels[m.ID] = true
	}

	seenProviders := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("providers[%d].name is required", i))
			continue
		}
		if seenProviders[p.Name] {
			errs = append(errs, fmt.Errorf("providers[%d].name %q is duplicated", i, p.Name))
		}
		seenProviders[p.Name] = true
		u, err := url.Parse(p.Endpoint)
		if err != nil || !u.IsAbs() || u.Host == "" {
			errs = append(errs, fmt.Errorf("providers[%d].endpoint %q must be an absolute URL", i, p.Endpoint))
		}
	}

	seenKeys := make(map[string]bool, len(c.Server.APIKeys))
	for i, k := range c.Server.APIKeys {
		if k.Key == "" {
			errs = append(errs, fmt.Errorf("server.api_keys[%d].key is required", i))
			continue
		}
		if seenKeys[k.Key] {
			errs = append(errs, fmt.Errorf("server.api_keys[%d] is duplicated", i))
		}
		seenKeys[k.Key] = true
	}

	return errors.Join(errs...)
}
