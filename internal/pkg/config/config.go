package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is read when Load is given no path.
const DefaultPath = "oapipe.yaml"

// EnvPrefix prefixes environment overrides. OAPIPE_LOGGING__LEVEL sets
// logging.level.
const EnvPrefix = "OAPIPE_"

type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Validation ValidationConfig `koanf:"validation"`
	Cache      CacheConfig      `koanf:"cache"`
	Retry      RetryConfig      `koanf:"retry"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Journal    JournalConfig    `koanf:"journal"`
	Versions   []VersionConfig  `koanf:"versions"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error, fatal
	Format string `koanf:"format"` // json, text
}

// ValidationConfig holds the registry-wide validation defaults.
type ValidationConfig struct {
	Request           bool `koanf:"request"`
	Response          bool `koanf:"response"`
	RequestStatusCode int  `koanf:"request_status_code"`
}

// CacheConfig holds the defaults for cache combinators built by the runtime.
type CacheConfig struct {
	MaxSize int           `koanf:"max_size"`
	MaxAge  time.Duration `koanf:"max_age"` // 0 keeps entries until evicted
}

// RetryConfig holds the defaults for retry combinators built by the runtime.
type RetryConfig struct {
	MaxAttempts     int           `koanf:"max_attempts"`
	ScalingDuration time.Duration `koanf:"scaling_duration"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// JournalConfig selects where settled operation runs are recorded.
type JournalConfig struct {
	Driver  string `koanf:"driver"`   // none, memory, sqlite
	Path    string `koanf:"path"`     // sqlite database file
	MaxRuns int    `koanf:"max_runs"` // memory driver only, 0 is unbounded
}

// VersionConfig declares one API version. Versions inherit in declaration
// order, so InheritFrom must name an earlier entry.
type VersionConfig struct {
	Name        string `koanf:"name"`
	Document    string `koanf:"document"` // path to an OpenAPI document, JSON or YAML
	InheritFrom string `koanf:"inherit_from"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

var defaults = map[string]any{
	"logging.level":                  "info",
	"logging.format":                 "json",
	"validation.request":             true,
	"validation.response":            false,
	"validation.request_status_code": 422,
	"cache.max_size":                 100,
	"cache.max_age":                  "0s",
	"retry.max_attempts":             3,
	"retry.scaling_duration":         "0s",
	"telemetry.enabled":              false,
	"telemetry.service_name":         "oapipe",
	"journal.driver":                 "none",
	"journal.max_runs":               1000,
}

// Load reads the YAML file at path, DefaultPath when empty, then applies
// OAPIPE_ environment overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Versions {
		cfg.Versions[i].Document = substituteEnvVars(cfg.Versions[i].Document)
	}
	cfg.Journal.Path = substituteEnvVars(cfg.Journal.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks version names and inheritance order.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Versions))
	for i, v := range c.Versions {
		if v.Name == "" {
			return fmt.Errorf("versions[%d]: name is required", i)
		}
		if seen[v.Name] {
			return fmt.Errorf("versions[%d]: duplicate version %q", i, v.Name)
		}
		if v.InheritFrom != "" && !seen[v.InheritFrom] {
			return fmt.Errorf("versions[%d]: %q inherits from %q, which is not declared before it", i, v.Name, v.InheritFrom)
		}
		seen[v.Name] = true
	}
	if c.Journal.MaxRuns < 0 {
		return fmt.Errorf("journal.max_runs must not be negative, got %d", c.Journal.MaxRuns)
	}
	if c.Cache.MaxSize < 1 {
		return fmt.Errorf("cache.max_size must be at least 1, got %d", c.Cache.MaxSize)
	}
	return nil
}

// Version returns the declared version named name.
func (c *Config) Version(name string) (VersionConfig, bool) {
	for _, v := range c.Versions {
		if v.Name == name {
			return v, true
		}
	}
	return VersionConfig{}, false
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
