// Package config loads the copilot's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	Provider   ProviderConfig   `yaml:"provider"`
	Generation GenerationConfig `yaml:"generation"`
	Session    SessionConfig    `yaml:"session"`
	Retry      RetryConfig      `yaml:"retry"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ProviderConfig selects the completion service.
type ProviderConfig struct {
	// Name is one of gemini, openai, anthropic, bedrock or noop.
	Name    string `yaml:"name"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// Region is only used by bedrock.
	Region string `yaml:"region"`
}

// GenerationConfig holds the sampling parameters. Pointer fields accept an
// explicit 0; only an absent key falls back to the default.
type GenerationConfig struct {
	Temperature     *float64 `yaml:"temperature"`
	TopP            *float64 `yaml:"top_p"`
	TopK            *int64   `yaml:"top_k"`
	MaxOutputTokens int64    `yaml:"max_output_tokens"`
}

type SessionConfig struct {
	ContextWindowLimit int           `yaml:"context_window_limit"`
	WarningRatio       float64       `yaml:"warning_ratio"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	SystemInstruction  string        `yaml:"system_instruction"`
}

type RetryConfig struct {
	MaxRetries        *int           `yaml:"max_retries"`
	InitialDelay      *time.Duration `yaml:"initial_delay"`
	BackoffMultiplier float64        `yaml:"backoff_multiplier"`
}

// RateLimitConfig paces requests on the client side. Zero disables pacing.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type StorageConfig struct {
	// Driver is one of memory, sqlite or postgres.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LoggingConfig struct {
	// Backend is one of logrus, zap, default or null.
	Backend string `yaml:"backend"`
	Level   string `yaml:"level"`
}

type MetricsConfig struct {
	// Addr is the listen address of the prometheus endpoint. Empty disables it.
	Addr string `yaml:"addr"`
}

const (
	defaultModel              = "gemini-2.0-flash"
	defaultContextWindowLimit = 1_048_576
)

// Default returns the configuration used when no file is given. The Gemini
// API key is read from GEMINI_API_KEY.
func Default() *Config {
	cfg := &Config{
		Provider: ProviderConfig{
			Name:   "gemini",
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
	}
	cfg.applyDefaults()
	return cfg
}

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads a YAML configuration file, expands environment variables,
// applies defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse is Load without the file read.
func Parse(raw []byte) (*Config, error) {
	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: expanding variables: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw YAML bytes.
// Returns an error listing all unresolved variables (no default, no env value).
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		hasDefault := len(subs) > 2 && subs[2] != nil

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if hasDefault {
			return subs[2]
		}

		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	if c.Provider.Name == "" {
		c.Provider.Name = "gemini"
	}
	if c.Provider.Model == "" && c.Provider.Name == "gemini" {
		c.Provider.Model = defaultModel
	}

	setDefault(&c.Generation.Temperature, 0.3)
	setDefault(&c.Generation.TopP, 0.95)
	setDefault(&c.Generation.TopK, 64)
	if c.Generation.MaxOutputTokens == 0 {
		c.Generation.MaxOutputTokens = 8192
	}

	if c.Session.ContextWindowLimit == 0 {
		c.Session.ContextWindowLimit = defaultContextWindowLimit
	}
	if c.Session.WarningRatio == 0 {
		c.Session.WarningRatio = 0.8
	}

	setDefault(&c.Retry.MaxRetries, 3)
	setDefault(&c.Retry.InitialDelay, 2*time.Second)
	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = 2
	}

	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 1
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}

	if c.Logging.Backend == "" {
		c.Logging.Backend = "logrus"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "warn"
	}
}

func setDefault[T any](field **T, value T) {
	if *field == nil {
		*field = &value
	}
}

// Validate reports every semantic problem in the configuration.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider.Name {
	case "gemini", "openai", "anthropic":
		if c.Provider.APIKey == "" {
			errs = append(errs, fmt.Errorf("provider.api_key is required for %s", c.Provider.Name))
		}
	case "bedrock", "noop":
	default:
		errs = append(errs, fmt.Errorf("unknown provider.name %q", c.Provider.Name))
	}

	if t := c.Generation.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("generation.temperature must be within [0, 2], got %v", *t))
	}
	if p := c.Generation.TopP; p != nil && (*p < 0 || *p > 1) {
		errs = append(errs, fmt.Errorf("generation.top_p must be within [0, 1], got %v", *p))
	}
	if k := c.Generation.TopK; k != nil && *k < 0 {
		errs = append(errs, fmt.Errorf("generation.top_k must not be negative"))
	}
	if c.Generation.MaxOutputTokens < 0 {
		errs = append(errs, fmt.Errorf("generation.max_output_tokens must not be negative"))
	}

	if c.Session.ContextWindowLimit < 0 {
		errs = append(errs, fmt.Errorf("session.context_window_limit must be positive"))
	}
	if c.Session.WarningRatio <= 0 || c.Session.WarningRatio > 1 {
		errs = append(errs, fmt.Errorf("session.warning_ratio must be within (0, 1], got %v", c.Session.WarningRatio))
	}
	if c.Session.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.request_timeout must not be negative"))
	}

	if c.Retry.MaxRetries != nil && *c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries must not be negative"))
	}
	if d := c.Retry.InitialDelay; d != nil && *d < 0 {
		errs = append(errs, fmt.Errorf("retry.initial_delay must not be negative"))
	}
	if c.Retry.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("retry.backoff_multiplier must be at least 1, got %v", c.Retry.BackoffMultiplier))
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.requests_per_second must not be negative"))
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for %s", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	switch strings.ToLower(c.Logging.Backend) {
	case "logrus", "zap", "default", "null", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown logging.backend %q", c.Logging.Backend))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}
