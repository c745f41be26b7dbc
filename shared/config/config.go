package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/adrg/xdg"
	"github.com/furisto/batchinfer/shared/resilience"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	DefaultCacheDir      = "cache"
	DefaultMaxInFlight   = 32
	DefaultCacheFailures = "retry"
	DefaultProvider      = "bedrock"
)

type Config struct {
	CacheDir       string                          `yaml:"cache_dir"`
	MaxInFlight    int                             `yaml:"max_in_flight"`
	CacheFailures  string                          `yaml:"cache_failures"`
	LogFile        string                          `yaml:"log_file"`
	Retry          resilience.RetryConfig          `yaml:"retry"`
	CircuitBreaker resilience.CircuitBreakerConfig `yaml:"circuit_breaker"`
	Provider       ProviderConfig                  `yaml:"provider"`
}

type ProviderConfig struct {
	Kind         string `yaml:"kind"`
	Model        string `yaml:"model"`
	Region       string `yaml:"region"`
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	SessionToken string `yaml:"session_token"`
	MaxTokens    int64  `yaml:"max_tokens"`
}

func Default() *Config {
	return &Config{
		CacheDir:       DefaultCacheDir,
		MaxInFlight:    DefaultMaxInFlight,
		CacheFailures:  DefaultCacheFailures,
		Retry:          *resilience.DefaultRetryConfig(),
		CircuitBreaker: resilience.DefaultCircuitBreakerConfig(),
		Provider:       ProviderConfig{Kind: DefaultProvider},
	}
}

// DefaultPath is $XDG_CONFIG_HOME/batchinfer/config.yaml.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "batchinfer", "config.yaml")
}

// LookupEnv matches os.LookupEnv so tests can pass a map instead.
type LookupEnv func(key string) (string, bool)

// Load reads the config file at path on top of the defaults and overlays the
// environment. An empty path means DefaultPath, which may be absent.
func Load(fs afero.Fs, path string, lookupEnv LookupEnv) (*Config, error) {
	cfg := Default()

	optional := path == ""
	if optional {
		path = DefaultPath()
	}

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to access config file %s: %w", path, err)
	}

	switch {
	case exists:
		content, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := decode(content, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
	case !optional:
		return nil, fmt.Errorf("config file %s does not exist", path)
	}

	if lookupEnv != nil {
		if err := cfg.ApplyEnv(lookupEnv); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func decode(content []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overlays environment variables. Vendor credential variables only
// fill values the file left empty; BATCHINFER_* variables always win.
func (c *Config) ApplyEnv(lookupEnv LookupEnv) error {
	override := func(target *string, key string) {
		if value, ok := lookupEnv(key); ok && value != "" {
			*target = value
		}
	}

	override(&c.Provider.Kind, "BATCHINFER_PROVIDER")
	override(&c.Provider.Model, "BATCHINFER_MODEL")
	override(&c.Provider.Region, "BATCHINFER_REGION")
	override(&c.Provider.BaseURL, "BATCHINFER_BASE_URL")
	override(&c.Provider.APIKey, "BATCHINFER_API_KEY")
	override(&c.CacheDir, "BATCHINFER_CACHE_DIR")
	override(&c.CacheFailures, "BATCHINFER_CACHE_FAILURES")
	override(&c.LogFile, "BATCHINFER_LOG_FILE")

	c.FillCredentials(lookupEnv)

	if value, ok := lookupEnv("BATCHINFER_MAX_IN_FLIGHT"); ok && value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: BATCHINFER_MAX_IN_FLIGHT: %v", ErrInvalidConfig, err)
		}
		c.MaxInFlight = n
	}

	return nil
}

// FillCredentials copies vendor credential variables into empty provider
// fields. The API key variable depends on the provider kind, so it runs again
// whenever the kind changes after loading.
func (c *Config) FillCredentials(lookupEnv LookupEnv) {
	fill := func(target *string, keys ...string) {
		if *target != "" {
			return
		}
		for _, key := range keys {
			if value, ok := lookupEnv(key); ok && value != "" {
				*target = value
				return
			}
		}
	}

	fill(&c.Provider.AccessKey, "AWS_ACCESS_KEY", "AWS_ACCESS_KEY_ID")
	fill(&c.Provider.SecretKey, "AWS_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")
	fill(&c.Provider.SessionToken, "AWS_SESSION_TOKEN")

	switch c.Provider.Kind {
	case "openai":
		fill(&c.Provider.APIKey, "OPENAI_API_KEY")
	case "anthropic":
		fill(&c.Provider.APIKey, "ANTHROPIC_API_KEY")
	}
}

// Validate checks the settings that do not depend on the provider variant.
// Credentials are checked when the provider is built.
func (c *Config) Validate() error {
	if c.CacheDir == "" {
		return fmt.Errorf("%w: cache_dir must not be empty", ErrInvalidConfig)
	}
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("%w: max_in_flight must be positive, got %d", ErrInvalidConfig, c.MaxInFlight)
	}
	if c.CacheFailures != "retry" && c.CacheFailures != "sticky" {
		return fmt.Errorf("%w: cache_failures must be \"retry\" or \"sticky\", got %q", ErrInvalidConfig, c.CacheFailures)
	}
	switch c.Provider.Kind {
	case "bedrock", "openai", "anthropic":
	default:
		return fmt.Errorf("%w: unknown provider kind %q", ErrInvalidConfig, c.Provider.Kind)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: retry: %v", ErrInvalidConfig, err)
	}
	if err := c.CircuitBreaker.Validate(); err != nil {
		return fmt.Errorf("%w: circuit_breaker: %v", ErrInvalidConfig, err)
	}
	return nil
}
