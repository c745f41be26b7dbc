package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/furisto/batchinfer/backend/model"
)

var ErrInvalidConfig = errors.New("invalid provider config")

// Provider turns conversations into wire requests for one remote LLM API.
// Implementations are immutable after construction and safe for concurrent use.
//
//go:generate mockgen -destination=mocks/provider_mock.go -package=mocks . Provider
type Provider interface {
	Kind() model.ProviderKind
	Model() string
	// RequestBody is deterministic: equal inputs always produce equal bytes.
	RequestBody(systemPrompt string, conv model.Conversation, temperature float64) ([]byte, error)
	// Invoke sends body with the variant's authentication. The caller owns the
	// response body.
	Invoke(ctx context.Context, client *http.Client, body []byte) (*http.Response, error)
	ExtractUsage(results []*model.Completion) (model.Usage, error)
	ComputeCost(usage model.Usage) (model.CostSummary, error)
}

type Config struct {
	Kind         model.ProviderKind `yaml:"kind"`
	Model        string             `yaml:"model"`
	Region       string             `yaml:"region"`
	BaseURL      string             `yaml:"base_url"`
	APIKey       string             `yaml:"api_key"`
	AccessKey    string             `yaml:"access_key"`
	SecretKey    string             `yaml:"secret_key"`
	SessionToken string             `yaml:"session_token"`
	MaxTokens    int64              `yaml:"max_tokens"`
}

const (
	DefaultBedrockModel   = "anthropic.claude-3-haiku-20240307-v1:0"
	DefaultBedrockRegion  = "us-west-2"
	DefaultAnthropicModel = "claude-3-5-haiku-20241022"
	DefaultOpenAIURL      = "https://api.openai.com/v1/chat/completions"
	DefaultAnthropicURL   = "https://api.anthropic.com/v1/messages"
	DefaultMaxTokens      = 4096
)

// WithDefaults fills the fields a variant can do without.
func (c Config) WithDefaults() Config {
	switch c.Kind {
	case model.ProviderKindBedrock:
		if c.Model == "" {
			c.Model = DefaultBedrockModel
		}
		if c.Region == "" {
			c.Region = DefaultBedrockRegion
		}
	case model.ProviderKindAnthropic:
		if c.Model == "" {
			c.Model = DefaultAnthropicModel
		}
		if c.BaseURL == "" {
			c.BaseURL = DefaultAnthropicURL
		}
	case model.ProviderKindOpenAI:
		if c.BaseURL == "" {
			c.BaseURL = DefaultOpenAIURL
		}
	}

	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}

	return c
}

func (c Config) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: unknown provider kind %q", ErrInvalidConfig, c.Kind)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("%w: max tokens must not be negative", ErrInvalidConfig)
	}

	switch c.Kind {
	case model.ProviderKindBedrock:
		if c.AccessKey == "" || c.SecretKey == "" {
			return fmt.Errorf("%w: bedrock requires an access key and a secret key", ErrInvalidConfig)
		}
		if c.Region == "" {
			return fmt.Errorf("%w: bedrock requires a region", ErrInvalidConfig)
		}
	case model.ProviderKindOpenAI, model.ProviderKindAnthropic:
		if c.APIKey == "" {
			return fmt.Errorf("%w: %s API key is required", ErrInvalidConfig, c.Kind)
		}
	}

	return nil
}

type ProviderOptions struct {
	URL    string
	Logger *slog.Logger
	Now    func() time.Time
}

type ProviderOption func(*ProviderOptions)

func WithURL(url string) ProviderOption {
	return func(options *ProviderOptions) {
		options.URL = url
	}
}

func WithLogger(logger *slog.Logger) ProviderOption {
	return func(options *ProviderOptions) {
		options.Logger = logger
	}
}

func withClock(now func() time.Time) ProviderOption {
	return func(options *ProviderOptions) {
		options.Now = now
	}
}

func DefaultProviderOptions() *ProviderOptions {
	return &ProviderOptions{
		Logger: slog.Default(),
		Now:    time.Now,
	}
}

// New builds the provider variant selected by cfg.Kind.
func New(cfg Config, opts ...ProviderOption) (Provider, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := DefaultProviderOptions()
	if cfg.BaseURL != "" {
		options.URL = cfg.BaseURL
	}
	for _, opt := range opts {
		opt(options)
	}

	switch cfg.Kind {
	case model.ProviderKindBedrock:
		return newBedrockProvider(cfg, options), nil
	case model.ProviderKindOpenAI:
		return newOpenAIProvider(cfg, options), nil
	case model.ProviderKindAnthropic:
		return newAnthropicProvider(cfg, options), nil
	}

	return nil, fmt.Errorf("%w: unknown provider kind %q", ErrInvalidConfig, cfg.Kind)
}

func newJSONRequest(ctx context.Context, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func computeCost(kind model.ProviderKind, modelName string, usage model.Usage) (model.CostSummary, error) {
	pricing, err := model.LookupPricing(kind, modelName)
	if err != nil {
		return model.CostSummary{}, err
	}
	return model.ComputeCost(pricing, usage), nil
}

// extractUsage sums the usage reported by every non-nil result. decode maps a
// single response body to its token counts.
func extractUsage(results []*model.Completion, decode func(body []byte) (model.Usage, error)) (model.Usage, error) {
	var total model.Usage
	for i, result := range results {
		if result == nil {
			continue
		}
		usage, err := decode(result.Body)
		if err != nil {
			return model.Usage{}, fmt.Errorf("result %d: %w", i, err)
		}
		total = total.Add(usage)
	}
	return total, nil
}

// ExtractUsage decodes token counts for results produced by a provider of the
// given kind. It needs no credentials, so cached completions can be priced
// offline.
func ExtractUsage(kind model.ProviderKind, results []*model.Completion) (model.Usage, error) {
	logger := slog.Default()
	switch kind {
	case model.ProviderKindBedrock, model.ProviderKindAnthropic:
		return extractUsage(results, func(body []byte) (model.Usage, error) {
			return decodeAnthropicUsage(logger, body)
		})
	case model.ProviderKindOpenAI:
		return extractUsage(results, func(body []byte) (model.Usage, error) {
			return decodeOpenAIUsage(logger, body)
		})
	}

	return model.Usage{}, fmt.Errorf("%w: unknown provider kind %q", ErrInvalidConfig, kind)
}

func ComputeCost(kind model.ProviderKind, modelName string, usage model.Usage) (model.CostSummary, error) {
	return computeCost(kind, modelName, usage)
}
