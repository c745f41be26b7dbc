package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/furisto/batchinfer/backend/model"
)

const (
	bedrockAnthropicVersion = "bedrock-2023-05-31"
	bedrockSigningService   = "bedrock"
)

type bedrockRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int64              `json:"max_tokens"`
	System           string             `json:"system"`
	Messages         []anthropicMessage `json:"messages"`
	Temperature      float64            `json:"temperature"`
}

// BedrockProvider talks to Anthropic models hosted on AWS Bedrock. Requests
// are signed with SigV4 using static credentials.
type BedrockProvider struct {
	model       string
	region      string
	url         string
	maxTokens   int64
	credentials aws.Credentials
	signer      *v4.Signer
	logger      *slog.Logger
	now         func() time.Time
}

func newBedrockProvider(cfg Config, options *ProviderOptions) *BedrockProvider {
	url := options.URL
	if url == "" {
		url = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/invoke", cfg.Region, cfg.Model)
	}

	return &BedrockProvider{
		model:     cfg.Model,
		region:    cfg.Region,
		url:       url,
		maxTokens: cfg.MaxTokens,
		credentials: aws.Credentials{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
			SessionToken:    cfg.SessionToken,
			Source:          "batchinfer",
		},
		signer: v4.NewSigner(),
		logger: options.Logger,
		now:    options.Now,
	}
}

func (p *BedrockProvider) Kind() model.ProviderKind { return model.ProviderKindBedrock }

func (p *BedrockProvider) Model() string { return p.model }

func (p *BedrockProvider) RequestBody(systemPrompt string, conv model.Conversation, temperature float64) ([]byte, error) {
	system, messages := toAnthropicMessages(systemPrompt, conv)
	return json.Marshal(bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        p.maxTokens,
		System:           system,
		Messages:         messages,
		Temperature:      temperature,
	})
}

func (p *BedrockProvider) Invoke(ctx context.Context, client *http.Client, body []byte) (*http.Response, error) {
	req, err := newJSONRequest(ctx, p.url, body)
	if err != nil {
		return nil, err
	}

	payloadHash := sha256.Sum256(body)
	err = p.signer.SignHTTP(ctx, p.credentials, req, hex.EncodeToString(payloadHash[:]), bedrockSigningService, p.region, p.now())
	if err != nil {
		return nil, fmt.Errorf("failed to sign bedrock request: %w", err)
	}

	return client.Do(req)
}

// ExtractUsage decodes Bedrock responses, which carry the Anthropic Messages
// API shape.
func (p *BedrockProvider) ExtractUsage(results []*model.Completion) (model.Usage, error) {
	return extractUsage(results, func(body []byte) (model.Usage, error) {
		return decodeAnthropicUsage(p.logger, body)
	})
}

func (p *BedrockProvider) ComputeCost(usage model.Usage) (model.CostSummary, error) {
	return computeCost(p.Kind(), p.model, usage)
}
