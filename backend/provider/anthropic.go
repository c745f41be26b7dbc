package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/furisto/batchinfer/backend/model"
)

const anthropicAPIVersion = "2023-06-01"

// anthropicMessage is the part of a Messages API request shared by the
// Anthropic API and Bedrock.
type anthropicMessage struct {
	Role    model.Role           `json:"role"`
	Content []model.ContentBlock `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int64              `json:"max_tokens"`
	System      string             `json:"system"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type AnthropicProvider struct {
	model     string
	apiKey    string
	url       string
	maxTokens int64
	logger    *slog.Logger
}

func newAnthropicProvider(cfg Config, options *ProviderOptions) *AnthropicProvider {
	return &AnthropicProvider{
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		url:       options.URL,
		maxTokens: cfg.MaxTokens,
		logger:    options.Logger,
	}
}

func (p *AnthropicProvider) Kind() model.ProviderKind { return model.ProviderKindAnthropic }

func (p *AnthropicProvider) Model() string { return p.model }

func (p *AnthropicProvider) RequestBody(systemPrompt string, conv model.Conversation, temperature float64) ([]byte, error) {
	system, messages := toAnthropicMessages(systemPrompt, conv)
	return json.Marshal(anthropicRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		System:      system,
		Messages:    messages,
		Temperature: temperature,
	})
}

func (p *AnthropicProvider) Invoke(ctx context.Context, client *http.Client, body []byte) (*http.Response, error) {
	req, err := newJSONRequest(ctx, p.url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	return client.Do(req)
}

func (p *AnthropicProvider) ExtractUsage(results []*model.Completion) (model.Usage, error) {
	return extractUsage(results, func(body []byte) (model.Usage, error) {
		return decodeAnthropicUsage(p.logger, body)
	})
}

func (p *AnthropicProvider) ComputeCost(usage model.Usage) (model.CostSummary, error) {
	return computeCost(p.Kind(), p.model, usage)
}

// toAnthropicMessages splits conv into the system field and the message
// list. The messages API has no system role, so system turns are appended to
// the system prompt in order.
func toAnthropicMessages(systemPrompt string, conv model.Conversation) (string, []anthropicMessage) {
	system := []string{}
	if systemPrompt != "" {
		system = append(system, systemPrompt)
	}

	messages := make([]anthropicMessage, 0, len(conv.Messages))
	for _, m := range conv.Clone().Messages {
		if m.Role == model.RoleSystem {
			system = append(system, m.Text())
			continue
		}
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return strings.Join(system, "\n\n"), messages
}

func decodeAnthropicUsage(logger *slog.Logger, body []byte) (model.Usage, error) {
	var message anthropic.Message
	if err := json.Unmarshal(body, &message); err != nil {
		return model.Usage{}, fmt.Errorf("failed to decode anthropic response: %w", err)
	}

	if message.StopReason == anthropic.StopReasonMaxTokens {
		logger.Warn("completion stopped at max tokens", "message_id", message.ID)
	}

	return model.Usage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}, nil
}
