package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/furisto/batchinfer/backend/model"
	"github.com/openai/openai-go"
)

type openAIMessage struct {
	Role    model.Role `json:"role"`
	Content string     `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

// OpenAIProvider works with any OpenAI compatible chat completions endpoint.
type OpenAIProvider struct {
	model  string
	apiKey string
	url    string
	logger *slog.Logger
}

func newOpenAIProvider(cfg Config, options *ProviderOptions) *OpenAIProvider {
	return &OpenAIProvider{
		model:  cfg.Model,
		apiKey: cfg.APIKey,
		url:    options.URL,
		logger: options.Logger,
	}
}

func (p *OpenAIProvider) Kind() model.ProviderKind { return model.ProviderKindOpenAI }

func (p *OpenAIProvider) Model() string { return p.model }

// RequestBody puts the system prompt first and flattens every message to its
// text.
func (p *OpenAIProvider) RequestBody(systemPrompt string, conv model.Conversation, temperature float64) ([]byte, error) {
	messages := make([]openAIMessage, 0, len(conv.Messages)+1)
	messages = append(messages, openAIMessage{Role: model.RoleSystem, Content: systemPrompt})
	for _, m := range conv.Messages {
		messages = append(messages, openAIMessage{Role: m.Role, Content: m.Text()})
	}

	return json.Marshal(openAIRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: temperature,
	})
}

func (p *OpenAIProvider) Invoke(ctx context.Context, client *http.Client, body []byte) (*http.Response, error) {
	req, err := newJSONRequest(ctx, p.url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	return client.Do(req)
}

func (p *OpenAIProvider) ExtractUsage(results []*model.Completion) (model.Usage, error) {
	return extractUsage(results, func(body []byte) (model.Usage, error) {
		return decodeOpenAIUsage(p.logger, body)
	})
}

func (p *OpenAIProvider) ComputeCost(usage model.Usage) (model.CostSummary, error) {
	return computeCost(p.Kind(), p.model, usage)
}

func decodeOpenAIUsage(logger *slog.Logger, body []byte) (model.Usage, error) {
	var completion openai.ChatCompletion
	if err := json.Unmarshal(body, &completion); err != nil {
		return model.Usage{}, fmt.Errorf("failed to decode openai response: %w", err)
	}

	for _, choice := range completion.Choices {
		if choice.FinishReason == "length" {
			logger.Warn("completion stopped at max tokens", "completion_id", completion.ID)
		}
	}

	return model.Usage{
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
	}, nil
}
