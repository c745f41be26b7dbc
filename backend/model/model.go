package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUnsupportedModel is returned when a model id has no entry in the pricing table.
var ErrUnsupportedModel = errors.New("unsupported model")

type ProviderKind string

const (
	ProviderKindBedrock   ProviderKind = "bedrock"
	ProviderKindOpenAI    ProviderKind = "openai"
	ProviderKindAnthropic ProviderKind = "anthropic"
)

func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderKindBedrock, ProviderKindOpenAI, ProviderKindAnthropic:
		return true
	}
	return false
}

type Model struct {
	Provider ProviderKind
	Name     string
	Pricing  ModelPricing
}

// ModelPricing holds USD prices per one million tokens.
type ModelPricing struct {
	Input  decimal.Decimal
	Output decimal.Decimal
}

func pricing(input, output string) ModelPricing {
	return ModelPricing{
		Input:  decimal.RequireFromString(input),
		Output: decimal.RequireFromString(output),
	}
}

var tokensPerPricingUnit = decimal.NewFromInt(1_000_000)

func SupportedModels(provider ProviderKind) []Model {
	switch provider {
	case ProviderKindBedrock:
		return SupportedBedrockModels()
	case ProviderKindOpenAI:
		return SupportedOpenAIModels()
	case ProviderKindAnthropic:
		return SupportedAnthropicModels()
	}

	return nil
}

func SupportedBedrockModels() []Model {
	return []Model{
		{Provider: ProviderKindBedrock, Name: "anthropic.claude-3-haiku-20240307-v1:0", Pricing: pricing("0.25", "1.25")},
		{Provider: ProviderKindBedrock, Name: "anthropic.claude-3-5-haiku-20241022-v1:0", Pricing: pricing("0.8", "4")},
		{Provider: ProviderKindBedrock, Name: "anthropic.claude-3-sonnet-20240229-v1:0", Pricing: pricing("3", "15")},
		{Provider: ProviderKindBedrock, Name: "anthropic.claude-3-5-sonnet-20240620-v1:0", Pricing: pricing("3", "15")},
		{Provider: ProviderKindBedrock, Name: "anthropic.claude-3-5-sonnet-20241022-v2:0", Pricing: pricing("3", "15")},
		{Provider: ProviderKindBedrock, Name: "anthropic.claude-3-opus-20240229-v1:0", Pricing: pricing("15", "75")},
	}
}

func SupportedAnthropicModels() []Model {
	return []Model{
		{Provider: ProviderKindAnthropic, Name: "claude-3-haiku-20240307", Pricing: pricing("0.25", "1.25")},
		{Provider: ProviderKindAnthropic, Name: "claude-3-5-haiku-20241022", Pricing: pricing("0.8", "4")},
		{Provider: ProviderKindAnthropic, Name: "claude-3-5-sonnet-20241022", Pricing: pricing("3", "15")},
		{Provider: ProviderKindAnthropic, Name: "claude-3-7-sonnet-20250219", Pricing: pricing("3", "15")},
		{Provider: ProviderKindAnthropic, Name: "claude-3-opus-20240229", Pricing: pricing("15", "75")},
	}
}

// SupportedOpenAIModels covers OpenAI itself and the OpenAI-compatible hosts
// we price (Groq).
func SupportedOpenAIModels() []Model {
	return []Model{
		{Provider: ProviderKindOpenAI, Name: "gpt-4o", Pricing: pricing("2.5", "10")},
		{Provider: ProviderKindOpenAI, Name: "gpt-4o-mini", Pricing: pricing("0.15", "0.6")},
		{Provider: ProviderKindOpenAI, Name: "gpt-4-turbo", Pricing: pricing("10", "30")},
		{Provider: ProviderKindOpenAI, Name: "gpt-3.5-turbo", Pricing: pricing("0.5", "1.5")},
		{Provider: ProviderKindOpenAI, Name: "gemma2-9b-it", Pricing: pricing("0.2", "0.2")},
		{Provider: ProviderKindOpenAI, Name: "llama-3.1-8b-instant", Pricing: pricing("0.05", "0.08")},
	}
}

func LookupPricing(provider ProviderKind, name string) (ModelPricing, error) {
	for _, m := range SupportedModels(provider) {
		if m.Name == name {
			return m.Pricing, nil
		}
	}

	return ModelPricing{}, fmt.Errorf("%w: %s (provider %s)", ErrUnsupportedModel, name, provider)
}

type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

type CostSummary struct {
	InputTokens      int64           `json:"input_tokens"`
	OutputTokens     int64           `json:"output_tokens"`
	InputTokensCost  decimal.Decimal `json:"input_tokens_cost"`
	OutputTokensCost decimal.Decimal `json:"output_tokens_cost"`
}

func (c CostSummary) TotalCost() decimal.Decimal {
	return c.InputTokensCost.Add(c.OutputTokensCost)
}

func ComputeCost(p ModelPricing, usage Usage) CostSummary {
	return CostSummary{
		InputTokens:      usage.InputTokens,
		OutputTokens:     usage.OutputTokens,
		InputTokensCost:  decimal.NewFromInt(usage.InputTokens).Div(tokensPerPricingUnit).Mul(p.Input),
		OutputTokensCost: decimal.NewFromInt(usage.OutputTokens).Div(tokensPerPricingUnit).Mul(p.Output),
	}
}
