package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/furisto/batchinfer/backend/model"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       Config
		wantKind  model.ProviderKind
		wantModel string
		wantErr   error
	}{
		{
			name:      "bedrock defaults",
			cfg:       Config{Kind: model.ProviderKindBedrock, AccessKey: "AKID", SecretKey: "secret"},
			wantKind:  model.ProviderKindBedrock,
			wantModel: DefaultBedrockModel,
		},
		{
			name:    "bedrock without credentials",
			cfg:     Config{Kind: model.ProviderKindBedrock},
			wantErr: ErrInvalidConfig,
		},
		{
			name:      "openai",
			cfg:       Config{Kind: model.ProviderKindOpenAI, Model: "gpt-4o-mini", APIKey: "sk-test"},
			wantKind:  model.ProviderKindOpenAI,
			wantModel: "gpt-4o-mini",
		},
		{
			name:    "openai without model",
			cfg:     Config{Kind: model.ProviderKindOpenAI, APIKey: "sk-test"},
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "anthropic without key",
			cfg:     Config{Kind: model.ProviderKindAnthropic},
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "unknown kind",
			cfg:     Config{Kind: "vertex", Model: "gemini"},
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := New(tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() unexpected error: %v", err)
			}
			if p.Kind() != tt.wantKind || p.Model() != tt.wantModel {
				t.Errorf("New() = (%s, %s), want (%s, %s)", p.Kind(), p.Model(), tt.wantKind, tt.wantModel)
			}
		})
	}
}

func TestRequestBody(t *testing.T) {
	t.Parallel()

	conv := model.NewConversation(model.RoleUser, "hi")
	conv.AddMessage(model.RoleAssistant, "hello")

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "bedrock",
			cfg:  Config{Kind: model.ProviderKindBedrock, AccessKey: "AKID", SecretKey: "secret"},
			want: `{"anthropic_version":"bedrock-2023-05-31","max_tokens":4096,"system":"be brief","messages":[{"role":"user","content":[{"type":"text","text":"hi"}]},{"role":"assistant","content":[{"type":"text","text":"hello"}]}],"temperature":0.4}`,
		},
		{
			name: "openai",
			cfg:  Config{Kind: model.ProviderKindOpenAI, Model: "gpt-4o-mini", APIKey: "sk-test"},
			want: `{"model":"gpt-4o-mini","messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}],"temperature":0.4}`,
		},
		{
			name: "anthropic",
			cfg:  Config{Kind: model.ProviderKindAnthropic, Model: "claude-3-haiku-20240307", APIKey: "sk-ant", MaxTokens: 1024},
			want: `{"model":"claude-3-haiku-20240307","max_tokens":1024,"system":"be brief","messages":[{"role":"user","content":[{"type":"text","text":"hi"}]},{"role":"assistant","content":[{"type":"text","text":"hello"}]}],"temperature":0.4}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := New(tt.cfg)
			if err != nil {
				t.Fatalf("New() unexpected error: %v", err)
			}

			first, err := p.RequestBody("be brief", conv, 0.4)
			if err != nil {
				t.Fatalf("RequestBody() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, string(first)); diff != "" {
				t.Errorf("RequestBody() mismatch (-want +got):\n%s", diff)
			}

			second, _ := p.RequestBody("be brief", conv, 0.4)
			if string(first) != string(second) {
				t.Error("RequestBody() is not deterministic")
			}

			other, _ := p.RequestBody("be brief", conv, 0.5)
			if string(first) == string(other) {
				t.Error("RequestBody() ignores temperature")
			}
		})
	}
}

func TestRequestBody_SystemMessages(t *testing.T) {
	t.Parallel()

	conv := model.NewConversation(model.RoleSystem, "answer in French")
	conv.AddMessage(model.RoleUser, "hi")

	tests := []struct {
		name   string
		cfg    Config
		prompt string
		want   string
	}{
		{
			name:   "anthropic appends to the system prompt",
			cfg:    Config{Kind: model.ProviderKindAnthropic, Model: "claude-3-haiku-20240307", APIKey: "sk-ant", MaxTokens: 1024},
			prompt: "be brief",
			want:   `{"model":"claude-3-haiku-20240307","max_tokens":1024,"system":"be brief\n\nanswer in French","messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}],"temperature":0}`,
		},
		{
			name: "bedrock without a system prompt",
			cfg:  Config{Kind: model.ProviderKindBedrock, AccessKey: "AKID", SecretKey: "secret"},
			want: `{"anthropic_version":"bedrock-2023-05-31","max_tokens":4096,"system":"answer in French","messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}],"temperature":0}`,
		},
		{
			name:   "openai keeps the system turn",
			cfg:    Config{Kind: model.ProviderKindOpenAI, Model: "gpt-4o-mini", APIKey: "sk-test"},
			prompt: "be brief",
			want:   `{"model":"gpt-4o-mini","messages":[{"role":"system","content":"be brief"},{"role":"system","content":"answer in French"},{"role":"user","content":"hi"}],"temperature":0}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := New(tt.cfg)
			if err != nil {
				t.Fatalf("New() unexpected error: %v", err)
			}

			got, err := p.RequestBody(tt.prompt, conv, 0)
			if err != nil {
				t.Fatalf("RequestBody() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, string(got)); diff != "" {
				t.Errorf("RequestBody() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type capturedRequest struct {
	method string
	path   string
	header http.Header
	body   string
}

func newCaptureServer(t *testing.T) (*httptest.Server, chan capturedRequest) {
	t.Helper()

	captured := make(chan capturedRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured <- capturedRequest{method: r.Method, path: r.URL.Path, header: r.Header.Clone(), body: string(body)}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	return server, captured
}

func TestInvoke_Bedrock(t *testing.T) {
	t.Parallel()

	server, captured := newCaptureServer(t)
	signingTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	p, err := New(Config{
		Kind:         model.ProviderKindBedrock,
		AccessKey:    "AKIDEXAMPLE",
		SecretKey:    "secret",
		SessionToken: "session",
	}, WithURL(server.URL+"/model/test/invoke"), withClock(func() time.Time { return signingTime }))
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	resp, err := p.Invoke(context.Background(), server.Client(), []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("Invoke() unexpected error: %v", err)
	}
	resp.Body.Close()

	req := <-captured
	if req.method != http.MethodPost || req.path != "/model/test/invoke" || req.body != `{"a":1}` {
		t.Errorf("unexpected request %s %s %s", req.method, req.path, req.body)
	}

	auth := req.header.Get("Authorization")
	wantPrefix := "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240101/us-west-2/bedrock/aws4_request"
	if !strings.HasPrefix(auth, wantPrefix) {
		t.Errorf("Authorization = %q, want prefix %q", auth, wantPrefix)
	}
	if got := req.header.Get("X-Amz-Date"); got != "20240101T000000Z" {
		t.Errorf("X-Amz-Date = %q", got)
	}
	if got := req.header.Get("X-Amz-Security-Token"); got != "session" {
		t.Errorf("X-Amz-Security-Token = %q", got)
	}
}

func TestBedrockDefaultURL(t *testing.T) {
	t.Parallel()

	p, err := New(Config{Kind: model.ProviderKindBedrock, Region: "eu-central-1", AccessKey: "AKID", SecretKey: "secret"})
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	want := "https://bedrock-runtime.eu-central-1.amazonaws.com/model/anthropic.claude-3-haiku-20240307-v1:0/invoke"
	if got := p.(*BedrockProvider).url; got != want {
		t.Errorf("url = %q, want %q", got, want)
	}
}

func TestInvoke_APIKeyHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cfg        Config
		wantHeader map[string]string
	}{
		{
			name: "openai",
			cfg:  Config{Kind: model.ProviderKindOpenAI, Model: "gpt-4o", APIKey: "sk-test"},
			wantHeader: map[string]string{
				"Authorization": "Bearer sk-test",
				"Content-Type":  "application/json",
			},
		},
		{
			name: "anthropic",
			cfg:  Config{Kind: model.ProviderKindAnthropic, APIKey: "sk-ant"},
			wantHeader: map[string]string{
				"X-Api-Key":         "sk-ant",
				"Anthropic-Version": "2023-06-01",
				"Content-Type":      "application/json",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server, captured := newCaptureServer(t)
			p, err := New(tt.cfg, WithURL(server.URL))
			if err != nil {
				t.Fatalf("New() unexpected error: %v", err)
			}

			resp, err := p.Invoke(context.Background(), server.Client(), []byte(`{}`))
			if err != nil {
				t.Fatalf("Invoke() unexpected error: %v", err)
			}
			resp.Body.Close()

			req := <-captured
			for key, want := range tt.wantHeader {
				if got := req.header.Get(key); got != want {
					t.Errorf("header %s = %q, want %q", key, got, want)
				}
			}
		})
	}
}

func TestExtractUsageAndCost(t *testing.T) {
	t.Parallel()

	bedrock, _ := New(Config{Kind: model.ProviderKindBedrock, AccessKey: "AKID", SecretKey: "secret"})
	openaiProvider, _ := New(Config{Kind: model.ProviderKindOpenAI, Model: "gpt-4o-mini", APIKey: "sk-test"})

	tests := []struct {
		name      string
		provider  Provider
		results   []*model.Completion
		wantUsage model.Usage
		wantCost  string
	}{
		{
			name:     "bedrock skips failures",
			provider: bedrock,
			results: []*model.Completion{
				model.NewCompletion([]byte(`{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":"a"}],"stop_reason":"end_turn","usage":{"input_tokens":1000000,"output_tokens":200000}}`)),
				nil,
				model.NewCompletion([]byte(`{"id":"msg_2","type":"message","role":"assistant","content":[{"type":"text","text":"b"}],"stop_reason":"max_tokens","usage":{"input_tokens":1000000,"output_tokens":200000}}`)),
			},
			wantUsage: model.Usage{InputTokens: 2_000_000, OutputTokens: 400_000},
			wantCost:  "1",
		},
		{
			name:     "openai",
			provider: openaiProvider,
			results: []*model.Completion{
				model.NewCompletion([]byte(`{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"a"}}],"usage":{"prompt_tokens":2000000,"completion_tokens":1000000,"total_tokens":3000000}}`)),
			},
			wantUsage: model.Usage{InputTokens: 2_000_000, OutputTokens: 1_000_000},
			wantCost:  "0.9",
		},
		{
			name:      "all failed",
			provider:  openaiProvider,
			results:   []*model.Completion{nil, nil},
			wantUsage: model.Usage{},
			wantCost:  "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			usage, err := tt.provider.ExtractUsage(tt.results)
			if err != nil {
				t.Fatalf("ExtractUsage() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantUsage, usage); diff != "" {
				t.Errorf("ExtractUsage() mismatch (-want +got):\n%s", diff)
			}

			cost, err := tt.provider.ComputeCost(usage)
			if err != nil {
				t.Fatalf("ComputeCost() unexpected error: %v", err)
			}
			if !cost.TotalCost().Equal(decimal.RequireFromString(tt.wantCost)) {
				t.Errorf("TotalCost() = %s, want %s", cost.TotalCost(), tt.wantCost)
			}
		})
	}
}

func TestComputeCost_UnsupportedModel(t *testing.T) {
	t.Parallel()

	p, err := New(Config{Kind: model.ProviderKindOpenAI, Model: "my-finetune", APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	_, err = p.ComputeCost(model.Usage{InputTokens: 1})
	if !errors.Is(err, model.ErrUnsupportedModel) {
		t.Errorf("ComputeCost() error = %v, want ErrUnsupportedModel", err)
	}
}

func TestExtractUsage_ByKind(t *testing.T) {
	t.Parallel()

	results := []*model.Completion{
		model.NewCompletion([]byte(`{"id":"msg_1","type":"message","role":"assistant","content":[],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`)),
		nil,
	}

	usage, err := ExtractUsage(model.ProviderKindAnthropic, results)
	if err != nil {
		t.Fatalf("ExtractUsage() unexpected error: %v", err)
	}
	if diff := cmp.Diff(model.Usage{InputTokens: 10, OutputTokens: 5}, usage); diff != "" {
		t.Errorf("ExtractUsage() mismatch (-want +got):\n%s", diff)
	}

	_, err = ExtractUsage(model.ProviderKind("vertex"), results)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("ExtractUsage() error = %v, want ErrInvalidConfig", err)
	}
}
