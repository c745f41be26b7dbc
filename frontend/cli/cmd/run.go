package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/furisto/batchinfer/backend/cache"
	"github.com/furisto/batchinfer/backend/engine"
	"github.com/furisto/batchinfer/backend/event"
	"github.com/furisto/batchinfer/backend/model"
	"github.com/furisto/batchinfer/backend/provider"
	"github.com/furisto/batchinfer/frontend/cli/pkg/fail"
	"github.com/furisto/batchinfer/frontend/cli/pkg/terminal"
	"github.com/furisto/batchinfer/shared/config"
	"github.com/furisto/batchinfer/shared/resilience"
)

const maxInputLine = 16 << 20

type runOptions struct {
	Task          string
	Input         string
	OutputFile    string
	System        string
	SystemFile    string
	Temperature   float64
	Provider      string
	Model         string
	MaxInFlight   int
	CacheFailures string
	MetricsFile   string
	Progress      bool
	RenderOptions RenderOptions
}

type RunSummaryDisplay struct {
	Task         string `json:"task" yaml:"task"`
	Provider     string `json:"provider" yaml:"provider"`
	Model        string `json:"model" yaml:"model"`
	Total        int    `json:"total" yaml:"total"`
	Cached       int    `json:"cached" yaml:"cached"`
	Fetched      int    `json:"fetched" yaml:"fetched"`
	Failed       int    `json:"failed" yaml:"failed"`
	InputTokens  int64  `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int64  `json:"output_tokens" yaml:"output_tokens"`
	Cost         string `json:"cost" yaml:"cost"`
}

func NewRunCmd() *cobra.Command {
	var options runOptions

	cmd := &cobra.Command{
		Use:   "run --task <name> [flags]",
		Short: "Complete a batch of conversations",
		Long: `Complete a batch of conversations against the configured provider.

Input is read one item per line. A line holding a JSON object is decoded as a
conversation, a JSON string or any other text is sent as a single user prompt.
Results are written as JSON lines in input order; failed items are null.

Completions are cached per task, so rerunning the same batch only sends the
requests that have not succeeded yet.`,
		Example: `  # Complete prompts from a file and write the responses next to it
  batchinfer run --task summaries -i prompts.txt -O responses.jsonl

  # Read conversations from stdin with a system prompt
  cat conversations.jsonl | batchinfer run --task review --system "Answer briefly."

  # Use an OpenAI-compatible host for one run
  batchinfer run --task eval --provider openai --model gpt-4o-mini -i eval.jsonl`,
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveRunConfig(cmd, getConfig(cmd.Context()), &options)
			if err != nil {
				return err
			}

			fs := getFileSystem(cmd.Context())
			if !cmd.Flags().Changed("progress") {
				options.Progress = isTerminal(cmd.ErrOrStderr())
			}

			systemPrompt := options.System
			if options.SystemFile != "" {
				content, err := fs.ReadFile(options.SystemFile)
				if err != nil {
					return fail.EnhanceError(fmt.Errorf("failed to read system prompt: %w", err), options.Task)
				}
				systemPrompt = string(content)
			}

			conversations, err := readConversations(fs, cmd.InOrStdin(), options.Input)
			if err != nil {
				return err
			}

			summary, results, err := runBatch(cmd, fs, cfg, conversations, systemPrompt, &options)
			if err != nil {
				return fail.EnhanceError(err, options.Task)
			}

			if err := writeResults(cmd.OutOrStdout(), fs, options.OutputFile, results); err != nil {
				return err
			}

			renderOptions := options.RenderOptions
			renderOptions.Writer = cmd.ErrOrStderr()
			return getRenderer(cmd.Context()).Render(summary, &renderOptions)
		},
	}

	cmd.Flags().StringVar(&options.Task, "task", "", "cache namespace for this batch (required)")
	cmd.Flags().StringVarP(&options.Input, "input", "i", "-", `file to read conversations from, "-" for stdin`)
	cmd.Flags().StringVarP(&options.OutputFile, "output-file", "O", "", "write results to this file instead of stdout")
	cmd.Flags().StringVarP(&options.System, "system", "s", "", "system prompt")
	cmd.Flags().StringVar(&options.SystemFile, "system-file", "", "read the system prompt from a file")
	cmd.Flags().Float64VarP(&options.Temperature, "temperature", "t", 0, "sampling temperature")
	cmd.Flags().StringVar(&options.Provider, "provider", "", `override the provider: "bedrock", "openai", or "anthropic"`)
	cmd.Flags().StringVar(&options.Model, "model", "", "override the model id")
	cmd.Flags().IntVar(&options.MaxInFlight, "max-in-flight", 0, "override the number of concurrent requests")
	cmd.Flags().StringVar(&options.CacheFailures, "cache-failures", "", `override how cached failures are treated: "retry" or "sticky"`)
	cmd.Flags().StringVar(&options.MetricsFile, "metrics-file", "", "write Prometheus metrics for the batch to this file")
	cmd.Flags().BoolVar(&options.Progress, "progress", false, "show a progress line on stderr (default when stderr is a terminal)")
	cmd.MarkFlagsMutuallyExclusive("system", "system-file")
	_ = cmd.MarkFlagRequired("task")
	addRenderOptions(cmd, &options.RenderOptions)

	return cmd
}

func resolveRunConfig(cmd *cobra.Command, base *config.Config, options *runOptions) (*config.Config, error) {
	cfg := *base
	if cmd.Flags().Changed("provider") {
		cfg.Provider.Kind = options.Provider
	}
	if cmd.Flags().Changed("model") {
		cfg.Provider.Model = options.Model
	}
	if cmd.Flags().Changed("max-in-flight") {
		cfg.MaxInFlight = options.MaxInFlight
	}
	if cmd.Flags().Changed("cache-failures") {
		cfg.CacheFailures = options.CacheFailures
	}
	cfg.FillCredentials(getLookupEnv(cmd.Context()))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func providerConfig(cfg config.ProviderConfig) provider.Config {
	return provider.Config{
		Kind:         model.ProviderKind(cfg.Kind),
		Model:        cfg.Model,
		Region:       cfg.Region,
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		AccessKey:    cfg.AccessKey,
		SecretKey:    cfg.SecretKey,
		SessionToken: cfg.SessionToken,
		MaxTokens:    cfg.MaxTokens,
	}
}

func runBatch(cmd *cobra.Command, fs afero.Fs, cfg *config.Config, conversations []model.Conversation, systemPrompt string, options *runOptions) (*RunSummaryDisplay, []*model.Completion, error) {
	logger := slog.Default()

	p, err := provider.New(providerConfig(cfg.Provider), provider.WithLogger(logger))
	if err != nil {
		return nil, nil, fail.NewProviderConfigError(cfg.Provider.Kind, err)
	}

	c, err := cache.New(fs, cfg.CacheDir, cache.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	defer c.Close()

	registry := prometheus.NewRegistry()
	bus := event.NewBus(registry, event.WithLogger(logger))
	defer bus.Close()

	e, err := engine.New(p, c,
		engine.WithMaxInFlight(cfg.MaxInFlight),
		engine.WithRetryConfig(&cfg.Retry),
		engine.WithCircuitBreaker(resilience.NewCircuitBreakerFromConfig(cfg.Provider.Kind, cfg.CircuitBreaker)),
		engine.WithCacheFailures(engine.CacheFailurePolicy(cfg.CacheFailures)),
		engine.WithLogger(logger),
		engine.WithMetrics(registry),
		engine.WithEventBus(bus),
	)
	if err != nil {
		return nil, nil, err
	}

	var progress *terminal.Progress
	if options.Progress && len(conversations) > 0 {
		progress = watchProgress(bus, cmd.ErrOrStderr(), len(conversations))
		progress.Start()
	}

	report, err := e.Run(cmd.Context(), conversations, systemPrompt, options.Temperature, options.Task)
	bus.Close()
	if progress != nil {
		progress.Stop(progress.Line())
	}
	if err != nil {
		return nil, nil, err
	}

	if options.MetricsFile != "" {
		if err := writeMetrics(fs, options.MetricsFile, registry); err != nil {
			return nil, nil, err
		}
	}

	results := report.Results
	summary := &RunSummaryDisplay{
		Task:     options.Task,
		Provider: string(p.Kind()),
		Model:    p.Model(),
		Total:    len(results),
		Cached:   report.Cached,
		Fetched:  report.Fetched,
		Failed:   report.Failed,
		Cost:     "n/a",
	}

	usage, err := p.ExtractUsage(results)
	if err != nil {
		logger.Warn("failed to extract usage", "error", err)
		return summary, results, nil
	}
	summary.InputTokens = usage.InputTokens
	summary.OutputTokens = usage.OutputTokens

	cost, err := p.ComputeCost(usage)
	if err != nil {
		if !errors.Is(err, model.ErrUnsupportedModel) {
			return nil, nil, err
		}
		logger.Warn("no pricing for model", "provider", p.Kind(), "model", p.Model())
		return summary, results, nil
	}
	summary.Cost = formatCost(cost.TotalCost())

	return summary, results, nil
}

func watchProgress(bus *event.Bus, w io.Writer, total int) *terminal.Progress {
	progress := terminal.NewProgress(w, total)
	event.Subscribe(bus, func(ctx context.Context, e event.CompletionCached) { progress.Cached() }, nil)
	event.Subscribe(bus, func(ctx context.Context, e event.CompletionFetched) { progress.Fetched() }, nil)
	event.Subscribe(bus, func(ctx context.Context, e event.CompletionFailed) { progress.Failed() }, nil)
	event.Subscribe(bus, func(ctx context.Context, e event.RateLimited) { progress.Backoff(e.Delay) }, nil)
	return progress
}

// readConversations parses one item per non-empty line.
func readConversations(fs afero.Fs, stdin io.Reader, path string) ([]model.Conversation, error) {
	source := "stdin"
	r := stdin
	if path != "" && path != "-" {
		f, err := fs.Open(path)
		if err != nil {
			return nil, fail.EnhanceError(fmt.Errorf("failed to open input: %w", err), "")
		}
		defer f.Close()
		r = f
		source = path
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxInputLine)

	var conversations []model.Conversation
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}

		conv, err := parseConversation(text)
		if err != nil {
			return nil, fail.NewInputError(source, line, err)
		}
		conversations = append(conversations, conv)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", source, err)
	}

	return conversations, nil
}

func parseConversation(line []byte) (model.Conversation, error) {
	switch line[0] {
	case '{':
		var conv model.Conversation
		if err := json.Unmarshal(line, &conv); err != nil {
			return model.Conversation{}, err
		}
		return conv, nil
	case '"':
		var prompt string
		if err := json.Unmarshal(line, &prompt); err != nil {
			return model.Conversation{}, err
		}
		return model.NewConversation(model.RoleUser, prompt), nil
	}

	return model.NewConversation(model.RoleUser, string(line)), nil
}

// writeResults emits one JSON value per result; failed items become null.
func writeResults(stdout io.Writer, fs afero.Fs, path string, results []*model.Completion) error {
	w := stdout
	if path != "" {
		f, err := fs.Create(path)
		if err != nil {
			return fail.EnhanceError(fmt.Errorf("failed to create output file: %w", err), "")
		}
		defer f.Close()
		w = f
	}

	buf := bufio.NewWriter(w)
	for _, result := range results {
		body, err := result.MarshalJSON()
		if err != nil {
			return err
		}
		buf.Write(body)
		buf.WriteByte('\n')
	}
	return buf.Flush()
}

func writeMetrics(fs afero.Fs, path string, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, family); err != nil {
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
	}

	return afero.WriteFile(fs, path, buf.Bytes(), 0o644)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
