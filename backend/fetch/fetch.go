package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/furisto/batchinfer/backend/model"
	"github.com/furisto/batchinfer/backend/provider"
	"github.com/furisto/batchinfer/shared/resilience"
)

const errorBodyLimit = 512

type Options struct {
	RetryConfig    *resilience.RetryConfig
	CircuitBreaker *resilience.CircuitBreaker
	RetryHooks     []resilience.RetryHook
	Logger         *slog.Logger
}

type Option func(*Options)

func WithRetryConfig(cfg *resilience.RetryConfig) Option {
	return func(o *Options) {
		o.RetryConfig = cfg
	}
}

func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(o *Options) {
		o.CircuitBreaker = cb
	}
}

func WithRetryHooks(hooks ...resilience.RetryHook) Option {
	return func(o *Options) {
		o.RetryHooks = append(o.RetryHooks, hooks...)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Result is the outcome of one fetch. Completion is nil when the request
// failed; Err and Reason then say why.
type Result struct {
	Completion *model.Completion
	Err        error
	Reason     string
	Attempts   uint
	Duration   time.Duration
}

func (r Result) OK() bool {
	return r.Completion != nil
}

// Fetcher sends a single request body and retries while the provider reports
// rate limiting.
type Fetcher struct {
	provider provider.Provider
	retry    *resilience.RetryConfig
	breaker  *resilience.CircuitBreaker
	hooks    []resilience.RetryHook
	logger   *slog.Logger
}

func New(p provider.Provider, opts ...Option) *Fetcher {
	options := &Options{
		RetryConfig: resilience.DefaultRetryConfig(),
		Logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Fetcher{
		provider: p,
		retry:    options.RetryConfig,
		breaker:  options.CircuitBreaker,
		hooks:    options.RetryHooks,
		logger:   options.Logger,
	}
}

// Fetch returns the completion for body, or nil when the request failed. The
// error is only set when ctx ends.
func (f *Fetcher) Fetch(ctx context.Context, client *http.Client, body []byte) (*model.Completion, error) {
	result, err := f.Do(ctx, client, body)
	return result.Completion, err
}

func (f *Fetcher) Do(ctx context.Context, client *http.Client, body []byte) (Result, error) {
	start := time.Now()
	providerName := string(f.provider.Kind())
	b := resilience.NewHintedBackOff(f.retry.NewBackOff())

	var attempts uint
	operation := func() (*model.Completion, error) {
		attempts++

		if !f.breaker.Allow() {
			return nil, backoff.Permanent(model.NewProviderError(providerName, model.ProviderErrorKindCircuitOpen, nil))
		}

		completion, err := f.attempt(ctx, client, body)
		if err == nil {
			f.breaker.RecordResult(nil)
			return completion, nil
		}

		var pe *model.ProviderError
		if ctx.Err() != nil || !errors.As(err, &pe) {
			f.breaker.Release()
			return nil, backoff.Permanent(err)
		}

		if retryable, retryAfter := pe.Retryable(); retryable {
			f.breaker.Release()
			if f.retry.UseRetryAfter && retryAfter > 0 {
				b.Hint(retryAfter)
			}
			return nil, err
		}

		if pe.Kind == model.ProviderErrorKindInvalidRequest {
			f.breaker.Release()
		} else {
			f.breaker.RecordResult(err)
		}
		return nil, backoff.Permanent(err)
	}

	notify := func(err error, next time.Duration) {
		f.logger.Info("rate limited, retrying", "provider", providerName, "attempt", attempts, "delay", next)
		for _, hook := range f.hooks {
			hook.OnRetryAttempt(ctx, attempts, err, next)
		}
	}

	completion, err := backoff.Retry(ctx, operation, f.retry.RetryOptions(b, notify)...)
	result := Result{Completion: completion, Attempts: attempts, Duration: time.Since(start)}
	if err == nil {
		for _, hook := range f.hooks {
			hook.OnRetrySuccess(ctx, attempts, result.Duration)
		}
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{Attempts: attempts, Duration: result.Duration}, ctxErr
	}

	for _, hook := range f.hooks {
		hook.OnRetryFailure(ctx, err, attempts, result.Duration)
	}
	f.logger.Warn("request failed", "provider", providerName, "attempts", attempts, "error", err)

	result.Completion = nil
	result.Err = err
	result.Reason = err.Error()
	return result, nil
}

func (f *Fetcher) attempt(ctx context.Context, client *http.Client, body []byte) (*model.Completion, error) {
	providerName := string(f.provider.Kind())

	resp, err := f.provider.Invoke(ctx, client, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, model.NewProviderError(providerName, model.ProviderErrorKindCanceled, err)
		}
		return nil, model.NewProviderError(providerName, model.ProviderErrorKindTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		pe := model.NewStatusError(providerName, resp)
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		if text := strings.TrimSpace(string(snippet)); text != "" {
			pe.Err = errors.New(text)
		}
		io.Copy(io.Discard, resp.Body)
		return nil, pe
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewProviderError(providerName, model.ProviderErrorKindTransport, fmt.Errorf("failed to read response: %w", err))
	}

	var compacted bytes.Buffer
	if err := json.Compact(&compacted, data); err != nil {
		return nil, model.NewProviderError(providerName, model.ProviderErrorKindMalformedResponse, err)
	}

	return model.NewCompletion(compacted.Bytes()), nil
}
