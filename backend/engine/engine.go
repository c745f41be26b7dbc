package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/furisto/batchinfer/backend/cache"
	"github.com/furisto/batchinfer/backend/event"
	"github.com/furisto/batchinfer/backend/fetch"
	"github.com/furisto/batchinfer/backend/model"
	"github.com/furisto/batchinfer/backend/provider"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// pendingFactor bounds how many items may be between cache lookup and
// admission at once, relative to the admission limit.
const pendingFactor = 4

// Engine schedules batches of conversations against one provider, serving
// repeated requests from the cache.
type Engine struct {
	provider provider.Provider
	cache    *cache.Cache
	options  *Options
	metrics  *engineMetricsProvider
	logger   *slog.Logger
}

func New(p provider.Provider, c *cache.Cache, opts ...Option) (*Engine, error) {
	if p == nil {
		return nil, errors.New("provider is required")
	}
	if c == nil {
		return nil, errors.New("cache is required")
	}

	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine options: %w", err)
	}

	return &Engine{
		provider: p,
		cache:    c,
		options:  options,
		metrics:  newEngineMetricsProvider(options.Metrics),
		logger:   options.Logger,
	}, nil
}

func (e *Engine) Provider() provider.Provider {
	return e.provider
}

type batch struct {
	id           uuid.UUID
	task         string
	systemPrompt string
	temperature  float64
	client       *http.Client
	fetcher      *fetch.Fetcher
	admission    *semaphore.Weighted
	logger       *slog.Logger

	cached  atomic.Int64
	fetched atomic.Int64
	failed  atomic.Int64
}

// Report is the outcome of one batch. Cached, Fetched and Failed always sum
// to len(Results).
type Report struct {
	BatchID  uuid.UUID
	Results  []*model.Completion
	Cached   int
	Fetched  int
	Failed   int
	Duration time.Duration
}

// Schedule resolves every conversation to a completion. The result has the
// same length and order as conversations; failed items are nil. An error is
// only returned when the batch as a whole cannot continue: the context ended
// or the cache could not be read or written.
func (e *Engine) Schedule(ctx context.Context, conversations []model.Conversation, systemPrompt string, temperature float64, task string) ([]*model.Completion, error) {
	report, err := e.Run(ctx, conversations, systemPrompt, temperature, task)
	if err != nil {
		return nil, err
	}
	return report.Results, nil
}

// Run behaves like Schedule and also reports how each item was resolved.
func (e *Engine) Run(ctx context.Context, conversations []model.Conversation, systemPrompt string, temperature float64, task string) (*Report, error) {
	start := time.Now()
	b := &batch{
		id:           uuid.New(),
		task:         task,
		systemPrompt: systemPrompt,
		temperature:  temperature,
		admission:    semaphore.NewWeighted(int64(e.options.MaxInFlight)),
	}
	b.logger = e.logger.With("batch_id", b.id, "task", task)

	results := make([]*model.Completion, len(conversations))
	if len(conversations) == 0 {
		return &Report{BatchID: b.id, Results: results}, nil
	}

	b.client = e.options.HTTPClientFactory(e.options.MaxInFlight)
	defer b.client.CloseIdleConnections()

	b.fetcher = fetch.New(e.provider,
		fetch.WithRetryConfig(e.options.RetryConfig),
		fetch.WithCircuitBreaker(e.options.CircuitBreaker),
		fetch.WithRetryHooks(&retryObserver{engine: e, batchID: b.id}),
		fetch.WithLogger(b.logger),
	)

	b.logger.Info("batch started", "conversations", len(conversations), "provider", e.provider.Kind(), "model", e.provider.Model())
	event.Publish(e.options.EventBus, event.BatchStarted{
		BatchID:  b.id,
		Task:     task,
		Provider: string(e.provider.Kind()),
		Model:    e.provider.Model(),
		Total:    len(conversations),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.options.MaxInFlight * pendingFactor)
	for i, conv := range conversations {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			completion, err := e.complete(gctx, b, i, conv)
			if err != nil {
				return err
			}
			results[i] = completion
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	finished := event.BatchFinished{
		BatchID:   b.id,
		Task:      task,
		Total:     len(conversations),
		Cached:    int(b.cached.Load()),
		Fetched:   int(b.fetched.Load()),
		Failed:    int(b.failed.Load()),
		Duration:  time.Since(start),
		Cancelled: err != nil,
	}
	event.Publish(e.options.EventBus, finished)

	if err != nil {
		b.logger.Error("batch aborted", "error", err)
		return nil, err
	}

	b.logger.Info("batch finished",
		"cached", finished.Cached,
		"fetched", finished.Fetched,
		"failed", finished.Failed,
		"duration", finished.Duration,
	)
	return &Report{
		BatchID:  b.id,
		Results:  results,
		Cached:   finished.Cached,
		Fetched:  finished.Fetched,
		Failed:   finished.Failed,
		Duration: finished.Duration,
	}, nil
}

// complete resolves a single conversation. Per-item failures yield a nil
// completion and a nil error.
func (e *Engine) complete(ctx context.Context, b *batch, index int, conv model.Conversation) (*model.Completion, error) {
	logger := b.logger.With("index", index)

	if err := conv.Validate(); err != nil {
		e.itemFailed(b, index, "", err.Error(), 0)
		logger.Warn("skipping invalid conversation", "error", err)
		return nil, nil
	}

	body, err := e.provider.RequestBody(b.systemPrompt, conv, b.temperature)
	if err != nil {
		e.itemFailed(b, index, "", err.Error(), 0)
		logger.Warn("failed to build request body", "error", err)
		return nil, nil
	}

	digest := cache.Digest(body)
	logger = logger.With("digest", digest)

	completion, hit, err := e.lookup(ctx, b, logger, index, digest)
	if err != nil || hit {
		return completion, err
	}

	if err := b.admission.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	e.metrics.AddInflight(1)
	result, err := b.fetcher.Do(ctx, b.client, body)
	e.metrics.AddInflight(-1)
	b.admission.Release(1)
	if err != nil {
		return nil, err
	}

	if result.OK() {
		e.metrics.IncrementRequests("success")
		entry := cache.NewSuccessEntry(e.provider.Kind(), e.provider.Model(), result.Completion)
		if err := e.cache.Store(ctx, b.task, digest, entry); err != nil {
			return nil, err
		}

		b.fetched.Add(1)
		logger.Debug("completion saved", "path", e.cache.Path(b.task, digest), "attempts", result.Attempts)
		event.Publish(e.options.EventBus, event.CompletionFetched{
			BatchID:  b.id,
			Index:    index,
			Digest:   digest,
			Attempts: result.Attempts,
			Duration: result.Duration,
		})
		return result.Completion, nil
	}

	e.metrics.IncrementRequests("failure")
	if !isCircuitOpen(result.Err) {
		entry := cache.NewFailureEntry(e.provider.Kind(), e.provider.Model(), result.Reason)
		if err := e.cache.Store(ctx, b.task, digest, entry); err != nil {
			return nil, err
		}
	}
	e.itemFailed(b, index, digest, result.Reason, result.Attempts)
	return nil, nil
}

// lookup serves index from the cache. hit is false when the request has to
// be sent.
func (e *Engine) lookup(ctx context.Context, b *batch, logger *slog.Logger, index int, digest string) (*model.Completion, bool, error) {
	entry, err := e.cache.Lookup(ctx, b.task, digest)
	switch {
	case errors.Is(err, cache.ErrMiss):
		e.metrics.IncrementCacheLookups("miss")
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}

	if !entry.Matches(e.provider.Kind(), e.provider.Model()) {
		e.metrics.IncrementCacheLookups("mismatch")
		logger.Warn("cached entry belongs to another provider, ignoring it",
			"cached_provider", entry.Provider,
			"cached_model", entry.Model,
		)
		return nil, false, nil
	}

	if entry.Status == cache.StatusFailure {
		e.metrics.IncrementCacheLookups("failure")
		if e.options.CacheFailures == CacheFailuresSticky {
			e.itemFailed(b, index, digest, entry.Reason, 0)
			return nil, true, nil
		}
		logger.Info("retrying cached failure", "reason", entry.Reason)
		return nil, false, nil
	}

	e.metrics.IncrementCacheLookups("hit")
	b.cached.Add(1)
	logger.Debug("completion served from cache")
	event.Publish(e.options.EventBus, event.CompletionCached{BatchID: b.id, Index: index, Digest: digest})
	return entry.Completion(), true, nil
}

func (e *Engine) itemFailed(b *batch, index int, digest, reason string, attempts uint) {
	b.failed.Add(1)
	event.Publish(e.options.EventBus, event.CompletionFailed{
		BatchID:  b.id,
		Index:    index,
		Digest:   digest,
		Reason:   reason,
		Attempts: attempts,
	})
}

// Cost aggregates the token usage of results and prices it.
func (e *Engine) Cost(results []*model.Completion) (model.CostSummary, error) {
	usage, err := e.provider.ExtractUsage(results)
	if err != nil {
		return model.CostSummary{}, err
	}
	return e.provider.ComputeCost(usage)
}

func isCircuitOpen(err error) bool {
	var pe *model.ProviderError
	return errors.As(err, &pe) && pe.Kind == model.ProviderErrorKindCircuitOpen
}

type retryObserver struct {
	engine  *Engine
	batchID uuid.UUID
}

func (o *retryObserver) OnRetryAttempt(ctx context.Context, attempt uint, err error, nextDelay time.Duration) {
	o.engine.metrics.IncrementRetries()
	event.Publish(o.engine.options.EventBus, event.RateLimited{BatchID: o.batchID, Attempt: attempt, Delay: nextDelay})
}

func (o *retryObserver) OnRetrySuccess(ctx context.Context, attempts uint, totalDuration time.Duration) {
}

func (o *retryObserver) OnRetryFailure(ctx context.Context, err error, attempts uint, totalDuration time.Duration) {
}
