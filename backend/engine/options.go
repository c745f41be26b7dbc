package engine

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/furisto/batchinfer/backend/event"
	"github.com/furisto/batchinfer/shared/resilience"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultMaxInFlight = 32

// CacheFailurePolicy decides what a cached failure entry means on a later run.
type CacheFailurePolicy string

const (
	// CacheFailuresRetry sends the request again and overwrites the entry.
	CacheFailuresRetry CacheFailurePolicy = "retry"
	// CacheFailuresSticky returns the cached failure as a null result.
	CacheFailuresSticky CacheFailurePolicy = "sticky"
)

func (p CacheFailurePolicy) Valid() bool {
	return p == CacheFailuresRetry || p == CacheFailuresSticky
}

type Options struct {
	MaxInFlight       int
	RetryConfig       *resilience.RetryConfig
	CircuitBreaker    *resilience.CircuitBreaker
	HTTPClientFactory func(maxInFlight int) *http.Client
	Logger            *slog.Logger
	Metrics           *prometheus.Registry
	EventBus          *event.Bus
	CacheFailures     CacheFailurePolicy
}

type Option func(*Options)

func WithMaxInFlight(n int) Option {
	return func(o *Options) {
		o.MaxInFlight = n
	}
}

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

// WithHTTPClientFactory replaces how the per-batch client is built. The
// engine closes the client's idle connections when the batch ends.
func WithHTTPClientFactory(factory func(maxInFlight int) *http.Client) Option {
	return func(o *Options) {
		o.HTTPClientFactory = factory
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithMetrics(registry *prometheus.Registry) Option {
	return func(o *Options) {
		o.Metrics = registry
	}
}

func WithEventBus(bus *event.Bus) Option {
	return func(o *Options) {
		o.EventBus = bus
	}
}

func WithCacheFailures(policy CacheFailurePolicy) Option {
	return func(o *Options) {
		o.CacheFailures = policy
	}
}

func DefaultOptions() *Options {
	return &Options{
		MaxInFlight:       DefaultMaxInFlight,
		RetryConfig:       resilience.DefaultRetryConfig(),
		HTTPClientFactory: DefaultHTTPClient,
		Logger:            slog.Default(),
		CacheFailures:     CacheFailuresRetry,
	}
}

func (o *Options) Validate() error {
	if o.MaxInFlight <= 0 {
		return fmt.Errorf("max in flight must be positive, got %d", o.MaxInFlight)
	}
	if o.RetryConfig == nil {
		return fmt.Errorf("retry config is required")
	}
	if err := o.RetryConfig.Validate(); err != nil {
		return err
	}
	if !o.CacheFailures.Valid() {
		return fmt.Errorf("unknown cache failure policy %q", o.CacheFailures)
	}
	return nil
}

// DefaultHTTPClient builds a client with its own transport so closing idle
// connections at the end of a batch does not affect other users.
func DefaultHTTPClient(maxInFlight int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = maxInFlight
	return &http.Client{Transport: transport}
}
