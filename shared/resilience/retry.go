package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type RetryStrategy string

const (
	RetryStrategyConstant    RetryStrategy = "constant"
	RetryStrategyExponential RetryStrategy = "exponential"
)

// RetryConfig describes how rate limited requests are retried. MaxAttempts
// counts every request including the first one; zero removes the ceiling.
type RetryConfig struct {
	Strategy          RetryStrategy `yaml:"strategy"`
	MaxAttempts       uint          `yaml:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Jitter            float64       `yaml:"jitter"`
	MaxElapsedTime    time.Duration `yaml:"max_elapsed_time"`
	UseRetryAfter     bool          `yaml:"use_retry_after"`
}

type RetryHook interface {
	OnRetryAttempt(ctx context.Context, attempt uint, err error, nextDelay time.Duration)
	OnRetrySuccess(ctx context.Context, attempts uint, totalDuration time.Duration)
	OnRetryFailure(ctx context.Context, err error, attempts uint, totalDuration time.Duration)
}

func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		Strategy:          RetryStrategyConstant,
		MaxAttempts:       20,
		InitialDelay:      5 * time.Second,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 2,
	}
}

func (c *RetryConfig) Validate() error {
	switch c.Strategy {
	case RetryStrategyConstant, RetryStrategyExponential:
	default:
		return fmt.Errorf("unknown retry strategy %q", c.Strategy)
	}

	if c.InitialDelay <= 0 {
		return fmt.Errorf("retry initial delay must be positive")
	}

	if c.Strategy == RetryStrategyExponential {
		if c.BackoffMultiplier < 1 {
			return fmt.Errorf("retry backoff multiplier must be at least 1")
		}
		if c.MaxDelay < c.InitialDelay {
			return fmt.Errorf("retry max delay must not be smaller than the initial delay")
		}
	}

	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("retry jitter must be in [0, 1)")
	}

	return nil
}

// NewBackOff returns a fresh backoff sequence. Every retried request needs its
// own instance because the exponential strategy is stateful.
func (c *RetryConfig) NewBackOff() backoff.BackOff {
	if c.Strategy == RetryStrategyExponential {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = c.InitialDelay
		b.MaxInterval = c.MaxDelay
		b.Multiplier = c.BackoffMultiplier
		b.RandomizationFactor = c.Jitter
		b.Reset()
		return b
	}

	return backoff.NewConstantBackOff(c.InitialDelay)
}

// RetryOptions translates the config into backoff retry options. The hinted
// backoff lets a caller substitute a provider supplied delay for one attempt.
func (c *RetryConfig) RetryOptions(b backoff.BackOff, notify backoff.Notify) []backoff.RetryOption {
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(c.MaxElapsedTime),
	}
	if c.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(c.MaxAttempts))
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}
	return opts
}

// HintedBackOff wraps a backoff and lets the next delay be overridden once,
// e.g. from a Retry-After header.
type HintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func NewHintedBackOff(b backoff.BackOff) *HintedBackOff {
	return &HintedBackOff{BackOff: b}
}

func (h *HintedBackOff) Hint(d time.Duration) {
	h.hint = d
}

func (h *HintedBackOff) NextBackOff() time.Duration {
	if h.hint > 0 {
		d := h.hint
		h.hint = 0
		return d
	}
	return h.BackOff.NextBackOff()
}
