package model

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type ProviderErrorKind string

const (
	ProviderErrorKindRateLimitExceeded ProviderErrorKind = "rate_limit_exceeded"
	ProviderErrorKindInvalidRequest    ProviderErrorKind = "invalid_request"
	ProviderErrorKindStatus            ProviderErrorKind = "status"
	ProviderErrorKindTransport         ProviderErrorKind = "transport"
	ProviderErrorKindMalformedResponse ProviderErrorKind = "malformed_response"
	ProviderErrorKindCanceled          ProviderErrorKind = "canceled"
	ProviderErrorKindCircuitOpen       ProviderErrorKind = "circuit_open"
)

type ProviderError struct {
	Provider   string
	Kind       ProviderErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func NewProviderError(provider string, kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Err:      err,
	}
}

// NewStatusError classifies a non-200 response. 429 is the only status we
// recover from.
func NewStatusError(provider string, resp *http.Response) *ProviderError {
	kind := ProviderErrorKindStatus
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		kind = ProviderErrorKindRateLimitExceeded
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		kind = ProviderErrorKindInvalidRequest
	}

	return &ProviderError{
		Provider:   provider,
		Kind:       kind,
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

func (pe *ProviderError) Message() string {
	switch pe.Kind {
	case ProviderErrorKindRateLimitExceeded:
		if pe.RetryAfter > 0 {
			return fmt.Sprintf("rate limit exceeded, retry after %s", pe.RetryAfter)
		}
		return "rate limit exceeded"
	case ProviderErrorKindInvalidRequest:
		return fmt.Sprintf("invalid request (status %d)", pe.StatusCode)
	case ProviderErrorKindStatus:
		return fmt.Sprintf("unexpected status %d", pe.StatusCode)
	case ProviderErrorKindTransport:
		return "transport failure"
	case ProviderErrorKindMalformedResponse:
		return "malformed response"
	case ProviderErrorKindCanceled:
		return "request canceled"
	case ProviderErrorKindCircuitOpen:
		return "circuit open"
	default:
		return "unknown error"
	}
}

func (pe *ProviderError) Retryable() (bool, time.Duration) {
	if pe.Kind == ProviderErrorKindRateLimitExceeded {
		return true, pe.RetryAfter
	}
	return false, 0
}

func (pe *ProviderError) Error() string {
	if pe.Err != nil {
		return fmt.Sprintf("%s: %s: %s", pe.Provider, pe.Message(), pe.Err.Error())
	}
	return fmt.Sprintf("%s: %s", pe.Provider, pe.Message())
}

func (pe *ProviderError) Unwrap() error {
	return pe.Err
}

// IsRateLimited reports whether err carries a rate limit classification.
func IsRateLimited(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		retryable, _ := pe.Retryable()
		return retryable
	}
	return false
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	var seconds int
	if _, err := fmt.Sscanf(value, "%d", &seconds); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}

	return 0
}
