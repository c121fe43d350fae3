package clients

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"passport-sync-service/internal/models"
)

// ErrorKind classifies a provider failure
type ErrorKind string

const (
	ErrorKindAuth            ErrorKind = "auth"
	ErrorKindRateLimited     ErrorKind = "rate_limited"
	ErrorKindUnavailable     ErrorKind = "unavailable"
	ErrorKindInvalidRequest  ErrorKind = "invalid_request"
	ErrorKindInvalidResponse ErrorKind = "invalid_response"
)

// ProviderError is returned by adapters for any failed provider call
type ProviderError struct {
	Provider   models.ConnectorSlug
	Kind       ErrorKind
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s API error (%s, status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s API error (%s): %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the call may succeed
func (e *ProviderError) Temporary() bool {
	return e.Kind == ErrorKindRateLimited || e.Kind == ErrorKindUnavailable
}

// NewHTTPError classifies a non-2xx provider response
func NewHTTPError(provider models.ConnectorSlug, resp *http.Response, body []byte) *ProviderError {
	e := &ProviderError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Message:    truncate(string(body), 300),
		RetryAfter: ParseRetryAfter(resp),
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.Kind = ErrorKindAuth
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = ErrorKindRateLimited
	case resp.StatusCode >= 500:
		e.Kind = ErrorKindUnavailable
	default:
		e.Kind = ErrorKindInvalidRequest
	}
	return e
}

// NewTransportError wraps a network-level failure
func NewTransportError(provider models.ConnectorSlug, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     ErrorKindUnavailable,
		Message:  err.Error(),
		Err:      err,
	}
}

// NewDecodeError wraps a response that could not be parsed
func NewDecodeError(provider models.ConnectorSlug, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     ErrorKindInvalidResponse,
		Message:  err.Error(),
		Err:      err,
	}
}

// AsProviderError extracts a ProviderError from an error chain
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsAuthError reports whether the provider rejected the credentials
func IsAuthError(err error) bool {
	pe, ok := AsProviderError(err)
	return ok && pe.Kind == ErrorKindAuth
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
