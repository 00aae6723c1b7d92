// Package domain provides canonical types and error types for the dispatch layer.
package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the category of a dispatch error.
type ErrorType string

const (
	// ErrorTypeUnsupportedProvider indicates the resolved identity has no chain or client.
	ErrorTypeUnsupportedProvider ErrorType = "unsupported_provider"

	// ErrorTypeAllModelsExhausted indicates every chain entry failed.
	ErrorTypeAllModelsExhausted ErrorType = "all_models_exhausted"

	// ErrorTypeTransient indicates overload, quota, rate limiting or a timeout.
	ErrorTypeTransient ErrorType = "transient"

	// ErrorTypeModelIncompatible indicates a model-specific rejection.
	// The next chain entry may still succeed.
	ErrorTypeModelIncompatible ErrorType = "model_incompatible"

	// ErrorTypeConfigurationMissing indicates capability lookup found nothing.
	ErrorTypeConfigurationMissing ErrorType = "configuration_missing"

	// ErrorTypeUpstreamUnavailable indicates a collaborator (search, fetch,
	// instruction source) failed. Never surfaced to callers of Generate.
	ErrorTypeUpstreamUnavailable ErrorType = "upstream_unavailable"

	// ErrorTypeInvalidRequest indicates the provider rejected the request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeAuthentication indicates a credential failure.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypeServer indicates an internal error.
	ErrorTypeServer ErrorType = "server"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeRateLimitExceeded ErrorCode = "rate_limit_exceeded"
	ErrorCodeOverloaded        ErrorCode = "overloaded"
	ErrorCodeTimeout           ErrorCode = "timeout"
	ErrorCodeRequestTooLarge   ErrorCode = "request_too_large"
	ErrorCodeNetwork           ErrorCode = "network"
	ErrorCodeInvalidAPIKey     ErrorCode = "invalid_api_key"
	ErrorCodeModelNotFound     ErrorCode = "model_not_found"
)

// APIError is the canonical error returned by providers and the dispatch engine.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Provider and Model identify where the error happened, when known.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// StatusCode is the upstream HTTP status, when there was one
	StatusCode int `json:"-"`

	causes []error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if e.Model != "" {
		fmt.Fprintf(&b, " [%s]", e.Model)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap exposes the wrapped causes to errors.Is and errors.As.
func (e *APIError) Unwrap() []error {
	return e.causes
}

// HTTPStatusCode returns the status code the HTTP surface should answer with.
func (e *APIError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidRequest, ErrorTypeUnsupportedProvider:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeModelIncompatible:
		return http.StatusUnprocessableEntity
	case ErrorTypeTransient:
		return http.StatusServiceUnavailable
	case ErrorTypeAllModelsExhausted:
		return http.StatusBadGateway
	case ErrorTypeUpstreamUnavailable:
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithModel records the provider and model the error belongs to.
func (e *APIError) WithModel(provider, model string) *APIError {
	e.Provider = provider
	e.Model = model
	return e
}

// WithStatusCode records the upstream HTTP status.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithCause wraps an underlying error.
func (e *APIError) WithCause(err error) *APIError {
	if err != nil {
		e.causes = append(e.causes, err)
	}
	return e
}

// Convenience constructors for common errors

// ErrUnsupportedProvider creates an unsupported provider error.
func ErrUnsupportedProvider(provider string) *APIError {
	return NewAPIError(ErrorTypeUnsupportedProvider, fmt.Sprintf("no model chain registered for provider %q", provider))
}

// ErrTransient creates a retryable provider error.
func ErrTransient(message string) *APIError {
	return NewAPIError(ErrorTypeTransient, message)
}

// ErrModelIncompatible creates a chain-fallback eligible error.
func ErrModelIncompatible(message string) *APIError {
	return NewAPIError(ErrorTypeModelIncompatible, message)
}

// ErrConfigurationMissing creates a capability lookup error.
func ErrConfigurationMissing(provider, model string) *APIError {
	return NewAPIError(ErrorTypeConfigurationMissing,
		fmt.Sprintf("no max output token setting for %s/%s", provider, model)).
		WithModel(provider, model)
}

// ErrUpstreamUnavailable creates a collaborator failure.
func ErrUpstreamUnavailable(collaborator string, err error) *APIError {
	return NewAPIError(ErrorTypeUpstreamUnavailable, collaborator+" unavailable").WithCause(err)
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message).WithCode(ErrorCodeInvalidAPIKey)
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

// ModelFailure pairs a chain entry with the error that ended it.
type ModelFailure struct {
	Model string
	Err   error
}

// ErrAllModelsExhausted aggregates the per-model failures of one chain.
func ErrAllModelsExhausted(provider string, failures []ModelFailure) *APIError {
	parts := make([]string, 0, len(failures))
	e := NewAPIError(ErrorTypeAllModelsExhausted, "")
	e.Provider = provider
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Model, f.Err))
		e.WithCause(f.Err)
	}
	e.Message = fmt.Sprintf("all %d models failed for provider %s (%s)", len(failures), provider, strings.Join(parts, "; "))
	return e
}

// TypeOf returns the ErrorType of the outermost APIError in err's chain,
// or "" when there is none.
func TypeOf(err error) ErrorType {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type
	}
	return ""
}

// transientMarkers are message fragments that identify capacity errors
// regardless of how the provider typed them.
var transientMarkers = []string{
	"overloaded",
	"503",
	"rate limit",
	"quota",
	"temporarily unavailable",
}

// IsTransient reports whether err should be retried against the same model.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch TypeOf(err) {
	case ErrorTypeTransient:
		return true
	case ErrorTypeModelIncompatible, ErrorTypeAuthentication, ErrorTypeAllModelsExhausted,
		ErrorTypeConfigurationMissing, ErrorTypeUnsupportedProvider:
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsModelIncompatible reports whether err should move dispatch to the next model.
func IsModelIncompatible(err error) bool {
	return TypeOf(err) == ErrorTypeModelIncompatible
}
