// Package apierr maps upstream HTTP answers and transport failures onto the
// dispatch error taxonomy. Every provider adapter uses it so the engine can
// classify failures without knowing the vendor.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
)

// StatusOverloaded is the non-standard status Anthropic uses for overload.
const StatusOverloaded = 529

// oversizedMarkers identify requests rejected for their size.
var oversizedMarkers = []string{
	"too long",
	"too large",
	"request_too_large",
	"exceeds the maximum",
	"maximum context length",
	"context length",
	"context_length_exceeded",
	"prompt is too long",
	"input token count",
}

// IsOversized reports whether message describes a request-size rejection.
func IsOversized(message string) bool {
	msg := strings.ToLower(message)
	for _, m := range oversizedMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// FromStatus converts a non-2xx upstream answer into a domain error.
func FromStatus(provider, model string, status int, message string) *domain.APIError {
	if message == "" {
		message = http.StatusText(status)
	}
	var e *domain.APIError
	switch {
	case status == http.StatusTooManyRequests:
		e = domain.ErrTransient(message).WithCode(domain.ErrorCodeRateLimitExceeded)
	case status == http.StatusServiceUnavailable || status == StatusOverloaded:
		e = domain.ErrTransient(message).WithCode(domain.ErrorCodeOverloaded)
	case status == http.StatusRequestEntityTooLarge:
		e = domain.ErrModelIncompatible(message).WithCode(domain.ErrorCodeRequestTooLarge)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = domain.ErrAuthentication(message)
	case status == http.StatusNotFound:
		e = domain.ErrModelIncompatible(message).WithCode(domain.ErrorCodeModelNotFound)
	case status >= 400 && status < 500 && IsOversized(message):
		e = domain.ErrModelIncompatible(message).WithCode(domain.ErrorCodeRequestTooLarge)
	case status >= 400 && status < 500 && domain.IsTransient(errors.New(message)):
		e = domain.ErrTransient(message)
	case status >= 400 && status < 500:
		e = domain.ErrInvalidRequest(message)
	default:
		e = domain.ErrTransient(message)
	}
	return e.WithModel(provider, model).WithStatusCode(status)
}

// FromTransport converts a failure to reach the provider. Cancellation is
// returned unchanged. Deadlines are transient. Other network failures move
// the chain on for fragile models and are fatal otherwise.
func FromTransport(provider, model string, fragile bool, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrTransient("request timed out").
			WithCode(domain.ErrorCodeTimeout).
			WithModel(provider, model).
			WithCause(err)
	}
	msg := fmt.Sprintf("request failed: %v", err)
	if fragile {
		return domain.ErrModelIncompatible(msg).
			WithCode(domain.ErrorCodeNetwork).
			WithModel(provider, model).
			WithCause(err)
	}
	if domain.IsTransient(err) {
		return domain.ErrTransient(msg).WithModel(provider, model).WithCause(err)
	}
	return domain.ErrServer(msg).
		WithCode(domain.ErrorCodeNetwork).
		WithModel(provider, model).
		WithCause(err)
}

// FromStreamMessage converts an error reported inside a stream body.
func FromStreamMessage(provider, model, errType, message string) *domain.APIError {
	text := message
	if errType != "" {
		text = errType + ": " + message
	}
	switch {
	case strings.Contains(errType, "overloaded"), domain.IsTransient(errors.New(text)):
		return domain.ErrTransient(text).WithCode(domain.ErrorCodeOverloaded).WithModel(provider, model)
	case IsOversized(text):
		return domain.ErrModelIncompatible(text).WithCode(domain.ErrorCodeRequestTooLarge).WithModel(provider, model)
	default:
		return domain.ErrServer(text).WithModel(provider, model)
	}
}
