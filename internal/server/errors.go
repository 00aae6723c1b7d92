package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
)

// errorBody is the JSON envelope of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type     domain.ErrorType `json:"type"`
	Code     domain.ErrorCode `json:"code,omitempty"`
	Message  string           `json:"message"`
	Provider string           `json:"provider,omitempty"`
	Model    string           `json:"model,omitempty"`
}

// toAPIError maps any error onto the domain taxonomy.
func toAPIError(err error) *domain.APIError {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrTransient("request timed out").WithCode(domain.ErrorCodeTimeout).WithCause(err)
	}
	return domain.ErrServer(err.Error()).WithCause(err)
}

func detailOf(apiErr *domain.APIError) errorDetail {
	return errorDetail{
		Type:     apiErr.Type,
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Provider: apiErr.Provider,
		Model:    apiErr.Model,
	}
}

// writeError answers with the status the error type maps to.
func writeError(w http.ResponseWriter, err error) {
	apiErr := toAPIError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatusCode())
	_ = json.NewEncoder(w).Encode(errorBody{Error: detailOf(apiErr)})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
