package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/autopeer-io/vandash/internal/supervisor"
)

// Error codes returned in the error body.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidState = "INVALID_STATE"
	CodeBadRequest   = "BAD_REQUEST"
	CodeForbidden    = "FORBIDDEN"
	CodeInternal     = "INTERNAL"
)

// APIError is a client-visible error with a stable code.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string { return e.Code + ": " + e.Message }

func badRequest(msg string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: msg}
}

type errorBody struct {
	Error *APIError `json:"error"`
}

// toAPIError maps domain errors onto status codes.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var notFound *supervisor.NotFoundError
	if errors.As(err, &notFound) {
		return &APIError{Status: http.StatusNotFound, Code: CodeNotFound, Message: err.Error()}
	}
	var invalid *supervisor.InvalidStateError
	if errors.As(err, &invalid) {
		return &APIError{Status: http.StatusConflict, Code: CodeInvalidState, Message: err.Error()}
	}
	return &APIError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: err.Error()}
}

func writeError(w http.ResponseWriter, err error) {
	apiErr := toAPIError(err)
	writeJSON(w, apiErr.Status, errorBody{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
