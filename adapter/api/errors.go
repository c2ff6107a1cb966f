package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) withMessage(msg string) *APIError {
	return &APIError{Status: e.Status, Code: e.Code, Message: msg}
}

func newAPIError(status int, code, msg string) *APIError {
	return &APIError{Status: status, Code: code, Message: msg}
}

var (
	ErrBadRequest     = newAPIError(http.StatusBadRequest, "bad_request", "Invalid request")
	ErrForbidden      = newAPIError(http.StatusForbidden, "forbidden", "Invalid or expired signature")
	ErrNotFound       = newAPIError(http.StatusNotFound, "not_found", "Resource not found")
	ErrTooLarge       = newAPIError(http.StatusRequestEntityTooLarge, "too_large", "Upload exceeds the size limit")
	ErrUnprocessable  = newAPIError(http.StatusUnprocessableEntity, "unprocessable", "Request could not be processed")
	ErrInternalServer = newAPIError(http.StatusInternalServerError, "internal_error", "Internal server error")
	ErrNotImplemented = newAPIError(http.StatusNotImplemented, "not_implemented", "Operation not supported")
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, apiErr *APIError) {
	writeJSON(w, apiErr.Status, apiErr)
}
