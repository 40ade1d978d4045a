// Package handler contains the JSON HTTP handlers of the API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/pyrun-jupyter/internal/apperror"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
	Field   string `json:"field,omitempty"`
	// RunID is set when a partial run was recorded before the failure.
	RunID string `json:"runId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps an error onto an HTTP status and error type.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrParameterEncoding):
		return http.StatusBadRequest, "parameter_error"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrContextCreation):
		return http.StatusBadGateway, "kernel_unavailable"
	case errors.Is(err, apperror.ErrChannel):
		return http.StatusBadGateway, "kernel_channel_error"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "canceled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorWithRun(w, err, "")
}

func writeErrorWithRun(w http.ResponseWriter, err error, runID string) {
	status, errorType := errorStatus(err)
	resp := ErrorResponse{Error: errorType, RunID: runID}

	var appErr *apperror.AppError
	switch {
	case errors.As(err, &appErr):
		resp.Message = appErr.Error()
		resp.Field = appErr.Field
	case status == http.StatusInternalServerError:
		// Don't leak internals.
		resp.Message = "An internal error occurred"
	default:
		resp.Message = err.Error()
	}

	writeJSON(w, status, resp)
}
