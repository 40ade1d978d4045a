package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/pyrun-jupyter/internal/apperror"
	"github.com/sakif/pyrun-jupyter/internal/auth"
	"github.com/sakif/pyrun-jupyter/internal/params"
	"github.com/sakif/pyrun-jupyter/internal/service"
)

// ExecuteRequest is the body of POST /api/execute.
type ExecuteRequest struct {
	Code   string        `json:"code"`
	Params params.Params `json:"params,omitempty"`
	// TimeoutSeconds of zero uses the server default.
	TimeoutSeconds float64 `json:"timeoutSeconds,omitempty"`
}

type ExecuteHandler struct {
	runs   *service.RunService
	logger *slog.Logger
}

func NewExecuteHandler(runs *service.RunService, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		runs:   runs,
		logger: logger,
	}
}

// HandleExecute runs code on a fresh kernel and returns the recorded run.
// Exceptions raised by the code are a 200 with hasError set.
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body: "+err.Error()))
		return
	}
	if req.TimeoutSeconds < 0 {
		writeError(w, apperror.ValidationFailed("timeoutSeconds", "must not be negative"))
		return
	}

	subject, _ := auth.SubjectFromContext(r.Context())
	timeout := time.Duration(req.TimeoutSeconds * float64(time.Second))

	run, err := h.runs.Execute(r.Context(), subject, req.Code, req.Params, timeout)
	if err != nil {
		h.logger.Error("code execution failed", slog.String("error", err.Error()))
		runID := ""
		if run != nil {
			runID = run.ID
		}
		writeErrorWithRun(w, err, runID)
		return
	}

	writeJSON(w, http.StatusOK, run)
}
