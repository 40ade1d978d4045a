package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/pyrun-jupyter/internal/apperror"
	"github.com/sakif/pyrun-jupyter/internal/auth"
	"github.com/sakif/pyrun-jupyter/internal/model"
	"github.com/sakif/pyrun-jupyter/internal/service"
)

// RunHandler serves the execution history.
type RunHandler struct {
	runs   *service.RunService
	logger *slog.Logger
}

func NewRunHandler(runs *service.RunService, logger *slog.Logger) *RunHandler {
	return &RunHandler{runs: runs, logger: logger}
}

// HandleList serves GET /api/runs?limit=&offset=&status=.
func (h *RunHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := intQuery(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := intQuery(q.Get("offset"), "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	subject, _ := auth.SubjectFromContext(r.Context())
	runs, err := h.runs.List(r.Context(), subject, model.RunStatus(q.Get("status")), limit, offset)
	if err != nil {
		h.logger.Error("failed to list runs", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, runs)
}

// HandleGetByID serves GET /api/runs/{id}.
func (h *RunHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	subject, _ := auth.SubjectFromContext(r.Context())

	run, err := h.runs.GetByID(r.Context(), subject, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// HandleDelete serves DELETE /api/runs/{id}.
func (h *RunHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	subject, _ := auth.SubjectFromContext(r.Context())

	if err := h.runs.Delete(r.Context(), subject, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func intQuery(v, field string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperror.ValidationFailed(field, field+" must be an integer")
	}
	return n, nil
}
