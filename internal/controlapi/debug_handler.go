package controlapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/logger"
)

// handleInternals processes GET /api/v1/debug/internals.
func (a *API) handleInternals(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, a.study.Internals())
}

// handleReset processes POST /api/v1/debug/reset.
func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := a.study.Reset(r.Context()); err != nil {
		logger.FromContext(r.Context()).Error("reset failed", slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to reset study"})
		return
	}
	logger.FromContext(r.Context()).Warn("study reset through debug route")
	w.WriteHeader(http.StatusNoContent)
}

// handleFirstRunTimestamp processes PUT /api/v1/debug/first-run-timestamp.
func (a *API) handleFirstRunTimestamp(w http.ResponseWriter, r *http.Request) {
	var req FirstRunRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Timestamp == nil || *req.Timestamp < 0 {
		writeError(w, r, http.StatusBadRequest, ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Timestamp must be a non-negative number of milliseconds",
		})
		return
	}

	if err := a.study.SetFirstRunTimestamp(r.Context(), *req.Timestamp); err != nil {
		logger.FromContext(r.Context()).Error("cannot set first run timestamp", slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to persist timestamp"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
