package controlapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/logger"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/study"
)

// handleStudyInfo processes GET /api/v1/study.
func (a *API) handleStudyInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.study.StudyInfo(r.Context())
	if err != nil {
		a.writeStudyError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, info)
}

// handleEndStudy processes POST /api/v1/study/end.
//
// The winner of a race gets 200 with the ending result; a concurrent or
// conflicting request gets 409 naming the ending already in progress.
func (a *API) handleEndStudy(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req EndStudyRequest
	if !decode(w, r, &req) {
		return
	}
	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		writeError(w, r, http.StatusBadRequest, *errResp)
		return
	}

	result, err := a.study.EndStudy(r.Context(), req.Ending)
	if err != nil {
		a.writeStudyError(w, r, err)
		return
	}

	log.Info("study ended through control api", slog.String("ending", result.EndingName))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, result)
}

// handlePermissions processes POST /api/v1/permissions.
func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	var req PermissionsRequest
	if !decode(w, r, &req) {
		return
	}
	if errResp := req.Validate(); errResp != nil {
		writeError(w, r, http.StatusBadRequest, *errResp)
		return
	}

	a.study.NotifyDataPermissions(r.Context(), study.Permissions{Shield: *req.Shield, Pioneer: *req.Pioneer})
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body into dst, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		logger.FromContext(r.Context()).Warn("invalid json payload", slog.String("error", err.Error()))
		writeError(w, r, http.StatusBadRequest, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return false
	}
	return true
}

// writeStudyError maps engine errors to HTTP statuses.
func (a *API) writeStudyError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *study.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeError(w, r, http.StatusConflict, ErrorResponse{
			Code:    "ERR_ENDING_CONFLICT",
			Message: err.Error(),
			Details: []ErrorDetail{{Field: "ending", Issue: "already ending with " + conflict.Current}},
		})
	case errors.Is(err, study.ErrEndingConflict):
		writeError(w, r, http.StatusConflict, ErrorResponse{Code: "ERR_ENDING_CONFLICT", Message: err.Error()})
	case errors.Is(err, study.ErrNotSetup):
		writeError(w, r, http.StatusConflict, ErrorResponse{Code: "ERR_NOT_SETUP", Message: err.Error()})
	case errors.Is(err, study.ErrStudyEnded):
		writeError(w, r, http.StatusGone, ErrorResponse{Code: "ERR_STUDY_ENDED", Message: err.Error()})
	case errors.Is(err, study.ErrUnknownEnding):
		writeError(w, r, http.StatusNotFound, ErrorResponse{Code: "ERR_UNKNOWN_ENDING", Message: err.Error()})
	default:
		logger.FromContext(r.Context()).Error("study operation failed", slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, ErrorResponse{Code: "ERR_INTERNAL", Message: "Study operation failed"})
	}
}
