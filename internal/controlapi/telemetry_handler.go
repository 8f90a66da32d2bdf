package controlapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/render"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/telemetry"
)

// handleSendTelemetry processes POST /api/v1/telemetry.
func (a *API) handleSendTelemetry(w http.ResponseWriter, r *http.Request) {
	var req TelemetryRequest
	if !decode(w, r, &req) {
		return
	}
	attrs, errResp := req.Attributes()
	if errResp != nil {
		writeError(w, r, http.StatusBadRequest, *errResp)
		return
	}

	id, err := a.study.SendTelemetry(r.Context(), attrs)
	if err != nil {
		a.writeStudyError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, TelemetryResponse{PingID: id, Sent: id != ""})
}

// handlePingSize processes POST /api/v1/telemetry/size.
func (a *API) handlePingSize(w http.ResponseWriter, r *http.Request) {
	var req TelemetryRequest
	if !decode(w, r, &req) {
		return
	}
	attrs, errResp := req.Attributes()
	if errResp != nil {
		writeError(w, r, http.StatusBadRequest, *errResp)
		return
	}

	size, err := a.study.CalculateTelemetryPingSize(r.Context(), attrs)
	if err != nil {
		a.writeStudyError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PingSizeResponse{Bytes: size})
}

// handleSearchSent processes GET /api/v1/telemetry/sent.
//
// Query parameters: type (repeatable or comma separated), n, since
// (RFC 3339 or Unix milliseconds), headers_only.
func (a *API) handleSearchSent(w http.ResponseWriter, r *http.Request) {
	q, err := parseSearchQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrorResponse{Code: "ERR_INVALID_QUERY_PARAM", Message: err.Error()})
		return
	}

	pings, err := a.study.SearchSentTelemetry(r.Context(), q)
	if err != nil {
		a.writeStudyError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, SentTelemetryResponse{Data: pings, Count: len(pings)})
}

// handleValidate processes POST /api/v1/validate.
func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !decode(w, r, &req) {
		return
	}
	if errResp := req.Validate(); errResp != nil {
		writeError(w, r, http.StatusBadRequest, *errResp)
		return
	}

	res, err := a.study.ValidateJSON(req.Data, []byte(req.Schema))
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, ErrorResponse{Code: "ERR_INVALID_SCHEMA", Message: err.Error()})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, res)
}

func parseSearchQuery(r *http.Request) (telemetry.SearchQuery, error) {
	values := r.URL.Query()
	var q telemetry.SearchQuery

	for _, raw := range values["type"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				q.Type = append(q.Type, t)
			}
		}
	}

	n, err := parseOptionalInt(r, "n", 0)
	if err != nil {
		return q, err
	}
	if n < 0 {
		return q, fmt.Errorf("parameter 'n' must not be negative")
	}
	q.N = n

	if since := values.Get("since"); since != "" {
		q.Since, err = parseTime(since)
		if err != nil {
			return q, err
		}
	}

	if h := values.Get("headers_only"); h != "" {
		q.HeadersOnly, err = strconv.ParseBool(h)
		if err != nil {
			return q, fmt.Errorf("parameter 'headers_only' must be a boolean")
		}
	}
	return q, nil
}

func parseTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parameter 'since' must be RFC 3339 or Unix milliseconds")
	}
	return t, nil
}

// parseOptionalInt extracts an integer from the query string.
// If the parameter is missing, it returns the defaultValue.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}
