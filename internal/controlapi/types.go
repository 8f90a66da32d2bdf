package controlapi

import (
	"encoding/json"
	"strings"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/telemetry"
)

// EndStudyRequest is the body of POST /api/v1/study/end.
type EndStudyRequest struct {
	Ending string `json:"ending"`
}

func (r *EndStudyRequest) Sanitize() {
	r.Ending = strings.TrimSpace(r.Ending)
}

func (r *EndStudyRequest) Validate() *ErrorResponse {
	if r.Ending == "" {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Ending is required"}
	}
	return nil
}

// TelemetryRequest is the body of POST /api/v1/telemetry and
// POST /api/v1/telemetry/size.
type TelemetryRequest struct {
	// Payload values must be strings unless Flatten is set.
	Payload map[string]any `json:"payload"`

	// Flatten converts nested values to dotted string keys before sending.
	Flatten bool `json:"flatten,omitempty"`
}

// Attributes returns the string map the engine expects, or the offending
// fields when a value is not a string and Flatten is off.
func (r *TelemetryRequest) Attributes() (map[string]string, *ErrorResponse) {
	if r.Payload == nil {
		return nil, &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Payload is required"}
	}
	if r.Flatten {
		return telemetry.Flatten(r.Payload), nil
	}

	out := make(map[string]string, len(r.Payload))
	var details []ErrorDetail
	for k, v := range r.Payload {
		s, ok := v.(string)
		if !ok {
			details = append(details, ErrorDetail{Field: "payload." + k, Issue: "must be a string"})
			continue
		}
		out[k] = s
	}
	if len(details) > 0 {
		return nil, &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Payload values must be strings; set flatten to convert nested data",
			Details: details,
		}
	}
	return out, nil
}

// TelemetryResponse reports the ping id. Sent is false when the ping was
// suppressed or dropped.
type TelemetryResponse struct {
	PingID string `json:"ping_id,omitempty"`
	Sent   bool   `json:"sent"`
}

type PingSizeResponse struct {
	Bytes int `json:"bytes"`
}

type SentTelemetryResponse struct {
	Data  []telemetry.SentPing `json:"data"`
	Count int                  `json:"count"`
}

// PermissionsRequest is the body of POST /api/v1/permissions. Both fields are required.
type PermissionsRequest struct {
	Shield  *bool `json:"shield"`
	Pioneer *bool `json:"pioneer"`
}

func (r *PermissionsRequest) Validate() *ErrorResponse {
	var details []ErrorDetail
	if r.Shield == nil {
		details = append(details, ErrorDetail{Field: "shield", Issue: "required"})
	}
	if r.Pioneer == nil {
		details = append(details, ErrorDetail{Field: "pioneer", Issue: "required"})
	}
	if len(details) > 0 {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Both permissions are required", Details: details}
	}
	return nil
}

// ValidateRequest is the body of POST /api/v1/validate.
type ValidateRequest struct {
	Data   any             `json:"data"`
	Schema json.RawMessage `json:"schema"`
}

func (r *ValidateRequest) Validate() *ErrorResponse {
	if len(r.Schema) == 0 || string(r.Schema) == "null" {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Schema is required"}
	}
	return nil
}

// FirstRunRequest is the body of PUT /api/v1/debug/first-run-timestamp.
type FirstRunRequest struct {
	Timestamp *int64 `json:"timestamp"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}
