// Package telemetry builds, validates and submits study pings.
//
// Every ping is a versioned envelope (Payload) whose data shape is fixed by
// the schema named by its type. The Emitter never lets an instrumentation
// problem reach the caller: validation mismatches become error pings and
// library or transport faults are logged and swallowed.
package telemetry

import (
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/schema"
)

const (
	// PacketVersion is the envelope version. It is also the "shield" query
	// argument of survey URLs.
	PacketVersion = 3

	// ShieldVersion identifies this library in every ping.
	ShieldVersion = "5.3.0"
)

// Buckets (ping types). Each one names the schema its payloads must satisfy.
const (
	BucketStudy = schema.ShieldStudy
	BucketAddon = schema.ShieldStudyAddon
	BucketError = schema.ShieldStudyError
)

// Payload is the envelope handed to the pipeline.
type Payload struct {
	Version       int    `json:"version"`
	StudyName     string `json:"study_name"`
	Branch        string `json:"branch"`
	AddonVersion  string `json:"addon_version"`
	ShieldVersion string `json:"shield_version"`
	Type          string `json:"type"`
	Data          any    `json:"data"`
	Testing       bool   `json:"testing"`
}

// StateData is the data of a shield-study ping.
type StateData struct {
	StudyState string `json:"study_state"`
	Fullname   string `json:"study_state_fullname,omitempty"`
}

// AddonData is the data of a shield-study-addon ping. Attribute values must
// already be strings; see FlattenObject.
type AddonData struct {
	Attributes map[string]string `json:"attributes"`
}

// Error sources and severities accepted by the shield-study-error schema.
const (
	SourceAddon   = "addon"
	SourceShield  = "shield"
	SourceUnknown = "unknown"

	SeverityWarn     = "warn"
	SeverityImpaired = "impaired"
	SeverityFatal    = "fatal"
)

// ErrorReport is the data of a shield-study-error ping.
type ErrorReport struct {
	ErrorID     string         `json:"error_id"`
	ErrorSource string         `json:"error_source"`
	Severity    string         `json:"severity,omitempty"`
	Message     string         `json:"message,omitempty"`
	Error       map[string]any `json:"error,omitempty"`
}

// Identity is the per-study part of every envelope, fixed at setup.
type Identity struct {
	StudyName    string
	Branch       string
	AddonVersion string

	// Testing marks pings as test traffic. It is !removeTestingFlag.
	Testing bool
}

func (id Identity) envelope(bucket string, data any) *Payload {
	return &Payload{
		Version:       PacketVersion,
		StudyName:     id.StudyName,
		Branch:        id.Branch,
		AddonVersion:  id.AddonVersion,
		ShieldVersion: ShieldVersion,
		Type:          bucket,
		Data:          data,
		Testing:       id.Testing,
	}
}
