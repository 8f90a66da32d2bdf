package config

import (
	"fmt"
	"time"
)

// StudyConfig contains the host-side facts the engine needs besides the study
// file itself.
type StudyConfig struct {
	// ConfigFile is the JSON or YAML study definition (see LoadStudyFile).
	ConfigFile string `envconfig:"CONFIG_FILE" validate:"required"`

	// Namespace prefixes every persisted key. Defaults to "shield.<addon id>".
	Namespace string `envconfig:"NAMESPACE"`

	AddonID       string `envconfig:"ADDON_ID" validate:"required"`
	AddonVersion  string `envconfig:"ADDON_VERSION" validate:"required"`
	UpdateChannel string `envconfig:"UPDATE_CHANNEL" default:"release"`
	HostVersion   string `envconfig:"HOST_VERSION" default:"unknown"`

	// ClientID overrides the persisted per-install client id. Mostly for tests.
	ClientID string `envconfig:"CLIENT_ID"`

	// CaptureAllTelemetry records every ping in the audit trail, even when
	// sending is disabled.
	CaptureAllTelemetry bool `envconfig:"CAPTURE_ALL_TELEMETRY" default:"false"`

	// PersistVariation stores the chosen variation (legacy behaviour).
	PersistVariation bool `envconfig:"PERSIST_VARIATION" default:"false"`

	// AuditLimit caps the in-process trail of sent pings (searchSentTelemetry).
	AuditLimit int `envconfig:"AUDIT_LIMIT" default:"1000" validate:"min=1"`

	// SchemaCacheCapacity caps the compiled ad-hoc schemas kept for validateJSON.
	SchemaCacheCapacity int `envconfig:"SCHEMA_CACHE_CAPACITY" default:"256" validate:"min=1"`

	// AlivenessInterval is how often the expiry/active check runs. The daily
	// ping itself is gated on UTC day crossing.
	AlivenessInterval time.Duration `envconfig:"ALIVENESS_INTERVAL" default:"5m" validate:"gt=0"`

	// Permissions are the host's data-sharing permissions at start.
	PermissionShield  bool `envconfig:"PERMISSION_SHIELD" default:"true"`
	PermissionPioneer bool `envconfig:"PERMISSION_PIONEER" default:"false"`
}

// Validate fills derived defaults and checks cross-field rules.
func (c *StudyConfig) Validate() error {
	if err := validateNoWhitespace(c.AddonID, "study addon id"); err != nil {
		return err
	}
	if c.Namespace == "" {
		c.Namespace = "shield." + c.AddonID
	}
	if err := validateNoWhitespace(c.Namespace, "study namespace"); err != nil {
		return fmt.Errorf("invalid study namespace: %w", err)
	}
	return nil
}
