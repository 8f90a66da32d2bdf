package config

import (
	"fmt"
	"strings"
	"time"
)

// Telemetry transports.
const (
	TransportNone  = "none"
	TransportHTTP  = "http"
	TransportRedis = "redis"
)

// TelemetryConfig configures the pipeline that carries pings out of the process.
type TelemetryConfig struct {
	Transport string        `envconfig:"TRANSPORT" default:"none" validate:"oneof=none http redis"`
	Endpoint  string        `envconfig:"ENDPOINT"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"10s" validate:"gt=0"`
	Stream    string        `envconfig:"STREAM" default:"shield:telemetry"`

	// EncryptionRecipient is an age X25519 recipient ("age1..."). When set,
	// payloads are encrypted (pioneer pipeline).
	EncryptionRecipient string `envconfig:"ENCRYPTION_RECIPIENT"`
	EncryptionKeyID     string `envconfig:"ENCRYPTION_KEY_ID" default:"pioneer-v1"`
	PioneerID           string `envconfig:"PIONEER_ID"`
}

// EncryptionEnabled reports whether the encrypted pipeline is selected.
func (c *TelemetryConfig) EncryptionEnabled() bool {
	return c.EncryptionRecipient != ""
}

// Validate performs validation on the TelemetryConfig.
func (c *TelemetryConfig) Validate(environment string) error {
	if c.Transport == TransportHTTP {
		allowed := []string{"https"}
		if environment != EnvironmentProduction {
			allowed = append(allowed, "http")
		}
		if _, err := parseAndValidateURL(c.Endpoint, allowed); err != nil {
			return fmt.Errorf("invalid telemetry endpoint: %w", err)
		}
	}
	if c.Transport == TransportRedis {
		if err := validateNoWhitespace(c.Stream, "telemetry stream"); err != nil {
			return err
		}
	}
	if c.EncryptionEnabled() && !strings.HasPrefix(c.EncryptionRecipient, "age1") {
		return fmt.Errorf("telemetry encryption recipient must be an age X25519 recipient")
	}
	return nil
}
