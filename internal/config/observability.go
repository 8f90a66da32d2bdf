package config

import "time"

// ObservabilityConfig holds configuration for the admin server (metrics, probes).
type ObservabilityConfig struct {
	Enabled bool   `envconfig:"ENABLED" default:"true"`
	Port    string `envconfig:"PORT" default:"9090"`

	// Timeout bounds Read/Write/Idle and the readiness fan-out.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"min=1s"`

	LivenessPath  string `envconfig:"LIVENESS_PATH" default:"/healthz"`
	ReadinessPath string `envconfig:"READINESS_PATH" default:"/readyz"`
	MetricsPath   string `envconfig:"METRICS_PATH" default:"/metrics"`
}

// Validate checks ObservabilityConfig fields for correctness.
func (o *ObservabilityConfig) Validate() error {
	if !o.Enabled {
		return nil
	}
	return validatePort(o.Port, "observability")
}
