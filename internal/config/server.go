package config

import (
	"fmt"
	"time"
)

// ServerConfig configures the control API the host collaborator calls.
type ServerConfig struct {
	Port              string        `envconfig:"PORT" default:"8080"`
	Host              string        `envconfig:"HOST" default:"127.0.0.1"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxBodyBytes      int64         `envconfig:"MAX_BODY_BYTES" default:"1048576" validate:"min=1"`

	// APIToken, when set, is required as "Authorization: Bearer <token>".
	APIToken string `envconfig:"API_TOKEN"`

	// DebugRoutes exposes reset, first-run override and internals.
	DebugRoutes bool `envconfig:"DEBUG_ROUTES" default:"false"`
}

// Address returns host:port for net/http.
func (c *ServerConfig) Address() string {
	return c.Host + ":" + c.Port
}

// Validate performs validation on the ServerConfig.
func (c *ServerConfig) Validate(environment string) error {
	if err := validatePort(c.Port, "control api"); err != nil {
		return err
	}
	if err := validateNoWhitespace(c.Host, "control api host"); err != nil {
		return err
	}
	if environment == EnvironmentProduction && c.Host != "127.0.0.1" && c.Host != "localhost" && c.APIToken == "" {
		return fmt.Errorf("API token is required when the control api listens on a non-loopback host in production")
	}
	if environment == EnvironmentProduction && c.DebugRoutes {
		return fmt.Errorf("debug routes cannot be enabled in production")
	}
	return nil
}
