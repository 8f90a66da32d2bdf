package config

import (
	"fmt"
	"time"
)

// Prefs backends.
const (
	StoreBackendMemory   = "memory"
	StoreBackendSQLite   = "sqlite"
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
)

// StoreConfig selects and tunes the persisted prefs backend.
type StoreConfig struct {
	Backend    string `envconfig:"BACKEND" default:"sqlite" validate:"oneof=memory sqlite redis postgres"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"shield-prefs.db"`

	// L1 cache in front of remote backends (redis, postgres).
	CacheCapacity int           `envconfig:"CACHE_CAPACITY" default:"1024" validate:"min=1"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"1m"`
}

// Remote reports whether the backend lives outside the process.
func (c *StoreConfig) Remote() bool {
	return c.Backend == StoreBackendRedis || c.Backend == StoreBackendPostgres
}

// Validate performs validation on the StoreConfig.
func (c *StoreConfig) Validate() error {
	if c.Backend == StoreBackendSQLite {
		if err := validateNoWhitespace(c.SQLitePath, "sqlite path"); err != nil {
			return err
		}
	}
	if c.Remote() && c.CacheTTL <= 0 {
		return fmt.Errorf("store cache ttl must be positive for remote backends, got %s", c.CacheTTL)
	}
	return nil
}
