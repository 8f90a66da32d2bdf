// Package testsupport spins up ephemeral Docker containers (PostgreSQL, Redis)
// for integration tests and asserts Prometheus metric deltas.
package testsupport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/config"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/database"
)

// PostgresContainer is a throwaway PostgreSQL with the prefs schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DB        *pgxpool.Pool
	Config    *config.DatabaseConfig

	// Migrations lists the applied files, in order.
	Migrations []string
}

// Terminate closes the pool and removes the container.
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	c.DB.Close()
	return c.Container.Terminate(ctx)
}

// Truncate empties study_prefs between subtests.
func (c *PostgresContainer) Truncate(ctx context.Context) error {
	_, err := c.DB.Exec(ctx, `TRUNCATE study_prefs`)
	return err
}

// StartPostgresContainer starts postgres:16-alpine, connects through
// database.NewPostgresPool (the production factory) and applies every .sql
// file of migrationsDir in name order over that pool.
func StartPostgresContainer(ctx context.Context, migrationsDir string) (*PostgresContainer, error) {
	// 1. Collect migrations before paying for a container
	migrations, err := filepath.Glob(filepath.Join(migrationsDir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("bad migrations pattern: %w", err)
	}
	if len(migrations) == 0 {
		return nil, fmt.Errorf("no migrations in %s", migrationsDir)
	}
	slices.Sort(migrations)

	// 2. Start the container
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("shield_test"),
		postgres.WithUsername("shield"),
		postgres.WithPassword("shield"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	// 3. Connect the way the host does
	cfg := &config.DatabaseConfig{
		URL:             dsn,
		MaxConns:        2,
		MinConns:        0,
		MaxConnLifetime: 10 * time.Minute,
		MaxConnIdleTime: time.Minute,
		ConnectTimeout:  5 * time.Second,
		PingMaxRetries:  10,
		PingBackoff:     250 * time.Millisecond,
	}
	pool, err := database.NewPostgresPool(ctx, cfg)
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to connect to postgres container: %w", err)
	}

	// 4. Apply migrations
	for _, path := range migrations {
		sql, err := os.ReadFile(path)
		if err == nil {
			_, err = pool.Exec(ctx, string(sql))
		}
		if err != nil {
			pool.Close()
			_ = ctr.Terminate(ctx)
			return nil, fmt.Errorf("migration %s: %w", filepath.Base(path), err)
		}
	}

	return &PostgresContainer{
		Container:  ctr,
		DB:         pool,
		Config:     cfg,
		Migrations: migrations,
	}, nil
}
