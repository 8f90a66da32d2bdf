//go:build integration

package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/database"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/testsupport"
)

func TestDatabase_Integration(t *testing.T) {
	// 1. Infrastructure Setup (Arrange)
	ctx := context.Background()

	pgContainer, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err)
	defer pgContainer.Terminate(ctx)

	redisContainer, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisContainer.Terminate(ctx)

	// 2. Scenarios (Act + Assert)
	t.Run("Checkers should pass against live servers", func(t *testing.T) {
		assert.NoError(t, database.NewPostgresChecker(pgContainer.DB).Check(ctx))
		assert.NoError(t, database.NewRedisChecker(redisContainer.Client).Check(ctx))
	})

	t.Run("Pool monitor should publish pool gauges", func(t *testing.T) {
		monitorCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			database.RunPoolMonitor(monitorCtx, pgContainer.DB, 50*time.Millisecond)
			close(done)
		}()

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "shield_database_pool_connections",
				map[string]string{"state": "max"}) > 0
		}, 5*time.Second, 50*time.Millisecond)

		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("RunPoolMonitor did not stop after cancel")
		}
	})
}
