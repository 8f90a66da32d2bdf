//go:build integration

package observability_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/database"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/logger"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/observability"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/prefs"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/testsupport"
)

func readinessStatus(t *testing.T, url string) (int, map[string]string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Status map[string]string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body.Status
}

// TestReadiness_PrefsBackends_Integration probes every prefs backend the host
// can run on, then loses Redis.
func TestReadiness_PrefsBackends_Integration(t *testing.T) {
	// 1. Infrastructure Setup (Arrange)
	ctx := context.Background()

	pg, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err)
	defer pg.Terminate(ctx)

	rc, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer rc.Terminate(ctx)

	sqlite, err := prefs.OpenSQLite(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	defer sqlite.Close()

	// The postgres store must be usable, not only reachable.
	pgStore := prefs.NewPostgresStore(pg.DB)
	require.NoError(t, pgStore.Set(ctx, "shield.test.firstRunTimestamp", "1700000000000"))

	// 2. Server wiring, one checker per backend
	srv := observability.NewServer(logger.Discard(), testConfig(),
		database.NewPostgresChecker(pg.DB),
		database.NewRedisChecker(rc.Client),
		sqlite,
	)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// 3. Scenarios (Act + Assert)
	t.Run("Should be ready with every backend up", func(t *testing.T) {
		code, status := readinessStatus(t, ts.URL+"/check-deps")

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, map[string]string{"postgres": "up", "redis": "up", "sqlite": "up"}, status)
	})

	t.Run("Should expose shield metrics", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/telemetry")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Should report Redis down after the container stops", func(t *testing.T) {
		stopTimeout := 5 * time.Second
		require.NoError(t, rc.Container.Stop(ctx, &stopTimeout))

		require.Eventually(t, func() bool {
			code, _ := readinessStatus(t, ts.URL+"/check-deps")
			return code == http.StatusServiceUnavailable
		}, 10*time.Second, 200*time.Millisecond)

		_, status := readinessStatus(t, ts.URL+"/check-deps")
		assert.Contains(t, status["redis"], "down")
		assert.Equal(t, "up", status["postgres"])
		assert.Equal(t, "up", status["sqlite"])
	})
}
