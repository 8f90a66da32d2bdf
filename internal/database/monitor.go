package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/observability"
)

// RunPoolMonitor samples pool statistics into Prometheus gauges every interval
// until ctx is cancelled. Run it in its own goroutine.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		recordPoolStats(pool.Stat())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func recordPoolStats(s *pgxpool.Stat) {
	observability.DatabasePoolConnections.WithLabelValues("max").Set(float64(s.MaxConns()))
	observability.DatabasePoolConnections.WithLabelValues("total").Set(float64(s.TotalConns()))
	observability.DatabasePoolConnections.WithLabelValues("idle").Set(float64(s.IdleConns()))
	observability.DatabasePoolConnections.WithLabelValues("in_use").Set(float64(s.AcquiredConns()))
	observability.DatabasePoolAcquireCount.Set(float64(s.AcquireCount()))
}
