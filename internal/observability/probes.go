package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/render"
)

// readinessResponse is the body of the readiness probe.
type readinessResponse struct {
	Status map[string]string `json:"status"`
}

// liveness responds with 200 OK while the process serves HTTP.
func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs every checker in parallel and answers 200 only if all pass.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	status := make(map[string]string, len(s.checkers))
	healthy := true

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, checker := range s.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()

			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// WARN: orchestrators retry probes, an error here is not actionable yet.
				s.logger.Warn("health probe failed",
					slog.String("component", c.Name()),
					slog.String("error", err.Error()),
				)
				status[c.Name()] = fmt.Sprintf("down: %v", err)
				healthy = false
				return
			}
			status[c.Name()] = "up"
		}(checker)
	}
	wg.Wait()

	if healthy {
		render.Status(r, http.StatusOK)
	} else {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, readinessResponse{Status: status})
}
