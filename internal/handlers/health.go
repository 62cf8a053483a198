package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// PingFunc reports whether a dependency is reachable.
type PingFunc func(ctx context.Context) error

func Health(checks map[string]PingFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		components := make(map[string]string, len(checks))
		for name, ping := range checks {
			if err := ping(ctx); err != nil {
				slog.WarnContext(ctx, "health check failed", "component", name, "error", err)
				components[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			components[name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}
		writeJSON(w, status, map[string]interface{}{
			"status":     state,
			"service":    "users",
			"components": components,
		})
	}
}
