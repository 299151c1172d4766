package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck is one named dependency check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Live reports process liveness and the state of each registered dependency.
// Any failing dependency turns the response into a 503.
func (h *HealthHandlers) Live(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.Deps.HealthChecks))

	for _, check := range h.Deps.HealthChecks {
		if err := check.Check(ctx); err != nil {
			checks[check.Name] = err.Error()
			status = http.StatusServiceUnavailable

			continue
		}

		checks[check.Name] = "ok"
	}

	body := map[string]any{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}

	renderJSON(w, status, body)
}
