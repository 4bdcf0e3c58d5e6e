package handler

import (
	"context"
	"net/http"
	"time"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type SystemHandler struct {
	checks    map[string]Check
	startTime time.Time
}

func NewSystemHandler(checks map[string]Check) *SystemHandler {
	return &SystemHandler{checks: checks, startTime: time.Now()}
}

func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// Ready fails when any dependency is unreachable.
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	respondJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": results,
	})
}
