package handler

import (
	"context"
	"net/http"

	"fundly/internal/campaign"
	"fundly/internal/reconcile"
)

type Auditor interface {
	Check(ctx context.Context) (*campaign.AuditReport, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (*reconcile.SweepReport, error)
}

type AdminHandler struct {
	engine  *reconcile.Engine
	auditor Auditor
	sweeper Sweeper
	logger  Logger
}

func NewAdminHandler(engine *reconcile.Engine, auditor Auditor, sweeper Sweeper, log Logger) *AdminHandler {
	return &AdminHandler{engine: engine, auditor: auditor, sweeper: sweeper, logger: log}
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		h.logger.Error("Failed to load dashboard stats", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Failed to fetch stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Audit compares incremental campaign totals with a recompute. Drift is
// reported, never repaired.
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	report, err := h.auditor.Check(r.Context())
	if err != nil {
		h.logger.Error("Campaign audit failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Audit failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"consistent": report.Consistent(),
		"report":     report,
	})
}

// Sweep settles one batch of stale PENDING donations now.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		h.logger.Error("Manual sweep failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Sweep failed")
		return
	}
	respondJSON(w, http.StatusOK, report)
}
