package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"fundly/internal/campaign"
	"fundly/pkg/validator"
)

type CampaignHandler struct {
	service   *campaign.Service
	validator *validator.Validator
	logger    Logger
}

func NewCampaignHandler(service *campaign.Service, val *validator.Validator, log Logger) *CampaignHandler {
	return &CampaignHandler{service: service, validator: val, logger: log}
}

func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 20)
	if limit > 100 {
		limit = 100
	}

	campaigns, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list campaigns", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Failed to fetch campaigns")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaigns": campaigns,
		"limit":     limit,
		"offset":    offset,
	})
}

func (h *CampaignHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Get(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Create is admin-only.
func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req campaign.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	c, err := h.service.Create(r.Context(), &req)
	if err != nil {
		status, msg := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to create campaign", map[string]interface{}{"error": err.Error()})
		}
		respondError(w, status, msg)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}
