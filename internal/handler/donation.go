package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"fundly/internal/campaign"
	"fundly/internal/gateway/chapa"
	"fundly/internal/gateway/stripe"
	"fundly/internal/reconcile"
	"fundly/pkg/domain"
	"fundly/pkg/errors"
	"fundly/pkg/validator"
)

var signatureHeaders = map[domain.Gateway]string{
	domain.GatewayCard:        stripe.SignatureHeader,
	domain.GatewayMobileMoney: chapa.SignatureHeader,
}

type DonationHandler struct {
	engine    *reconcile.Engine
	campaigns *campaign.Service
	validator *validator.Validator
	logger    Logger
}

func NewDonationHandler(engine *reconcile.Engine, campaigns *campaign.Service, val *validator.Validator, log Logger) *DonationHandler {
	return &DonationHandler{engine: engine, campaigns: campaigns, validator: val, logger: log}
}

type InitiateDonationRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"required,money"`
	Currency  string          `json:"currency" validate:"required,currency"`
	Gateway   string          `json:"gateway" validate:"required,gateway"`
	Email     string          `json:"email" validate:"required,email,max=255"`
	FirstName string          `json:"first_name" validate:"required,max=100"`
	LastName  string          `json:"last_name" validate:"max=100"`
	// Campaign is a slug, a campaign id, or empty / "general" for the general fund.
	Campaign string `json:"campaign" validate:"max=255"`
}

type InitiateDonationResponse struct {
	TransactionReference string           `json:"transaction_reference"`
	CheckoutURL          string           `json:"checkout_url,omitempty"`
	ClientSecret         string           `json:"client_secret,omitempty"`
	Donation             *domain.Donation `json:"donation"`
}

// Initiate records a PENDING donation and starts payment with the chosen gateway.
func (h *DonationHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateDonationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	campaignID, err := h.campaigns.Resolve(r.Context(), req.Campaign)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	d, res, err := h.engine.Create(r.Context(), &reconcile.CreateRequest{
		Amount:       req.Amount,
		Currency:     domain.ParseCurrency(req.Currency),
		Gateway:      domain.ParseGateway(req.Gateway),
		Email:        strings.TrimSpace(req.Email),
		FirstName:    validator.Sanitize(req.FirstName),
		LastName:     validator.Sanitize(req.LastName),
		CampaignID:   campaignID,
		CampaignSlug: strings.TrimSpace(req.Campaign),
	})
	if err != nil {
		status, msg := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Donation initiation failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		body := map[string]interface{}{"error": msg}
		if d != nil {
			body["transaction_reference"] = d.TransactionReference
		}
		respondJSON(w, status, body)
		return
	}

	respondJSON(w, http.StatusCreated, InitiateDonationResponse{
		TransactionReference: d.TransactionReference,
		CheckoutURL:          res.CheckoutURL,
		ClientSecret:         res.ClientSecret,
		Donation:             d,
	})
}

// Verify is polled by the donor's browser after returning from checkout.
func (h *DonationHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["reference"]
	d, err := h.engine.Settle(r.Context(), ref)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// Webhook authenticates and settles a provider callback. Errors the sender
// cannot fix by retrying are acknowledged with 200.
func (h *DonationHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	gw := domain.ParseGateway(mux.Vars(r)["gateway"])
	header, ok := signatureHeaders[gw]
	if !ok {
		respondError(w, http.StatusNotFound, "Unknown gateway")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	d, err := h.engine.HandleWebhook(r.Context(), gw, body, r.Header.Get(header))
	switch {
	case err == nil:
		h.logger.Info("Webhook processed", map[string]interface{}{
			"gateway":               gw,
			"transaction_reference": d.TransactionReference,
			"status":                d.Status,
		})
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, errors.ErrInvalidSignature):
		respondError(w, http.StatusUnauthorized, "Invalid signature")
	case reconcile.IsNonFatal(err):
		h.logger.Warn("Webhook ignored", map[string]interface{}{
			"gateway": gw,
			"error":   err.Error(),
		})
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	default:
		h.logger.Error("Webhook processing failed", map[string]interface{}{
			"gateway": gw,
			"error":   err.Error(),
		})
		respondDomainError(w, err)
	}
}

// List is the public donor wall: successful donations without email addresses.
func (h *DonationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	success := domain.DonationStatusSuccess
	filter := domain.DonationFilter{Status: &success, Limit: limit, Offset: offset}

	if slug := r.URL.Query().Get("campaign"); slug != "" {
		id, err := h.campaigns.Resolve(r.Context(), slug)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		filter.CampaignID = id
		filter.GeneralOnly = id == nil
	}

	donations, err := h.engine.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list donations", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Failed to fetch donations")
		return
	}
	for _, d := range donations {
		d.DonorEmail = nil
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"donations": donations,
		"limit":     limit,
		"offset":    offset,
	})
}
