// Package handler exposes the donation, campaign and admin HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"fundly/pkg/errors"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

const maxRequestBody = 1 << 20

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondValidationErrors(w http.ResponseWriter, errs map[string]string) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":             "Validation failed",
		"validation_errors": errs,
	})
}

// statusFor maps domain errors to an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errors.ErrInvalidSignature):
		return http.StatusUnauthorized, "Invalid signature"
	case errors.Is(err, errors.ErrUnknownTransaction):
		return http.StatusNotFound, "Donation not found"
	case errors.Is(err, errors.ErrCampaignNotFound):
		return http.StatusNotFound, "Campaign not found"
	case errors.Is(err, errors.ErrGatewayUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Payment provider unavailable, please retry"
	case errors.Is(err, errors.ErrGatewayRejected):
		return http.StatusBadRequest, "Payment provider rejected the request"
	case errors.Is(err, errors.ErrInvalidAmount):
		return http.StatusBadRequest, "Invalid amount"
	case errors.Is(err, errors.ErrUnsupportedCurrency):
		return http.StatusBadRequest, "Unsupported currency"
	case errors.Is(err, errors.ErrUnsupportedGateway):
		return http.StatusBadRequest, "Unsupported gateway"
	case errors.Is(err, errors.ErrCampaignInactive):
		return http.StatusBadRequest, "Campaign is not accepting donations"
	case errors.Is(err, errors.ErrInvalidWebhookPayload):
		return http.StatusBadRequest, "Invalid webhook payload"
	case errors.Is(err, errors.ErrVerificationMismatch):
		return http.StatusConflict, "Payment does not match donation"
	case errors.Is(err, errors.ErrAggregateUpdateConflict):
		return http.StatusConflict, "Settlement conflict, please retry"
	case errors.Is(err, errors.ErrDonationAlreadyExists),
		errors.Is(err, errors.ErrCampaignAlreadyExists),
		errors.Is(err, errors.ErrDuplicateRequest):
		return http.StatusConflict, "Already exists"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func respondDomainError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	respondError(w, status, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
